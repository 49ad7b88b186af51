package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type schedulerSpy struct {
	mu          sync.Mutex
	blockCount  int
	summaryRuns int
	taskRuns    int
	forcedRuns  int
	concurrent  atomic.Int32
	maxSeen     atomic.Int32
	summaryErr  error
	runDelay    time.Duration
}

func (p *schedulerSpy) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.blockCount
}

func (p *schedulerSpy) addBlocks(n int) {
	p.mu.Lock()
	p.blockCount += n
	p.mu.Unlock()
}

func (p *schedulerSpy) enter() {
	cur := p.concurrent.Add(1)
	for {
		max := p.maxSeen.Load()
		if cur <= max || p.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if p.runDelay > 0 {
		time.Sleep(p.runDelay)
	}
}

func (p *schedulerSpy) runSummary(context.Context) error {
	p.enter()
	defer p.concurrent.Add(-1)
	p.mu.Lock()
	p.summaryRuns++
	err := p.summaryErr
	p.mu.Unlock()
	return err
}

func (p *schedulerSpy) runTasks(_ context.Context, forced bool) error {
	p.enter()
	defer p.concurrent.Add(-1)
	p.mu.Lock()
	p.taskRuns++
	if forced {
		p.forcedRuns++
	}
	p.mu.Unlock()
	return nil
}

func (p *schedulerSpy) stats() (summary, tasks, forced int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.summaryRuns, p.taskRuns, p.forcedRuns
}

func newTestScheduler(p *schedulerSpy, buffering bool) *Scheduler {
	return NewScheduler(SchedulerConfig{
		BlockCount:    p.count,
		RunSummary:    p.runSummary,
		RunTasks:      p.runTasks,
		BufferingMode: buffering,
		Debounce:      5 * time.Millisecond,
		Heartbeat:     30 * time.Millisecond,
		RetryDelay:    20 * time.Millisecond,
		TaskGap:       50 * time.Millisecond,
	})
}

func TestSchedulerRunsOnNewBlocks(t *testing.T) {
	spy := &schedulerSpy{}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	defer s.Stop()

	spy.addBlocks(2)
	s.Schedule(0)

	require.Eventually(t, func() bool {
		summary, tasks, _ := spy.stats()
		return summary >= 1 && tasks >= 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerNoWorkNoRun(t *testing.T) {
	spy := &schedulerSpy{}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())

	s.Schedule(0)
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	summary, tasks, _ := spy.stats()
	assert.Zero(t, summary)
	assert.Zero(t, tasks)
}

func TestSchedulerSingleFlight(t *testing.T) {
	spy := &schedulerSpy{runDelay: 30 * time.Millisecond}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	defer s.Stop()

	spy.addBlocks(1)
	for i := 0; i < 10; i++ {
		s.Schedule(0)
		spy.addBlocks(1)
	}

	require.Eventually(t, func() bool {
		return !s.InFlight() && spy.count() > 0
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), spy.maxSeen.Load(), "analysis cycles overlapped")
}

func TestSchedulerHeartbeatDrivesProgress(t *testing.T) {
	spy := &schedulerSpy{}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	defer s.Stop()

	// No explicit Schedule call: the heartbeat must pick the blocks up.
	spy.addBlocks(3)

	require.Eventually(t, func() bool {
		summary, _, _ := spy.stats()
		return summary >= 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerRetriesAfterFailure(t *testing.T) {
	spy := &schedulerSpy{summaryErr: fmt.Errorf("model down")}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	defer s.Stop()

	spy.addBlocks(1)
	s.Schedule(0)

	require.Eventually(t, func() bool {
		summary, _, _ := spy.stats()
		return summary >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerForcedScanAfterStop(t *testing.T) {
	spy := &schedulerSpy{}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	spy.addBlocks(4)

	require.Eventually(t, func() bool {
		summary, _, _ := spy.stats()
		return summary >= 1
	}, 2*time.Second, 10*time.Millisecond)

	s.Stop()
	s.ForceTaskScan()

	require.Eventually(t, func() bool {
		_, _, forced := spy.stats()
		return forced >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// Forced scan while stopped must not rerun the summary.
	summaryBefore, _, _ := spy.stats()
	time.Sleep(100 * time.Millisecond)
	summaryAfter, _, _ := spy.stats()
	assert.Equal(t, summaryBefore, summaryAfter)
}

func TestSchedulerWaitIdle(t *testing.T) {
	spy := &schedulerSpy{runDelay: 50 * time.Millisecond}
	s := newTestScheduler(spy, true)
	s.Start(context.Background())
	defer s.Stop()

	spy.addBlocks(1)
	s.Schedule(0)

	require.Eventually(t, s.InFlight, time.Second, time.Millisecond)
	assert.True(t, s.WaitIdle(2*time.Second))
	assert.False(t, s.InFlight())
}
