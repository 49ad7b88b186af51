package session

import (
	"context"
	"log"
	"sync"
	"time"
)

const (
	analysisDebounce      = 300 * time.Millisecond
	analysisHeartbeat     = 5 * time.Second
	analysisRetryDelay    = 2 * time.Second
	taskAnalysisMinGap    = 10 * time.Second
	recentBlocksWindow    = 30
	recentBlocksOverlap   = 10
	taskAnalysisMaxBlocks = 60
)

// SchedulerConfig wires the scheduler to the analysis work it gates.
type SchedulerConfig struct {
	// BlockCount reports the current size of the block log.
	BlockCount func() int

	// RunSummary executes one summary analysis over the recent window.
	RunSummary func(ctx context.Context) error

	// RunTasks executes one task extraction pass. forced widens the
	// window to the whole block log.
	RunTasks func(ctx context.Context, forced bool) error

	// BufferingMode marks providers that commit via the paragraph buffer
	// or stream; task analysis then runs on every new block instead of
	// waiting out the 10s interval.
	BufferingMode bool

	// Intervals override the defaults in tests.
	Debounce   time.Duration
	Heartbeat  time.Duration
	RetryDelay time.Duration
	TaskGap    time.Duration
}

// Scheduler serializes summary and task analysis: at most one cycle in
// flight, requests arriving mid-cycle coalesce into a single follow-up,
// and a heartbeat guarantees forward progress while recording.
type Scheduler struct {
	cfg SchedulerConfig

	mu                 sync.Mutex
	inFlight           bool
	requested          bool
	taskScanForced     bool
	recording          bool
	lastAnalysisCount  int
	lastTaskCount      int
	lastTaskAt         time.Time
	timer              *time.Timer
	idleWaiters        []chan struct{}

	cancelHeartbeat context.CancelFunc
	loopWG          sync.WaitGroup
}

// NewScheduler creates the scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Debounce == 0 {
		cfg.Debounce = analysisDebounce
	}
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = analysisHeartbeat
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = analysisRetryDelay
	}
	if cfg.TaskGap == 0 {
		cfg.TaskGap = taskAnalysisMinGap
	}
	return &Scheduler{cfg: cfg}
}

// Start marks the session recording and begins the heartbeat.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.recording = true
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancelHeartbeat = cancel

	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(s.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.Schedule(0)
			}
		}
	}()
}

// Stop halts the heartbeat and pending timers. In-flight analysis is not
// canceled; it resolves on its own timeout.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.recording = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	if s.cancelHeartbeat != nil {
		s.cancelHeartbeat()
	}
	s.loopWG.Wait()
}

// Schedule arms a debounced analysis run. While a cycle is in flight the
// request is coalesced into one follow-up.
func (s *Scheduler) Schedule(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		s.requested = true
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.generateAnalysis)
}

// ForceTaskScan queues a task-only pass that ignores the interval gate
// and widens the window to all blocks.
func (s *Scheduler) ForceTaskScan() {
	s.mu.Lock()
	s.taskScanForced = true
	s.mu.Unlock()
	s.Schedule(0)
}

// WaitIdle blocks until no analysis cycle is in flight, or the timeout
// elapses. Returns false on timeout.
func (s *Scheduler) WaitIdle(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.inFlight {
		s.mu.Unlock()
		return true
	}
	waiter := make(chan struct{})
	s.idleWaiters = append(s.idleWaiters, waiter)
	s.mu.Unlock()

	select {
	case <-waiter:
		return true
	case <-time.After(timeout):
		return false
	}
}

// InFlight reports whether a cycle is running. For tests.
func (s *Scheduler) InFlight() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Scheduler) generateAnalysis() {
	s.mu.Lock()
	if s.inFlight {
		s.requested = true
		s.mu.Unlock()
		return
	}

	blockCount := s.cfg.BlockCount()
	forced := s.taskScanForced
	s.taskScanForced = false
	recording := s.recording

	newSummaryBlocks := blockCount - s.lastAnalysisCount
	newTaskBlocks := blockCount - s.lastTaskCount
	elapsed := time.Since(s.lastTaskAt)

	runSummary := newSummaryBlocks > 0 && !(forced && !recording)
	runTasks := forced || (newTaskBlocks > 0 && (s.cfg.BufferingMode || elapsed >= s.cfg.TaskGap))

	if !runSummary && !runTasks {
		s.resolveIdleLocked()
		s.mu.Unlock()
		return
	}

	s.inFlight = true
	s.mu.Unlock()

	// Analysis runs are never canceled by Stop; each callback carries its
	// own timeout and late results are simply the last ones recorded.
	ctx := context.Background()

	failed := false
	if runSummary {
		if err := s.cfg.RunSummary(ctx); err != nil {
			log.Printf("[Scheduler] Summary analysis failed: %v", err)
			failed = true
		} else {
			s.mu.Lock()
			s.lastAnalysisCount = blockCount
			s.mu.Unlock()
		}
	}
	if runTasks {
		if err := s.cfg.RunTasks(ctx, forced); err != nil {
			log.Printf("[Scheduler] Task analysis failed: %v", err)
			failed = true
		} else {
			s.mu.Lock()
			s.lastTaskCount = blockCount
			s.lastTaskAt = time.Now()
			s.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.inFlight = false
	s.resolveIdleLocked()
	requested := s.requested
	s.requested = false
	recording = s.recording
	pendingBlocks := s.cfg.BlockCount() > s.lastAnalysisCount
	s.mu.Unlock()

	switch {
	case recording && (requested || pendingBlocks):
		delay := time.Duration(0)
		if failed {
			delay = s.cfg.RetryDelay
		}
		s.Schedule(delay)
	case !recording && requested:
		// One final pass so a task scan queued around stop completes.
		s.Schedule(0)
	}
}

func (s *Scheduler) resolveIdleLocked() {
	for _, waiter := range s.idleWaiters {
		close(waiter)
	}
	s.idleWaiters = nil
}
