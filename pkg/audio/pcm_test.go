package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func makeTone(samples int, amplitude int16) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return pcm
}

func TestRMSZeroInput(t *testing.T) {
	if got := RMS(make([]byte, 3200)); got != 0 {
		t.Errorf("RMS of silence = %f, want 0", got)
	}
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS of empty = %f, want 0", got)
	}
}

func TestRMSConstantAmplitude(t *testing.T) {
	pcm := makeTone(1600, 1000)
	got := RMS(pcm)
	if math.Abs(got-1000) > 0.001 {
		t.Errorf("RMS = %f, want 1000", got)
	}
}

func TestRMSNegativeSamples(t *testing.T) {
	// -1000 encoded as two's complement; RMS must be sign-independent.
	pcm := makeTone(800, -1000)
	got := RMS(pcm)
	if math.Abs(got-1000) > 0.001 {
		t.Errorf("RMS = %f, want 1000", got)
	}
}

func TestIsSilent(t *testing.T) {
	quiet := makeTone(1600, 50)
	loud := makeTone(1600, 5000)

	if !IsSilent(quiet, 200) {
		t.Error("amplitude-50 buffer should be silent at threshold 200")
	}
	if IsSilent(loud, 200) {
		t.Error("amplitude-5000 buffer should not be silent at threshold 200")
	}
}

func TestPCMToFloat32(t *testing.T) {
	pcm := make([]byte, 6)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(int16(0)))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(int16(16384)))
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(pcm[4:], uint16(minSample))

	f := PCMToFloat32(pcm)
	want := []float32{0, 0.5, -1.0}
	for i := range want {
		if f[i] != want[i] {
			t.Errorf("sample %d = %f, want %f", i, f[i], want[i])
		}
	}
}

func TestFloat32RoundTrip(t *testing.T) {
	orig := makeTone(400, 12345)
	back := Float32ToPCM(PCMToFloat32(orig))
	if len(back) != len(orig) {
		t.Fatalf("length mismatch: %d vs %d", len(back), len(orig))
	}
	for i := range orig {
		if back[i] != orig[i] {
			t.Fatalf("byte %d differs after round trip", i)
		}
	}
}

func TestDurationMs(t *testing.T) {
	if got := DurationMs(make([]byte, 3200)); got != 100 {
		t.Errorf("3200 bytes = %d ms, want 100", got)
	}
	if got := BytesForMs(100); got != 3200 {
		t.Errorf("100 ms = %d bytes, want 3200", got)
	}
}
