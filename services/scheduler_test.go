package services

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestScheduler(t *testing.T, grabber FrameGrabber, intervalSec int) (*Scheduler, *SettingsStore, *fakeGrabber) {
	t.Helper()
	fg, _ := grabber.(*fakeGrabber)
	a, settings, _ := newTestAcquirer(t, grabber)
	settings.Update(CaptureOverrides{IntervalSec: &intervalSec})
	return NewScheduler(settings, a, zap.NewNop()), settings, fg
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeGrabber{}, 0)

	if !s.Start() {
		t.Fatal("first Start() = false, want true")
	}
	defer s.StopWait(2 * time.Second)

	if s.Start() {
		t.Error("second Start() = true, want false while loop is live")
	}
	if !s.Running() {
		t.Error("Running() = false after Start")
	}
}

func TestScheduler_StopEndsLoop(t *testing.T) {
	s, settings, _ := newTestScheduler(t, &fakeGrabber{}, 0)

	s.Start()
	if !s.StopWait(2 * time.Second) {
		t.Fatal("loop did not stop within the timeout")
	}
	if s.Running() {
		t.Error("Running() = true after stop")
	}
	if settings.Snapshot().Running {
		t.Error("settings running flag still true after stop")
	}

	// A stopped scheduler can be started again.
	if !s.Start() {
		t.Error("restart after stop failed")
	}
	s.StopWait(2 * time.Second)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s, _, _ := newTestScheduler(t, &fakeGrabber{}, 0)

	if !s.Stop() {
		t.Error("Stop() on an idle scheduler = false, want true")
	}
	if !s.StopWait(time.Second) {
		t.Error("StopWait() on an idle scheduler = false, want true")
	}
}

func TestScheduler_CapturesPeriodically(t *testing.T) {
	grabber := &fakeGrabber{
		frame:     testJPEG(t),
		succeedOn: func(string, Transport) bool { return true },
	}
	s, _, _ := newTestScheduler(t, grabber, 1)

	s.Start()
	defer s.StopWait(2 * time.Second)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if len(grabber.callLog()) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no capture observed from the running loop")
}

func TestScheduler_NonPositiveIntervalPausesCapturing(t *testing.T) {
	grabber := &fakeGrabber{
		frame:     testJPEG(t),
		succeedOn: func(string, Transport) bool { return true },
	}
	s, _, _ := newTestScheduler(t, grabber, 0)

	s.Start()
	time.Sleep(100 * time.Millisecond)
	s.StopWait(2 * time.Second)

	if n := len(grabber.callLog()); n != 0 {
		t.Errorf("grab calls = %d, want 0 while interval <= 0", n)
	}
}
