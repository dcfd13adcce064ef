package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestInFlightTracker_CountAndWait(t *testing.T) {
	tracker := &InFlightTracker{}

	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}

	tracker.Increment()
	tracker.Increment()
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}

	tracker.Decrement()
	if got := tracker.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}

	tracker.Decrement()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = tracker.WaitForZero(ctx, 5*time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tracker.Decrement()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tracker.WaitForZero(ctx, 5*time.Millisecond)
	if err == nil {
		t.Error("WaitForZero expected context error, got nil")
	}
}

func TestMetricsMiddleware_TracksInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
		close(done)
	}()
	<-entered
	if got := InFlightCount(); got < 1 {
		t.Errorf("InFlightCount() = %d while request is being served, want >= 1", got)
	}
	close(release)
	<-done

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := WaitForInFlight(ctx, 5*time.Millisecond); err != nil {
		t.Errorf("WaitForInFlight() error = %v, want nil after request finished", err)
	}
}
