package suggest

import "testing"

func TestAdapterBreakerTripsAfterThreshold(t *testing.T) {
	t.Parallel()

	b := newAdapterBreaker(3)

	if b.recordFailure() {
		t.Fatalf("tripped after 1 failure")
	}
	if b.recordFailure() {
		t.Fatalf("tripped after 2 failures")
	}
	if !b.recordFailure() {
		t.Fatalf("did not trip after 3 consecutive failures")
	}
	if !b.open() {
		t.Fatalf("breaker not open after trip")
	}
	// Tripping again must not re-report.
	if b.recordFailure() {
		t.Fatalf("re-reported trip while already open")
	}
}

func TestAdapterBreakerSuccessResetsCounter(t *testing.T) {
	t.Parallel()

	b := newAdapterBreaker(3)
	b.recordFailure()
	b.recordFailure()
	b.recordSuccess()

	if b.consecutiveFailures() != 0 {
		t.Fatalf("failures = %d after success, want 0", b.consecutiveFailures())
	}
	// Failures must be consecutive to trip.
	b.recordFailure()
	b.recordFailure()
	if b.open() {
		t.Fatalf("breaker open after non-consecutive failures")
	}
}

func TestAdapterBreakerProbeLifecycle(t *testing.T) {
	t.Parallel()

	b := newAdapterBreaker(3)
	for i := 0; i < 3; i++ {
		b.recordFailure()
	}
	if !b.open() {
		t.Fatalf("breaker not open")
	}

	b.beginProbe()
	if b.state != adapterProbing {
		t.Fatalf("state = %v after beginProbe, want probing", b.state)
	}

	// Failed probe goes back to open.
	b.recordFailure()
	if b.state != adapterOpen {
		t.Fatalf("state = %v after failed probe, want open", b.state)
	}

	// Successful probe closes and resets.
	b.beginProbe()
	if !b.recordSuccess() {
		t.Fatalf("recordSuccess did not report close")
	}
	if b.open() || b.consecutiveFailures() != 0 {
		t.Fatalf("breaker not reset after successful probe: state=%v failures=%d", b.state, b.failures)
	}
}

func TestAdapterBreakerResetFailuresKeepsState(t *testing.T) {
	t.Parallel()

	b := newAdapterBreaker(3)
	for i := 0; i < 3; i++ {
		b.recordFailure()
	}
	b.resetFailures()
	if !b.open() {
		t.Fatalf("resetFailures must not close the breaker")
	}
	if b.consecutiveFailures() != 0 {
		t.Fatalf("failures = %d, want 0", b.consecutiveFailures())
	}
}
