package suggest

// adapterState is the adapter breaker's position.
type adapterState int

const (
	adapterClosed adapterState = iota
	adapterOpen
	adapterProbing
)

func (s adapterState) String() string {
	switch s {
	case adapterClosed:
		return "closed"
	case adapterOpen:
		return "open"
	case adapterProbing:
		return "probing"
	default:
		return "unknown"
	}
}

// adapterBreaker guards the page integration: consecutive integration
// failures open it, which suppresses automatic triggers until a timed health
// probe succeeds. Manual triggers are never blocked by it.
//
// The breaker is pure state; the engine loop owns it exclusively and drives
// the probe timer, so no locking happens here.
type adapterBreaker struct {
	threshold int
	failures  int
	state     adapterState
}

func newAdapterBreaker(threshold int) *adapterBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &adapterBreaker{threshold: threshold}
}

func (b *adapterBreaker) open() bool {
	return b.state != adapterClosed
}

func (b *adapterBreaker) consecutiveFailures() int {
	return b.failures
}

// recordFailure counts one integration failure. Returns true when this
// failure tripped the breaker open.
func (b *adapterBreaker) recordFailure() bool {
	b.failures++
	if b.state == adapterClosed && b.failures >= b.threshold {
		b.state = adapterOpen
		return true
	}
	if b.state == adapterProbing {
		b.state = adapterOpen
	}
	return false
}

// recordSuccess resets the failure count. It closes the breaker as well: a
// generation that resolved context end to end proves the integration works.
func (b *adapterBreaker) recordSuccess() (closed bool) {
	b.failures = 0
	if b.state != adapterClosed {
		b.state = adapterClosed
		return true
	}
	return false
}

// beginProbe marks the single in-flight recovery probe.
func (b *adapterBreaker) beginProbe() {
	if b.state == adapterOpen {
		b.state = adapterProbing
	}
}

// resetFailures clears the counter without touching the state. Used on
// conversation change: the new page may be healthy, the settle probe decides.
func (b *adapterBreaker) resetFailures() {
	b.failures = 0
}
