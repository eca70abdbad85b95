package suggest

import "time"

// autoCooldown is the sliding-window breaker for autonomous generations: T
// failures within window W impose a cooldown of duration C. Manual
// generations neither feed nor check it.
//
// Expiry is lazy: it is observed on the next active() call, not by a timer.
// Owned exclusively by the engine loop; the clock is injectable for tests.
type autoCooldown struct {
	window    time.Duration
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	count       int
	windowStart time.Time
	until       time.Time
}

func newAutoCooldown(window time.Duration, threshold int, cooldown time.Duration) *autoCooldown {
	if window <= 0 {
		window = 2 * time.Minute
	}
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &autoCooldown{
		window:    window,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// recordFailure counts one auto-generation failure. Returns true when this
// failure activated the cooldown.
func (c *autoCooldown) recordFailure() bool {
	now := c.now()
	if c.count == 0 || now.Sub(c.windowStart) > c.window {
		c.windowStart = now
		c.count = 1
	} else {
		c.count++
	}
	if c.count >= c.threshold {
		c.until = now.Add(c.cooldown)
		c.count = 0
		c.windowStart = time.Time{}
		return true
	}
	return false
}

// recordSuccess clears all state. Returns true when there was anything to
// clear (so callers can avoid noisy events).
func (c *autoCooldown) recordSuccess() bool {
	if c.count == 0 && c.until.IsZero() {
		return false
	}
	c.count = 0
	c.windowStart = time.Time{}
	c.until = time.Time{}
	return true
}

// active reports whether the cooldown currently blocks auto generation.
// A cooldown observed past its deadline is cleared; expired is true on the
// call that observes the expiry.
func (c *autoCooldown) active() (active bool, expired bool) {
	if c.until.IsZero() {
		return false, false
	}
	if c.now().Before(c.until) {
		return true, false
	}
	c.until = time.Time{}
	return false, true
}

// cooldownUntil exposes the deadline for status reporting (zero when idle).
func (c *autoCooldown) cooldownUntil() time.Time {
	return c.until
}
