package exam

// countdown tracks a monotonically decreasing per-second timer.
// Invariant: 0 <= remaining <= total.
type countdown struct {
	remaining int
	total     int
}

// reset arms the countdown with a fresh duration in seconds.
func (c *countdown) reset(seconds int) {
	c.remaining = seconds
	c.total = seconds
}

// clear disarms the countdown.
func (c *countdown) clear() {
	c.remaining = 0
	c.total = 0
}

// tick decrements by one second. It returns true exactly once, on the tick
// that reaches zero; further ticks are no-ops and never go negative.
func (c *countdown) tick() bool {
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return c.remaining == 0
}
