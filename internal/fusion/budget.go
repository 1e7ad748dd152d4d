package fusion

// DefaultResetBudget is the number of failure resets a freshly activated
// source may trigger while airborne.
const DefaultResetBudget = 5

// ResetBudget bounds how many heading resets a source may trigger before it
// is treated as exhausted. It is re-armed on every fresh activation and only
// consumed while airborne; resets on the ground are free.
type ResetBudget struct {
	remaining int
}

// Arm sets the budget to n (negative values arm to zero).
func (b *ResetBudget) Arm(n int) {
	if n < 0 {
		n = 0
	}
	b.remaining = n
}

// Disarm drops the budget to zero.
func (b *ResetBudget) Disarm() {
	b.remaining = 0
}

// Available reports whether at least one reset may still be triggered.
func (b *ResetBudget) Available() bool {
	return b.remaining > 0
}

// Remaining returns the number of resets left.
func (b *ResetBudget) Remaining() int {
	return b.remaining
}

// Consume spends one unit if airborne. An exhausted budget is left at zero.
func (b *ResetBudget) Consume(inAir bool) {
	if inAir && b.remaining > 0 {
		b.remaining--
	}
}
