package fusion

// TimedOut reports whether more than threshold microseconds have passed
// between last and now. A zero last timestamp means "never" and always
// counts as timed out.
func TimedOut(last, threshold, now uint64) bool {
	return last == 0 || last+threshold < now
}

// Elapsed reports whether at least threshold microseconds have passed
// between last and now. A zero last timestamp counts as elapsed; a clock
// behind last does not.
func Elapsed(last, threshold, now uint64) bool {
	return last == 0 || (now >= last && now-last >= threshold)
}
