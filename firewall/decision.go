package firewall

// Decision is the firewall's response to a request.
type Decision struct {
	// Allow is the terminal outcome; false means the request must be blocked.
	Allow bool

	// Banned is set when the request was blocked by a ban hit, in which case
	// no analyzers ran and the score fields are zero.
	Banned bool

	// TotalScore is the sum of all analyzer scores.
	TotalScore float64

	// MaxScore is the highest single analyzer score, and
	// TriggeringAnalyzer the analyzer that produced it.
	MaxScore           float64
	TriggeringAnalyzer string

	// Scores holds the per-analyzer breakdown.
	Scores map[string]float64

	// Warned is set when the request was allowed but crossed the warning
	// threshold; callers should surface the breakdown for alerting.
	Warned bool
}
