package firewall

import "context"

// Analyzer computes a suspicion score for a request. Implementations must be
// safe for concurrent use; one evaluation may run many analyzers in parallel.
type Analyzer interface {
	// Identifier returns a stable id used for score caching and logging.
	Identifier() string

	// RequiresBody reports whether the analyzer needs the request body. The
	// engine skips it for body-less requests.
	RequiresBody() bool

	// UsesExternalResources reports whether the analyzer performs network
	// calls of its own. Such analyzers can be disabled globally.
	UsesExternalResources() bool

	// Analyze returns a suspicion score >= 0 for the request. An error is
	// treated by the engine as a score of 0 for this analyzer only.
	Analyze(ctx context.Context, req Request) (float64, error)
}
