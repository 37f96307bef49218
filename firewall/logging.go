package firewall

// ResultsLogger is where the engine writes the high level, operator facing
// results of request evaluations.
type ResultsLogger interface {
	RequestBlocked(req Request, decision Decision)
	RequestWarned(req Request, decision Decision)
	AnalyzerFault(req Request, analyzerID string, err error)
	AutoBanned(req Request, decision Decision)
}
