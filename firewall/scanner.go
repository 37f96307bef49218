package firewall

// ScanMatch is one pattern hit reported by a PayloadScanner.
type ScanMatch struct {
	Pattern string
	Offset  int
}

// PayloadScanner is a multi-pattern matcher over raw payload bytes. The
// binding to a native matching library lives outside this core; payload
// analyzers consume it through this interface only.
type PayloadScanner interface {
	Scan(data []byte) ([]ScanMatch, error)
}
