package logging

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/firewall"
)

// NewZerologResultsLogger creates a results logger that writes operator
// facing decision entries through zerolog.
func NewZerologResultsLogger(logger zerolog.Logger) firewall.ResultsLogger {
	return &zerologResultsLogger{logger: logger}
}

type zerologResultsLogger struct {
	logger zerolog.Logger
}

type decisionLogEntry struct {
	RequestURI         string             `json:"requestUri"`
	Identity           string             `json:"identity"`
	RemoteAddr         string             `json:"remoteAddr"`
	Action             string             `json:"action"`
	Banned             bool               `json:"banned,omitempty"`
	TotalScore         float64            `json:"totalScore"`
	MaxScore           float64            `json:"maxScore"`
	TriggeringAnalyzer string             `json:"triggeringAnalyzer,omitempty"`
	Scores             map[string]float64 `json:"scores,omitempty"`
}

func (l *zerologResultsLogger) RequestBlocked(req firewall.Request, decision firewall.Decision) {
	l.write(req, decision, "Blocked")
}

func (l *zerologResultsLogger) RequestWarned(req firewall.Request, decision firewall.Decision) {
	l.write(req, decision, "Warned")
}

func (l *zerologResultsLogger) AutoBanned(req firewall.Request, decision firewall.Decision) {
	l.write(req, decision, "AutoBanned")
}

func (l *zerologResultsLogger) AnalyzerFault(req firewall.Request, analyzerID string, err error) {
	l.logger.Error().Err(err).Str("txid", req.TransactionID()).Str("analyzer", analyzerID).Str("identity", req.Identity()).Msg("analyzer fault")
}

func (l *zerologResultsLogger) write(req firewall.Request, decision firewall.Decision, action string) {
	entry := &decisionLogEntry{
		RequestURI:         req.URI(),
		Identity:           req.Identity(),
		RemoteAddr:         req.RemoteAddr(),
		Action:             action,
		Banned:             decision.Banned,
		TotalScore:         decision.TotalScore,
		MaxScore:           decision.MaxScore,
		TriggeringAnalyzer: decision.TriggeringAnalyzer,
		Scores:             decision.Scores,
	}

	bb, err := json.Marshal(entry)
	if err != nil {
		l.logger.Error().Err(err).Msg("Error while marshaling JSON results log")
		return
	}

	l.logger.Info().Str("txid", req.TransactionID()).Msgf("Firewall results log: %s", bb)
}
