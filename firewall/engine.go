package firewall

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TheRealMkadmi/citadel/store"
)

// BanChecker answers whether a request identifier is currently banned.
type BanChecker interface {
	IsIPBanned(ctx context.Context, ip string) (bool, error)
	IsFingerprintBanned(ctx context.Context, fingerprint string) (bool, error)
}

// Banner writes a ban for an identity. The implementation decides whether the
// identity is an IP or a fingerprint.
type Banner interface {
	AutoBan(ctx context.Context, identity string, ttl time.Duration, reason string) error
}

// EngineConfig carries every tunable of the risk engine. Values are passed in
// explicitly; algorithms never read ambient state.
type EngineConfig struct {
	// Threshold blocks a request when either the total score or any single
	// analyzer score reaches it.
	Threshold float64

	// WarningThreshold surfaces a breakdown on allowed requests that cross
	// it. Zero disables the warning path.
	WarningThreshold float64

	// CacheTTL bounds how long a positive analyzer score is reused for the
	// same identity without re-running the analyzer.
	CacheTTL       time.Duration
	CacheKeyPrefix string

	// EnableExternalAnalyzers globally switches analyzers that declare
	// UsesExternalResources.
	EnableExternalAnalyzers bool

	// AutoBan writes a ban for the identity whenever a request is blocked by
	// score, so later requests short-circuit at the ban check.
	AutoBan       bool
	AutoBanTTL    time.Duration
	AutoBanReason string

	// FailOpen controls the decision when the backing store is unavailable:
	// true treats missing data as "not suspicious" and allows, false blocks.
	FailOpen bool

	// MaxConcurrentAnalyzers bounds analyzer fan-out per request. Zero means
	// no bound.
	MaxConcurrentAnalyzers int
}

// Engine is the top level interface to the firewall core.
type Engine interface {
	EvalRequest(ctx context.Context, req Request) (Decision, error)
}

type engineImpl struct {
	logger        zerolog.Logger
	store         store.Store
	banChecker    BanChecker
	banner        Banner
	resultsLogger ResultsLogger
	analyzers     []Analyzer
	config        EngineConfig
}

// NewEngine creates a risk engine over the given collaborators. banner may be
// nil when auto-ban is disabled.
func NewEngine(logger zerolog.Logger, st store.Store, bc BanChecker, banner Banner, rl ResultsLogger, analyzers []Analyzer, config EngineConfig) (Engine, error) {
	if st == nil {
		return nil, errors.New("firewall engine needs a store")
	}
	if bc == nil {
		return nil, errors.New("firewall engine needs a ban checker")
	}
	if rl == nil {
		return nil, errors.New("firewall engine needs a results logger")
	}
	if config.AutoBan && banner == nil {
		return nil, errors.New("auto-ban enabled but no banner given")
	}

	return &engineImpl{
		logger:        logger,
		store:         st,
		banChecker:    bc,
		banner:        banner,
		resultsLogger: rl,
		analyzers:     analyzers,
		config:        config,
	}, nil
}

func (e *engineImpl) EvalRequest(ctx context.Context, req Request) (decision Decision, err error) {
	logger := e.logger.With().Str("txid", req.TransactionID()).Logger()

	logger.Info().Str("uri", req.URI()).Msg("firewall got request")
	startTime := time.Now()
	defer func() {
		logger.Info().Dur("timeTaken", time.Since(startTime)).Str("uri", req.URI()).Bool("allow", decision.Allow).Msg("firewall completed request")
	}()

	identity := NormalizeIdentity(req.Identity())

	banned, err := e.checkBans(ctx, identity, req.RemoteAddr())
	if err != nil {
		if e.config.FailOpen {
			logger.Warn().Err(err).Msg("ban check backend unavailable, failing open")
			err = nil
		} else {
			logger.Warn().Err(err).Msg("ban check backend unavailable, failing closed")
			decision = Decision{Allow: false, Banned: true}
			e.resultsLogger.RequestBlocked(req, decision)
			return decision, nil
		}
	}
	if banned {
		decision = Decision{Allow: false, Banned: true}
		e.resultsLogger.RequestBlocked(req, decision)
		return
	}

	selected := e.selectAnalyzers(req)
	scores := e.runAnalyzers(ctx, logger, identity, req, selected)

	decision.Scores = make(map[string]float64, len(selected))
	for i, a := range selected {
		id := a.Identifier()
		decision.Scores[id] = scores[i]
		decision.TotalScore += scores[i]
		if scores[i] > decision.MaxScore {
			decision.MaxScore = scores[i]
			decision.TriggeringAnalyzer = id
		}
	}

	// A single very suspicious analyzer blocks on its own; agreement across
	// analyzers is not required.
	decision.Allow = decision.TotalScore < e.config.Threshold && decision.MaxScore < e.config.Threshold

	if !decision.Allow {
		e.resultsLogger.RequestBlocked(req, decision)
		if e.config.AutoBan {
			if banErr := e.banner.AutoBan(ctx, identity, e.config.AutoBanTTL, e.config.AutoBanReason); banErr != nil {
				logger.Error().Err(banErr).Str("identity", identity).Msg("auto-ban write failed")
			} else {
				e.resultsLogger.AutoBanned(req, decision)
			}
		}
		return
	}

	if e.config.WarningThreshold > 0 &&
		(decision.TotalScore >= e.config.WarningThreshold || decision.MaxScore >= e.config.WarningThreshold) {
		decision.Warned = true
		e.resultsLogger.RequestWarned(req, decision)
	}

	return
}

func (e *engineImpl) checkBans(ctx context.Context, identity string, remoteAddr string) (banned bool, err error) {
	if remoteAddr != "" {
		banned, err = e.banChecker.IsIPBanned(ctx, remoteAddr)
		if err != nil || banned {
			return
		}
	}

	// Fingerprint bans live in a flat registry; an identity that is really an
	// IP simply misses here.
	banned, err = e.banChecker.IsFingerprintBanned(ctx, identity)
	return
}

func (e *engineImpl) selectAnalyzers(req Request) (selected []Analyzer) {
	for _, a := range e.analyzers {
		if a.RequiresBody() && !req.HasBody() {
			continue
		}
		if a.UsesExternalResources() && !e.config.EnableExternalAnalyzers {
			continue
		}
		selected = append(selected, a)
	}
	return
}

// runAnalyzers executes the selected analyzers concurrently, consulting the
// per-(identity, analyzer) score cache first. One analyzer's fault never
// aborts the others: faults are logged and scored 0.
func (e *engineImpl) runAnalyzers(ctx context.Context, logger zerolog.Logger, identity string, req Request, selected []Analyzer) []float64 {
	scores := make([]float64, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	if e.config.MaxConcurrentAnalyzers > 0 {
		g.SetLimit(e.config.MaxConcurrentAnalyzers)
	}

	for i, a := range selected {
		i, a := i, a
		g.Go(func() error {
			id := a.Identifier()
			cacheKey := e.config.CacheKeyPrefix + ":score:" + identity + ":" + id

			cached, found, cacheErr := e.store.Get(gctx, cacheKey)
			if cacheErr != nil {
				logger.Warn().Err(cacheErr).Str("analyzer", id).Msg("score cache read failed, treating as miss")
			} else if found {
				if score, parseErr := strconv.ParseFloat(cached, 64); parseErr == nil {
					scores[i] = score
					return nil
				}
			}

			score, analyzeErr := a.Analyze(gctx, req)
			if analyzeErr != nil {
				logger.Warn().Err(analyzeErr).Str("analyzer", id).Str("identity", identity).Msg("analyzer fault, scoring 0")
				e.resultsLogger.AnalyzerFault(req, id, analyzeErr)
				return nil
			}
			scores[i] = score

			if score > 0 {
				value := strconv.FormatFloat(score, 'f', -1, 64)
				if setErr := e.store.Set(gctx, cacheKey, value, e.config.CacheTTL); setErr != nil {
					logger.Warn().Err(setErr).Str("analyzer", id).Msg("score cache write failed")
				}
			}
			return nil
		})
	}

	// Goroutines never return errors; faults are handled in place.
	g.Wait()

	return scores
}
