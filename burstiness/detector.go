package burstiness

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/TheRealMkadmi/citadel/firewall"
	"github.com/TheRealMkadmi/citadel/store"
)

// AnalyzerID is the stable identifier the detector reports to the engine.
const AnalyzerID = "burstiness"

// Config carries every tunable of the detector. All scoring happens against
// these values only; nothing is read from ambient state.
type Config struct {
	// WindowSize is the sliding window over request timestamps, and
	// MaxRequestsPerWindow the count above which the excess rule fires.
	WindowSize           time.Duration
	MaxRequestsPerWindow int

	// Excess rule: excess requests score ExcessMultiplier each, capped at
	// MaxExcessScore.
	ExcessMultiplier float64
	MaxExcessScore   float64

	// Minimum-interval rule: a gap between the two most recent requests
	// below MinInterval adds a flat BurstPenaltyScore.
	MinInterval       time.Duration
	BurstPenaltyScore float64

	// Regularity rule: once MinSamplesForPattern timestamps exist, the
	// coefficient of variation of the inter-arrival intervals over the most
	// recent PatternHistorySize requests is compared against the thresholds.
	MinSamplesForPattern     int
	PatternHistorySize       int
	VeryRegularThreshold     float64
	VeryRegularScore         float64
	SomewhatRegularThreshold float64
	SomewhatRegularScore     float64
	PatternMultiplier        float64
	MaxPatternScore          float64

	// Violation history decays on its own TTL of
	// WindowSize * HistoryTTLMultiplier, independent of the live window.
	HistoryTTLMultiplier float64
	WeightPerViolation   float64
	MaxViolationScore    float64

	// MaxFrequencyScore clamps the detector's total.
	MaxFrequencyScore float64

	KeyPrefix string
}

// DefaultConfig returns production-shaped weights and windows.
func DefaultConfig() Config {
	return Config{
		WindowSize:           time.Minute,
		MaxRequestsPerWindow: 30,
		ExcessMultiplier:     10,
		MaxExcessScore:       40,
		MinInterval:          100 * time.Millisecond,
		BurstPenaltyScore:    20,

		MinSamplesForPattern:     6,
		PatternHistorySize:       10,
		VeryRegularThreshold:     0.1,
		VeryRegularScore:         30,
		SomewhatRegularThreshold: 0.25,
		SomewhatRegularScore:     15,
		PatternMultiplier:        5,
		MaxPatternScore:          20,

		HistoryTTLMultiplier: 12,
		WeightPerViolation:   10,
		MaxViolationScore:    50,

		MaxFrequencyScore: 100,

		KeyPrefix: "citadel",
	}
}

// Detector scores how bursty and machine-like an identity's request timing
// looks. State per identity is one ordered set of timestamps plus a decaying
// violation counter, both in the keyed store, so concurrent calls for
// different identities never contend.
type Detector struct {
	logger zerolog.Logger
	store  store.Store
	config Config
	now    func() time.Time
}

// New creates a burstiness detector over the given store.
func New(logger zerolog.Logger, st store.Store, config Config) *Detector {
	return &Detector{
		logger: logger,
		store:  st,
		config: config,
		now:    time.Now,
	}
}

// Identifier implements firewall.Analyzer.
func (d *Detector) Identifier() string { return AnalyzerID }

// RequiresBody implements firewall.Analyzer.
func (d *Detector) RequiresBody() bool { return false }

// UsesExternalResources implements firewall.Analyzer.
func (d *Detector) UsesExternalResources() bool { return false }

// Analyze records the request's timestamp in the identity's window and
// returns the suspicion score for the stream so far.
func (d *Detector) Analyze(ctx context.Context, req firewall.Request) (float64, error) {
	identity := firewall.NormalizeIdentity(req.Identity())
	if identity == "" {
		return 0, fmt.Errorf("burstiness: empty identity")
	}

	cfg := d.config
	now := d.now()
	nowMs := now.UnixMilli()
	windowMs := cfg.WindowSize.Milliseconds()

	setKey := cfg.KeyPrefix + ":burst:" + identity
	historyKey := cfg.KeyPrefix + ":burst:history:" + identity

	// Prune everything that slid out of the window, then record this request.
	// The member carries a unique token so simultaneous requests with the
	// same timestamp never collide.
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()
	results, err := d.store.Batch(ctx, []store.Op{
		{Kind: store.OpZRemoveByScoreRange, Key: setKey, Min: math.Inf(-1), Max: float64(nowMs - windowMs - 1)},
		{Kind: store.OpZAdd, Key: setKey, Score: float64(nowMs), Member: member, TTL: 2 * cfg.WindowSize},
		{Kind: store.OpZCard, Key: setKey},
	})
	if err != nil {
		return 0, err
	}
	for _, r := range results {
		if r.Err != nil {
			return 0, r.Err
		}
	}
	count := int(results[2].Count)

	// Bound the stored window against floods. Scoring for this request uses
	// the pre-trim count; by the time trimming kicks in the excess rule is
	// already saturated.
	keep := int64(cfg.MaxRequestsPerWindow)
	if int64(cfg.PatternHistorySize) > keep {
		keep = int64(cfg.PatternHistorySize)
	}
	keep *= 2
	if int64(count) > keep {
		if _, err := d.store.ZRemoveByRankRange(ctx, setKey, 0, int64(count)-keep-1); err != nil {
			return 0, err
		}
	}

	// The window TTL may not survive a batch on every backend; reapply it.
	if _, err := d.store.Expire(ctx, setKey, 2*cfg.WindowSize); err != nil {
		return 0, err
	}

	var total float64
	fired := false

	if excess := count - cfg.MaxRequestsPerWindow; excess > 0 {
		total += math.Min(float64(excess)*cfg.ExcessMultiplier, cfg.MaxExcessScore)
		fired = true
	}

	recent, err := d.store.ZRangeWithScores(ctx, setKey, int64(-cfg.PatternHistorySize), -1)
	if err != nil {
		return 0, err
	}

	if gap, ok := latestGap(recent); ok && gap < float64(cfg.MinInterval.Milliseconds()) {
		total += cfg.BurstPenaltyScore
		fired = true
	}

	violations, err := d.violationCount(ctx, historyKey)
	if err != nil {
		return 0, err
	}

	if count >= cfg.MinSamplesForPattern && len(recent) >= 3 {
		cv := variationCoefficient(intervals(recent))
		switch {
		case cv < cfg.VeryRegularThreshold:
			total += cfg.VeryRegularScore
			fired = true
		case cv < cfg.SomewhatRegularThreshold:
			total += cfg.SomewhatRegularScore
			fired = true
		}
		total += math.Min(float64(violations)*cfg.PatternMultiplier, cfg.MaxPatternScore)
	}

	if fired {
		violations++
		historyTTL := time.Duration(float64(cfg.WindowSize) * cfg.HistoryTTLMultiplier)
		if err := d.store.Set(ctx, historyKey, strconv.Itoa(violations), historyTTL); err != nil {
			return 0, err
		}
	}
	// Decayed history contributes independently of the live window.
	total += math.Min(float64(violations)*cfg.WeightPerViolation, cfg.MaxViolationScore)

	score := math.Min(total, cfg.MaxFrequencyScore)
	if score > 0 {
		d.logger.Debug().Str("identity", identity).Int("count", count).Int("violations", violations).Float64("score", score).Msg("burstiness scored")
	}
	return score, nil
}

func (d *Detector) violationCount(ctx context.Context, historyKey string) (int, error) {
	value, found, err := d.store.Get(ctx, historyKey)
	if err != nil || !found {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// latestGap returns the interval in ms between the two most recent
// timestamps. Negative gaps from clock skew clamp to zero.
func latestGap(recent []store.Member) (float64, bool) {
	if len(recent) < 2 {
		return 0, false
	}
	gap := recent[len(recent)-1].Score - recent[len(recent)-2].Score
	if gap < 0 {
		gap = 0
	}
	return gap, true
}

// intervals computes the inter-arrival gaps of an ascending timestamp slice,
// clamping negatives from clock skew to zero.
func intervals(recent []store.Member) []float64 {
	if len(recent) < 2 {
		return nil
	}
	gaps := make([]float64, 0, len(recent)-1)
	for i := 1; i < len(recent); i++ {
		gap := recent[i].Score - recent[i-1].Score
		if gap < 0 {
			gap = 0
		}
		gaps = append(gaps, gap)
	}
	return gaps
}

// variationCoefficient is stddev/mean, the scale-free regularity measure: a
// scripted client ticking on a fixed interval scores near zero regardless of
// how fast it ticks.
func variationCoefficient(gaps []float64) float64 {
	if len(gaps) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for _, g := range gaps {
		sum += g
	}
	mean := sum / float64(len(gaps))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, g := range gaps {
		sq += (g - mean) * (g - mean)
	}
	return math.Sqrt(sq/float64(len(gaps))) / mean
}
