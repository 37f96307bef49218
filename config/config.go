package config

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/TheRealMkadmi/citadel/burstiness"
	"github.com/TheRealMkadmi/citadel/firewall"
)

// Main is the top level configuration. Durations are plain milliseconds so
// config files stay backend-agnostic.
type Main struct {
	Server     Server     `yaml:"server"`
	Store      Store      `yaml:"store"`
	Engine     Engine     `yaml:"engine"`
	Burstiness Burstiness `yaml:"burstiness"`
	Ban        Ban        `yaml:"ban"`
}

// Server configures the HTTP surfaces.
type Server struct {
	Addr              string `yaml:"addr"`
	AdminAddr         string `yaml:"adminAddr"`
	FingerprintHeader string `yaml:"fingerprintHeader"`
}

// Store selects and configures the keyed store backend.
type Store struct {
	// Backend is "memory" or "redis".
	Backend string `yaml:"backend"`
	Redis   Redis  `yaml:"redis"`
}

// Redis carries connection settings for the redis backend.
type Redis struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	PoolSize       int    `yaml:"poolSize"`
	DialTimeoutMs  int64  `yaml:"dialTimeoutMs"`
	ReadTimeoutMs  int64  `yaml:"readTimeoutMs"`
	WriteTimeoutMs int64  `yaml:"writeTimeoutMs"`
}

// Engine configures the risk engine.
type Engine struct {
	Threshold               float64 `yaml:"threshold"`
	WarningThreshold        float64 `yaml:"warningThreshold"`
	CacheTTLMs              int64   `yaml:"cacheTtlMs"`
	KeyPrefix               string  `yaml:"keyPrefix"`
	EnableExternalAnalyzers bool    `yaml:"enableExternalAnalyzers"`
	AutoBan                 bool    `yaml:"autoBan"`
	AutoBanTTLMs            int64   `yaml:"autoBanTtlMs"`
	AutoBanReason           string  `yaml:"autoBanReason"`
	FailOpen                bool    `yaml:"failOpen"`
	MaxConcurrentAnalyzers  int     `yaml:"maxConcurrentAnalyzers"`
}

// Burstiness configures the burstiness detector.
type Burstiness struct {
	WindowSizeMs             int64   `yaml:"windowSizeMs"`
	MaxRequestsPerWindow     int     `yaml:"maxRequestsPerWindow"`
	ExcessMultiplier         float64 `yaml:"excessMultiplier"`
	MaxExcessScore           float64 `yaml:"maxExcessScore"`
	MinIntervalMs            int64   `yaml:"minIntervalMs"`
	BurstPenaltyScore        float64 `yaml:"burstPenaltyScore"`
	MinSamplesForPattern     int     `yaml:"minSamplesForPattern"`
	PatternHistorySize       int     `yaml:"patternHistorySize"`
	VeryRegularThreshold     float64 `yaml:"veryRegularThreshold"`
	VeryRegularScore         float64 `yaml:"veryRegularScore"`
	SomewhatRegularThreshold float64 `yaml:"somewhatRegularThreshold"`
	SomewhatRegularScore     float64 `yaml:"somewhatRegularScore"`
	PatternMultiplier        float64 `yaml:"patternMultiplier"`
	MaxPatternScore          float64 `yaml:"maxPatternScore"`
	HistoryTTLMultiplier     float64 `yaml:"historyTtlMultiplier"`
	WeightPerViolation       float64 `yaml:"weightPerViolation"`
	MaxViolationScore        float64 `yaml:"maxViolationScore"`
	MaxFrequencyScore        float64 `yaml:"maxFrequencyScore"`
}

// Ban configures the ban registry and trie.
type Ban struct {
	KeyPrefix  string   `yaml:"keyPrefix"`
	TriePrefix string   `yaml:"triePrefix"`
	SeedRanges []string `yaml:"seedRanges"`
}

// Default returns the configuration the server runs with when no file is
// given.
func Default() Main {
	bd := burstiness.DefaultConfig()

	return Main{
		Server: Server{
			Addr:              ":8080",
			AdminAddr:         ":8081",
			FingerprintHeader: "X-Client-Fingerprint",
		},
		Store: Store{
			Backend: "memory",
			Redis: Redis{
				Addr:           "127.0.0.1:6379",
				PoolSize:       10,
				DialTimeoutMs:  1000,
				ReadTimeoutMs:  250,
				WriteTimeoutMs: 250,
			},
		},
		Engine: Engine{
			Threshold:        100,
			WarningThreshold: 60,
			CacheTTLMs:       (30 * time.Second).Milliseconds(),
			KeyPrefix:        "citadel",
			AutoBan:          true,
			AutoBanTTLMs:     (time.Hour).Milliseconds(),
			AutoBanReason:    "suspicion score exceeded threshold",
			FailOpen:         true,
		},
		Burstiness: Burstiness{
			WindowSizeMs:             bd.WindowSize.Milliseconds(),
			MaxRequestsPerWindow:     bd.MaxRequestsPerWindow,
			ExcessMultiplier:         bd.ExcessMultiplier,
			MaxExcessScore:           bd.MaxExcessScore,
			MinIntervalMs:            bd.MinInterval.Milliseconds(),
			BurstPenaltyScore:        bd.BurstPenaltyScore,
			MinSamplesForPattern:     bd.MinSamplesForPattern,
			PatternHistorySize:       bd.PatternHistorySize,
			VeryRegularThreshold:     bd.VeryRegularThreshold,
			VeryRegularScore:         bd.VeryRegularScore,
			SomewhatRegularThreshold: bd.SomewhatRegularThreshold,
			SomewhatRegularScore:     bd.SomewhatRegularScore,
			PatternMultiplier:        bd.PatternMultiplier,
			MaxPatternScore:          bd.MaxPatternScore,
			HistoryTTLMultiplier:     bd.HistoryTTLMultiplier,
			WeightPerViolation:       bd.WeightPerViolation,
			MaxViolationScore:        bd.MaxViolationScore,
			MaxFrequencyScore:        bd.MaxFrequencyScore,
		},
		Ban: Ban{
			KeyPrefix:  "citadel:ban",
			TriePrefix: "citadel:trie",
		},
	}
}

// LoadFile reads a yaml config file over the defaults.
func LoadFile(path string) (Main, error) {
	main := Default()

	data, err := ioutil.ReadFile(path)
	if err != nil {
		return main, fmt.Errorf("failed to read config file %v: %v", path, err)
	}
	if err := yaml.Unmarshal(data, &main); err != nil {
		return main, fmt.Errorf("failed to parse config file %v: %v", path, err)
	}
	return main, nil
}

// EngineConfig converts the engine section into the firewall's config struct.
func (m Main) EngineConfig() firewall.EngineConfig {
	return firewall.EngineConfig{
		Threshold:               m.Engine.Threshold,
		WarningThreshold:        m.Engine.WarningThreshold,
		CacheTTL:                time.Duration(m.Engine.CacheTTLMs) * time.Millisecond,
		CacheKeyPrefix:          m.Engine.KeyPrefix,
		EnableExternalAnalyzers: m.Engine.EnableExternalAnalyzers,
		AutoBan:                 m.Engine.AutoBan,
		AutoBanTTL:              time.Duration(m.Engine.AutoBanTTLMs) * time.Millisecond,
		AutoBanReason:           m.Engine.AutoBanReason,
		FailOpen:                m.Engine.FailOpen,
		MaxConcurrentAnalyzers:  m.Engine.MaxConcurrentAnalyzers,
	}
}

// BurstinessConfig converts the burstiness section into the detector's
// config struct.
func (m Main) BurstinessConfig() burstiness.Config {
	b := m.Burstiness
	return burstiness.Config{
		WindowSize:               time.Duration(b.WindowSizeMs) * time.Millisecond,
		MaxRequestsPerWindow:     b.MaxRequestsPerWindow,
		ExcessMultiplier:         b.ExcessMultiplier,
		MaxExcessScore:           b.MaxExcessScore,
		MinInterval:              time.Duration(b.MinIntervalMs) * time.Millisecond,
		BurstPenaltyScore:        b.BurstPenaltyScore,
		MinSamplesForPattern:     b.MinSamplesForPattern,
		PatternHistorySize:       b.PatternHistorySize,
		VeryRegularThreshold:     b.VeryRegularThreshold,
		VeryRegularScore:         b.VeryRegularScore,
		SomewhatRegularThreshold: b.SomewhatRegularThreshold,
		SomewhatRegularScore:     b.SomewhatRegularScore,
		PatternMultiplier:        b.PatternMultiplier,
		MaxPatternScore:          b.MaxPatternScore,
		HistoryTTLMultiplier:     b.HistoryTTLMultiplier,
		WeightPerViolation:       b.WeightPerViolation,
		MaxViolationScore:        b.MaxViolationScore,
		MaxFrequencyScore:        b.MaxFrequencyScore,
		KeyPrefix:                m.Engine.KeyPrefix,
	}
}
