// Package config loads service configuration from the environment, an
// optional .env file and an optional YAML tuning file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/WessleyAI/groundwork/engine/identity"
	"github.com/WessleyAI/groundwork/engine/terms"
	"github.com/WessleyAI/groundwork/engine/usage"
)

// Config holds all environment-based configuration.
type Config struct {
	Port       string
	GRPCPort   string
	CORSOrigin string

	Neo4j        Neo4j
	GraphFixture string // in-memory store instead of Neo4j when set

	DatabaseURL  string
	RedisURL     string
	NATSURL           string
	UsageSubject      string
	RevocationSubject string

	StaticKeys        string
	IdentityCacheSize int
	IdentityCacheTTL  time.Duration

	TuningFile    string
	SchemaVersion string
	ServiceName   string

	Tuning Tuning
}

// Neo4j configures the graph store driver.
type Neo4j struct {
	URL            string
	User           string
	Pass           string
	Database       string
	MaxPool        int
	AcquireTimeout time.Duration
	QueryTimeout   time.Duration
}

// Tuning is the optional YAML tuning file. Empty sections keep the built-in
// defaults.
type Tuning struct {
	Vocabulary terms.Vocabulary      `yaml:"vocabulary"`
	Meter      usage.MeterConfig     `yaml:"meter"`
	Plans      map[string]usage.Plan `yaml:"plans"`
}

// VocabularyOrDefault merges the tuned lists over the built-in vocabulary.
func (t Tuning) VocabularyOrDefault() terms.Vocabulary {
	return terms.DefaultVocabulary().Override(t.Vocabulary)
}

// PlansOrDefault returns the tuned plan table, or the built-in one.
func (t Tuning) PlansOrDefault() map[string]usage.Plan {
	if len(t.Plans) == 0 {
		return usage.DefaultPlans()
	}
	return t.Plans
}

// Load reads .env (if present), the environment and the tuning file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load .env: %w", err)
	}

	var p parser
	cfg := Config{
		Port:       envOr("PORT", "8080"),
		GRPCPort:   envOr("GRPC_PORT", "9090"),
		CORSOrigin: envOr("CORS_ORIGIN", "*"),
		Neo4j: Neo4j{
			URL:            envOr("NEO4J_URL", "neo4j://localhost:7687"),
			User:           envOr("NEO4J_USER", "neo4j"),
			Pass:           envOr("NEO4J_PASS", "password"),
			Database:       envOr("NEO4J_DATABASE", ""),
			MaxPool:        p.int("NEO4J_MAX_POOL", 50),
			AcquireTimeout: p.duration("NEO4J_ACQUIRE_TIMEOUT", 5*time.Second),
			QueryTimeout:   p.duration("NEO4J_QUERY_TIMEOUT", 10*time.Second),
		},
		GraphFixture:      os.Getenv("GRAPH_FIXTURE"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		NATSURL:           os.Getenv("NATS_URL"),
		UsageSubject:      envOr("USAGE_SUBJECT", usage.DefaultSubject),
		RevocationSubject: envOr("KEY_REVOKED_SUBJECT", identity.DefaultRevocationSubject),
		StaticKeys:        os.Getenv("STATIC_KEYS"),
		IdentityCacheSize: p.int("IDENTITY_CACHE_SIZE", identity.DefaultCacheSize),
		IdentityCacheTTL:  p.duration("IDENTITY_CACHE_TTL", identity.DefaultCacheTTL),
		TuningFile:        os.Getenv("TUNING_FILE"),
		SchemaVersion:     os.Getenv("SCHEMA_VERSION"),
		ServiceName:       envOr("OTEL_SERVICE_NAME", "groundwork"),
	}
	if p.err != nil {
		return Config{}, p.err
	}

	if cfg.TuningFile != "" {
		t, err := LoadTuning(cfg.TuningFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Tuning = t
	}
	return cfg, nil
}

// LoadTuning reads a YAML tuning file.
func LoadTuning(path string) (Tuning, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tuning{}, fmt.Errorf("config: read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes tuning YAML. Unknown keys are rejected so a typo does
// not silently fall back to defaults.
func ParseTuning(data []byte) (Tuning, error) {
	var t Tuning
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tuning{}, fmt.Errorf("config: parse tuning file: %w", err)
	}
	for name, plan := range t.Plans {
		if plan.RequestsPerMinute < 0 || plan.MonthlyUnits < 0 {
			return Tuning{}, fmt.Errorf("config: plan %q: negative limit", name)
		}
	}
	return t, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser keeps the first malformed variable.
type parser struct{ err error }

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		p.fail(key, v)
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		p.fail(key, v)
		return fallback
	}
	return d
}

func (p *parser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s: invalid value %q", key, value)
	}
}
