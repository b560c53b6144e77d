// Package config loads the embedding core's runtime configuration. It
// follows the teacher repo's convention for ambient configuration (see
// services/trace/agent/providers/egress in the original AleutianFOSS
// source): a plain struct populated from environment variables through
// small env* helpers, all fields defaulted so a bare `embedsrv` with no
// environment at all still starts correctly.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// envPrefix is prepended to every environment variable this package reads.
const envPrefix = "EMBEDCORE_"

// Config holds every tunable named in spec §6. All fields have defaults;
// nothing here is required to start the server.
type Config struct {
	// Port is the HTTP listen port.
	// Env: EMBEDCORE_PORT (default: 8766)
	Port int `yaml:"port"`

	// MaxWorkers is the size of the worker pool.
	// Env: EMBEDCORE_MAX_WORKERS (default: min(cores-2, 4))
	MaxWorkers int `yaml:"max_workers"`

	// MaxBatchSize is the largest number of texts dispatched to one worker
	// in a single batch.
	// Env: EMBEDCORE_MAX_BATCH_SIZE (default: 800)
	MaxBatchSize int `yaml:"max_batch_size"`

	// QueueHighWater is the pending-batch depth at which Submit starts
	// failing fast with Overloaded.
	// Env: EMBEDCORE_QUEUE_HIGH_WATER (default: 4 * MaxWorkers)
	QueueHighWater int `yaml:"queue_high_water"`

	// CacheCapacity is the maximum number of live entries in the on-disk
	// cache.
	// Env: EMBEDCORE_CACHE_CAPACITY (default: 10000)
	CacheCapacity int `yaml:"cache_capacity"`

	// Dim is the embedding dimensionality. Fixed at 384; exposed as a
	// config field only so the cache's on-open validation has something to
	// compare the stored header against.
	Dim int `yaml:"dim"`

	// NoClientsTimeout is how long the registry may sit empty before the
	// auto-shutdown controller starts draining.
	// Env: EMBEDCORE_NO_CLIENTS_TIMEOUT_MS (default: 300000)
	NoClientsTimeout time.Duration `yaml:"-"`

	// IdleTimeout is how long the server may go without a request before
	// the auto-shutdown controller starts draining.
	// Env: EMBEDCORE_IDLE_TIMEOUT_MS (default: 1800000)
	IdleTimeout time.Duration `yaml:"-"`

	// BatchSoftDeadline is the deadline communicated to a worker inside an
	// embed_batch record; the worker should return a partial result rather
	// than blow past it.
	// Env: EMBEDCORE_BATCH_SOFT_DEADLINE_MS (default: 8000)
	BatchSoftDeadline time.Duration `yaml:"-"`

	// BatchHardDeadline is the deadline the pool itself enforces; past it,
	// the batch fails with Timeout regardless of what the worker reports.
	// Env: EMBEDCORE_BATCH_HARD_DEADLINE_MS (default: 20000)
	BatchHardDeadline time.Duration `yaml:"-"`

	// WorkerStall is the maximum gap between progress records before the
	// pool considers a worker stalled and kills it.
	// Env: EMBEDCORE_WORKER_STALL_MS (default: 5000)
	WorkerStall time.Duration `yaml:"-"`

	// CacheDir is the on-disk directory for the four fixed-size cache
	// regions (spec §4.2) plus the BadgerDB global mirror (SPEC_FULL §4.9).
	// Env: EMBEDCORE_CACHE_DIR (default: ~/.embedcore/cache/<repo-hash>)
	CacheDir string `yaml:"cache_dir"`

	// ProjectPath is the repository path this daemon instance serves,
	// hashed into CacheDir's default so distinct repositories sharing a
	// host get isolated cache directories. A client's x-project-path
	// header is checked against this at request time (httpapi's
	// touchMiddleware) rather than switching caches per request: one
	// daemon instance serves one repository for its lifetime.
	// Env: EMBEDCORE_PROJECT_PATH (default: current working directory)
	ProjectPath string `yaml:"-"`

	// ModelID identifies the embedding function in use. Cache entries
	// computed under a different ModelID are invisible to readers.
	// Env: EMBEDCORE_MODEL_ID (default: "bge-small-en-v1.5")
	ModelID string `yaml:"model_id"`

	// ModelCommand is the executable (plus arguments) used to spawn each
	// worker's child process.
	// Env: EMBEDCORE_MODEL_COMMAND (default: "embedcore-modelproc")
	ModelCommand []string `yaml:"model_command"`

	// OTLPEndpoint is the collector address spans are exported to over
	// gRPC. Empty disables OTLP export (spans still flow through otelgin's
	// in-process propagation either way).
	// Env: EMBEDCORE_OTLP_ENDPOINT (default: "")
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// durationField maps one *_ms environment variable (and its lower-case
// YAML key) onto its time.Duration struct field; durationFields keeps them
// as a table rather than repeated boilerplate per field.
type durationField struct {
	envSuffix string
	defaultMs int
	set       func(*Config, time.Duration)
}

var durationFields = []durationField{
	{"NO_CLIENTS_TIMEOUT_MS", 300_000, func(c *Config, d time.Duration) { c.NoClientsTimeout = d }},
	{"IDLE_TIMEOUT_MS", 1_800_000, func(c *Config, d time.Duration) { c.IdleTimeout = d }},
	{"BATCH_SOFT_DEADLINE_MS", 8_000, func(c *Config, d time.Duration) { c.BatchSoftDeadline = d }},
	{"BATCH_HARD_DEADLINE_MS", 20_000, func(c *Config, d time.Duration) { c.BatchHardDeadline = d }},
	{"WORKER_STALL_MS", 5_000, func(c *Config, d time.Duration) { c.WorkerStall = d }},
}

// Load builds a Config from environment variables, applying the defaults in
// spec §6. If yamlPath is non-empty, its contents are applied first and the
// environment overrides them — environment variables always win, matching
// the teacher's own layered precedence in providers.LoadRoleConfig.
func Load(yamlPath string) (*Config, error) {
	cfg := Default()
	// Cleared so the fallback below resolves it against the final
	// MaxWorkers, after YAML and environment overrides.
	cfg.QueueHighWater = 0

	if yamlPath != "" {
		if err := applyYAMLFile(cfg, yamlPath); err != nil {
			return nil, err
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.MaxWorkers = envInt("MAX_WORKERS", cfg.MaxWorkers)
	cfg.MaxBatchSize = envInt("MAX_BATCH_SIZE", cfg.MaxBatchSize)
	cfg.QueueHighWater = envInt("QUEUE_HIGH_WATER", cfg.QueueHighWater)
	cfg.CacheCapacity = envInt("CACHE_CAPACITY", cfg.CacheCapacity)
	cfg.CacheDir = envString("CACHE_DIR", cfg.CacheDir)
	cfg.ModelID = envString("MODEL_ID", cfg.ModelID)
	cfg.OTLPEndpoint = envString("OTLP_ENDPOINT", cfg.OTLPEndpoint)

	for _, df := range durationFields {
		ms := envInt(df.envSuffix, 0)
		if ms > 0 {
			df.set(cfg, time.Duration(ms)*time.Millisecond)
		}
	}

	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = 4 * cfg.MaxWorkers
	}

	cfg.ProjectPath = envString("PROJECT_PATH", cfg.ProjectPath)
	if cfg.ProjectPath == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.ProjectPath = wd
		}
	}

	if cfg.CacheDir == "" {
		dir, err := defaultCacheDir(cfg.ProjectPath)
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	}

	return cfg, nil
}

// Default returns a Config with every field set to the spec §6 default,
// ignoring environment variables. Used by Load before overrides are applied
// and directly by tests that want a config without touching the process
// environment.
func Default() *Config {
	cfg := &Config{
		Port:           8766,
		MaxWorkers:     defaultMaxWorkers(),
		MaxBatchSize:   800,
		CacheCapacity:  10_000,
		Dim:            384,
		ModelID:        "bge-small-en-v1.5",
		ModelCommand:   []string{"embedcore-modelproc"},
		QueueHighWater: 0, // set from MaxWorkers below
	}
	for _, df := range durationFields {
		df.set(cfg, time.Duration(df.defaultMs)*time.Millisecond)
	}
	cfg.QueueHighWater = 4 * cfg.MaxWorkers
	return cfg
}

func defaultMaxWorkers() int {
	n := runtime.NumCPU() - 2
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n
}

// defaultCacheDir derives the per-repository cache directory named in spec
// §6's "Persisted state" section: a user-home subdirectory keyed by a
// stable hash of projectPath, so distinct repositories sharing a host never
// share cache regions. An empty projectPath (working directory unresolvable
// at startup) falls back to a fixed "default" bucket.
func defaultCacheDir(projectPath string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home + "/.embedcore/cache/" + HashProjectPath(projectPath), nil
}

// HashProjectPath derives the stable repository hash used to key cache
// directories and to compare an incoming x-project-path header against the
// project this daemon was started for. Truncated SHA-256 hex, consistent
// with fingerprint.go's content-addressing style.
func HashProjectPath(projectPath string) string {
	if projectPath == "" {
		return "default"
	}
	sum := sha256.Sum256([]byte(projectPath))
	return hex.EncodeToString(sum[:8])
}

func applyYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	// The duration fields carry yaml:"-"; read them from their *_ms keys.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, df := range durationFields {
		if ms, ok := raw[strings.ToLower(df.envSuffix)].(int); ok && ms > 0 {
			df.set(cfg, time.Duration(ms)*time.Millisecond)
		}
	}
	return nil
}

func envString(suffix, defaultVal string) string {
	val := os.Getenv(envPrefix + suffix)
	if val == "" {
		return defaultVal
	}
	return val
}

func envInt(suffix string, defaultVal int) int {
	val := os.Getenv(envPrefix + suffix)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
