package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for scrapidx.
type Config struct {
	HostID      string            `toml:"host_id"`
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Database    DatabaseConfig    `toml:"database"`
	SearchIndex SearchIndexConfig `toml:"search_index"`
	Encryption  EncryptionConfig  `toml:"encryption"`
	Ingest      IngestConfig      `toml:"ingest"`
	Indexing    IndexingConfig    `toml:"indexing"`
	Collect     CollectConfig     `toml:"collect"`
}

// ObjectStoreConfig represents configuration for the object store holding raw leak files.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3"). The credentials may be
	// left empty to use the default AWS credential chain.
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
	S3PathStyle bool   `toml:"s3_path_style,omitempty"`
}

// DatabaseConfig represents configuration for the relational store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite", "postgres" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
	DSN     string `toml:"dsn,omitempty"`      // only used for type=postgres
	// Snapshot uploads an (optionally encrypted) copy of the SQLite database
	// to the object store after every mutating command.
	Snapshot bool `toml:"snapshot"`
}

// SearchIndexConfig represents configuration for the full-text search index.
type SearchIndexConfig struct {
	Type string `toml:"type"`           // "sqlite" or "memory"
	Path string `toml:"path,omitempty"` // only used for type=sqlite
}

// EncryptionConfig holds paths to the age key pair used for snapshot encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "armor", "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// IngestConfig holds the tunables of an ingestion run.
type IngestConfig struct {
	Extensions    []string `toml:"extensions"`
	Prefixes      []string `toml:"prefixes"`
	MaxLineLength int      `toml:"max_line_length"`
	ChunkSizeKB   int      `toml:"chunk_size_kb"` // read chunk, 64-256
	BatchSize     int      `toml:"batch_size"`    // records per insert, 1000-100000
	Workers       int      `toml:"workers"`       // objects ingested concurrently
	HashCachePath string   `toml:"hash_cache_path"`
}

// IndexingConfig holds the tunables of the Indexing Pipeline.
type IndexingConfig struct {
	Workers      int      `toml:"workers"`
	QueueSize    int      `toml:"queue_size"`
	ChunkSize    int      `toml:"chunk_size"`
	ReadBatch    int      `toml:"read_batch"`
	IdleFlush    Duration `toml:"idle_flush"`
	BatchTimeout Duration `toml:"batch_timeout"`
	MaxAttempts  int      `toml:"max_attempts"`
	Backoff      Duration `toml:"backoff"`
	MaxBackoff   Duration `toml:"max_backoff"`
}

// CollectConfig holds the settings of the collect command.
type CollectConfig struct {
	SourcePaths   []string `toml:"source_paths"`
	Prefix        string   `toml:"prefix"`
	HashCachePath string   `toml:"hash_cache_path"`
	Ignore        []string `toml:"ignore"`
}

// Duration is a time.Duration written as a string ("300s") in TOML.
type Duration struct {
	time.Duration
}

// NewDuration wraps d.
func NewDuration(d time.Duration) Duration { return Duration{d} }

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// NewConfig creates a new Config with the provided values, default paths and
// default tunables.
func NewConfig(hostID, baseDir string) *Config {
	cfg := &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "scrapidx.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "scrapidx.key"),
		},
		ObjectStore: ObjectStoreConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(baseDir, "objects"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		SearchIndex: SearchIndexConfig{
			Type: "sqlite",
			Path: filepath.Join(baseDir, "index", "search.db"),
		},
		Ingest: IngestConfig{
			HashCachePath: filepath.Join(baseDir, "cache", "ingest_hashes.json"),
		},
		Collect: CollectConfig{
			HashCachePath: filepath.Join(baseDir, "cache", "file_hashes.json"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every unset tunable with its default.
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}

	in := &c.Ingest
	if len(in.Extensions) == 0 {
		in.Extensions = []string{".txt", ".lst", ".json"}
	}
	if in.MaxLineLength == 0 {
		in.MaxLineLength = 1024
	}
	if in.ChunkSizeKB == 0 {
		in.ChunkSizeKB = 128
	}
	if in.BatchSize == 0 {
		in.BatchSize = 10000
	}
	if in.Workers == 0 {
		in.Workers = 2
	}

	ix := &c.Indexing
	if ix.Workers == 0 {
		ix.Workers = 4
	}
	if ix.QueueSize == 0 {
		ix.QueueSize = 4096
	}
	if ix.ChunkSize == 0 {
		ix.ChunkSize = 1000
	}
	if ix.ReadBatch == 0 {
		ix.ReadBatch = 500
	}
	if ix.IdleFlush.Duration == 0 {
		ix.IdleFlush = NewDuration(2 * time.Second)
	}
	if ix.BatchTimeout.Duration == 0 {
		ix.BatchTimeout = NewDuration(300 * time.Second)
	}
	if ix.MaxAttempts == 0 {
		ix.MaxAttempts = 3
	}
	if ix.Backoff.Duration == 0 {
		ix.Backoff = NewDuration(200 * time.Millisecond)
	}
	if ix.MaxBackoff.Duration == 0 {
		ix.MaxBackoff = NewDuration(5 * time.Second)
	}
}

// Validate checks that every tunable lies within its supported range.
func (c *Config) Validate() error {
	var errs []error
	check := func(name string, v, lo, hi int) {
		if v < lo || v > hi {
			errs = append(errs, fmt.Errorf("%s must be between %d and %d, got %d", name, lo, hi, v))
		}
	}

	if c.HostID == "" {
		errs = append(errs, errors.New("host_id is required"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log_level: %s", c.LogLevel))
	}

	check("ingest.max_line_length", c.Ingest.MaxLineLength, 16, 1<<20)
	check("ingest.chunk_size_kb", c.Ingest.ChunkSizeKB, 64, 256)
	check("ingest.batch_size", c.Ingest.BatchSize, 1000, 100000)
	check("ingest.workers", c.Ingest.Workers, 1, 64)
	check("indexing.workers", c.Indexing.Workers, 1, 64)
	check("indexing.queue_size", c.Indexing.QueueSize, 1, 1<<20)
	check("indexing.chunk_size", c.Indexing.ChunkSize, 1, 100000)
	check("indexing.read_batch", c.Indexing.ReadBatch, 1, 100000)
	check("indexing.max_attempts", c.Indexing.MaxAttempts, 1, 10)

	for name, d := range map[string]Duration{
		"indexing.idle_flush":    c.Indexing.IdleFlush,
		"indexing.batch_timeout": c.Indexing.BatchTimeout,
		"indexing.backoff":       c.Indexing.Backoff,
		"indexing.max_backoff":   c.Indexing.MaxBackoff,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	return errors.Join(errs...)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and fills in defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
