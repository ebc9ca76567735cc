package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"reel-go/internal/reel"
)

// Config represents the main configuration for reel.
type Config struct {
	UserID     string           `toml:"user_id"` // the signed-in user for CLI commands
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Metadata   MetadataConfig   `toml:"metadata"`
	Blob       BlobConfig       `toml:"blob"`
	Encryption EncryptionConfig `toml:"encryption"`
	Lock       LockConfig       `toml:"lock"`
	Notify     []NotifyConfig   `toml:"notify"`
	Promotion  PromotionConfig  `toml:"promotion"`
}

// MetadataConfig selects the document store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MetadataConfig struct {
	Type string `toml:"type"` // "sqlite", "memory", "postgres" or "dynamodb"

	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite

	PostgresDSN string `toml:"postgres_dsn,omitempty"` // only used for type=postgres

	// DynamoDB-specific fields (only used when Type == "dynamodb")
	DynamoTable    string `toml:"dynamo_table,omitempty"`
	DynamoRegion   string `toml:"dynamo_region,omitempty"`
	DynamoEndpoint string `toml:"dynamo_endpoint,omitempty"`
}

// BlobConfig selects the blob store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type BlobConfig struct {
	Type    string `toml:"type"` // "memory", "filesystem", "s3", "gcs" or "minio"
	Bucket  string `toml:"bucket"`
	BaseURL string `toml:"base_url,omitempty"` // prefix of object URLs; backend default when empty

	// SealEdits encrypts edit assets with the configured age key.
	SealEdits bool `toml:"seal_edits,omitempty"`

	// Visibility delays URL resolution of fresh uploads (type=memory only).
	Visibility Duration `toml:"visibility,omitempty"`

	FSRoot string `toml:"fs_root,omitempty"` // only used for type=filesystem

	// S3-specific fields (only used when Type == "s3")
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`

	GCSCredentialsFile string `toml:"gcs_credentials_file,omitempty"` // only used for type=gcs

	// MinIO-specific fields (only used when Type == "minio")
	MinioEndpoint  string `toml:"minio_endpoint,omitempty"`
	MinioAccessKey string `toml:"minio_access_key,omitempty"`
	MinioSecretKey string `toml:"minio_secret_key,omitempty"`
	MinioUseSSL    bool   `toml:"minio_use_ssl,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used to seal edit assets.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// LockConfig selects where per-change locks are held.
type LockConfig struct {
	Type          string   `toml:"type"` // "memory" or "redis"
	TTL           Duration `toml:"ttl,omitempty"`
	RedisAddr     string   `toml:"redis_addr,omitempty"`
	RedisPassword string   `toml:"redis_password,omitempty"`
	RedisDB       int      `toml:"redis_db,omitempty"`
}

// NotifyConfig is one feed-refresh target.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifyConfig struct {
	Type string `toml:"type"` // "log", "pubsub" or "sqs"

	PubSubProject string `toml:"pubsub_project,omitempty"`
	PubSubTopic   string `toml:"pubsub_topic,omitempty"`

	SQSQueueURL string `toml:"sqs_queue_url,omitempty"`
	SQSRegion   string `toml:"sqs_region,omitempty"`
}

// PromotionConfig tunes the accept pipeline.
type PromotionConfig struct {
	CanonicalPrefix string   `toml:"canonical_prefix"`
	EditPrefix      string   `toml:"edit_prefix"`
	ResolveAttempts int      `toml:"resolve_attempts"`
	SettleDelay     Duration `toml:"settle_delay"`
	BaseDelay       Duration `toml:"base_delay"`
	Multiplier      float64  `toml:"multiplier"`
	PageSize        int      `toml:"page_size"`
}

// RetryPolicy returns the URL resolution policy, falling back to the defaults
// for unset values.
func (p PromotionConfig) RetryPolicy() reel.RetryPolicy {
	policy := reel.DefaultResolvePolicy()
	if p.ResolveAttempts > 0 {
		policy.MaxAttempts = p.ResolveAttempts
	}
	if p.SettleDelay.Duration > 0 {
		policy.SettleDelay = p.SettleDelay.Duration
	}
	if p.BaseDelay.Duration > 0 {
		policy.BaseDelay = p.BaseDelay.Duration
	}
	if p.Multiplier > 0 {
		policy.Multiplier = p.Multiplier
	}
	return policy
}

// Duration is a time.Duration written as a string such as "2s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config for userID with local defaults under baseDir:
// a sqlite metadata store, a filesystem blob store and in-process locks.
func NewConfig(userID, baseDir string) *Config {
	defaults := reel.DefaultResolvePolicy()
	return &Config{
		UserID:  userID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Metadata: MetadataConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Blob: BlobConfig{
			Type:   "filesystem",
			Bucket: "reel",
			FSRoot: filepath.Join(baseDir, "blobs"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "reel.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "reel.key"),
		},
		Lock:   LockConfig{Type: "memory"},
		Notify: []NotifyConfig{{Type: "log"}},
		Promotion: PromotionConfig{
			CanonicalPrefix: "videos",
			EditPrefix:      "edits",
			ResolveAttempts: defaults.MaxAttempts,
			SettleDelay:     Duration{defaults.SettleDelay},
			BaseDelay:       Duration{defaults.BaseDelay},
			Multiplier:      defaults.Multiplier,
			PageSize:        100,
		},
	}
}

// Validate checks the tagged unions name known types and carry their required fields.
func (c *Config) Validate() error {
	switch c.Metadata.Type {
	case "sqlite":
		if c.Metadata.DataDir == "" {
			return fmt.Errorf("metadata: data_dir required for sqlite")
		}
	case "memory":
	case "postgres":
		if c.Metadata.PostgresDSN == "" {
			return fmt.Errorf("metadata: postgres_dsn required for postgres")
		}
	case "dynamodb":
		if c.Metadata.DynamoTable == "" {
			return fmt.Errorf("metadata: dynamo_table required for dynamodb")
		}
	default:
		return fmt.Errorf("metadata: unknown type %q", c.Metadata.Type)
	}

	switch c.Blob.Type {
	case "memory":
	case "filesystem":
		if c.Blob.FSRoot == "" {
			return fmt.Errorf("blob: fs_root required for filesystem")
		}
	case "s3", "gcs":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("blob: bucket required for %s", c.Blob.Type)
		}
	case "minio":
		if c.Blob.Bucket == "" || c.Blob.MinioEndpoint == "" {
			return fmt.Errorf("blob: bucket and minio_endpoint required for minio")
		}
	default:
		return fmt.Errorf("blob: unknown type %q", c.Blob.Type)
	}

	switch c.Lock.Type {
	case "", "memory":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock: redis_addr required for redis")
		}
	default:
		return fmt.Errorf("lock: unknown type %q", c.Lock.Type)
	}

	for i, n := range c.Notify {
		switch n.Type {
		case "log":
		case "pubsub":
			if n.PubSubProject == "" || n.PubSubTopic == "" {
				return fmt.Errorf("notify[%d]: pubsub_project and pubsub_topic required", i)
			}
		case "sqs":
			if n.SQSQueueURL == "" {
				return fmt.Errorf("notify[%d]: sqs_queue_url required", i)
			}
		default:
			return fmt.Errorf("notify[%d]: unknown type %q", i, n.Type)
		}
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes cfg to a new config file at path. It refuses to overwrite.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
