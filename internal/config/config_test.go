package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := NewConfig("alice", "/home/alice/.local/share/reel")
	original.Blob = BlobConfig{Type: "s3", Bucket: "clips", S3Region: "eu-west-1", SealEdits: true}
	original.Lock = LockConfig{Type: "redis", RedisAddr: "localhost:6379", TTL: Duration{90 * time.Second}}
	original.Notify = []NotifyConfig{
		{Type: "log"},
		{Type: "sqs", SQSQueueURL: "https://sqs.eu-west-1.amazonaws.com/1/feed"},
	}

	var buf bytes.Buffer
	m := &Manager{}
	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `settle_delay = "2s"`) {
		t.Errorf("durations should be written as strings, got:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.UserID != "alice" {
		t.Errorf("UserID = %q, want %q", got.UserID, "alice")
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Blob.Type != "s3" || got.Blob.Bucket != "clips" || !got.Blob.SealEdits {
		t.Errorf("Blob = %+v, want s3/clips sealed", got.Blob)
	}
	if got.Blob.S3Region != "eu-west-1" {
		t.Errorf("Blob.S3Region = %q, want eu-west-1", got.Blob.S3Region)
	}
	if got.Lock.TTL.Duration != 90*time.Second {
		t.Errorf("Lock.TTL = %v, want 90s", got.Lock.TTL.Duration)
	}
	if len(got.Notify) != 2 || got.Notify[1].SQSQueueURL != original.Notify[1].SQSQueueURL {
		t.Errorf("Notify = %+v, want log and sqs", got.Notify)
	}
	if got.Promotion.SettleDelay.Duration != 2*time.Second {
		t.Errorf("Promotion.SettleDelay = %v, want 2s", got.Promotion.SettleDelay.Duration)
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("user-1", "/data/reel")

	if cfg.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", cfg.UserID, "user-1")
	}
	if cfg.LogDir != "/data/reel/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/reel/log")
	}
	if cfg.Metadata.Type != "sqlite" || cfg.Metadata.DataDir != "/data/reel/db" {
		t.Errorf("Metadata = %+v, want sqlite under /data/reel/db", cfg.Metadata)
	}
	if cfg.Blob.Type != "filesystem" || cfg.Blob.FSRoot != "/data/reel/blobs" {
		t.Errorf("Blob = %+v, want filesystem under /data/reel/blobs", cfg.Blob)
	}
	if cfg.Encryption.PublicKeyPath != "/data/reel/keys/reel.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q", cfg.Encryption.PublicKeyPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestPromotionConfig_RetryPolicy(t *testing.T) {
	t.Run("zero values fall back to defaults", func(t *testing.T) {
		p := PromotionConfig{}.RetryPolicy()
		if p.MaxAttempts != 5 || p.SettleDelay != 2*time.Second || p.BaseDelay != 2*time.Second || p.Multiplier != 2 {
			t.Errorf("RetryPolicy() = %+v, want defaults", p)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		p := PromotionConfig{
			ResolveAttempts: 3,
			SettleDelay:     Duration{time.Second},
			BaseDelay:       Duration{500 * time.Millisecond},
			Multiplier:      3,
		}.RetryPolicy()
		if p.MaxAttempts != 3 || p.SettleDelay != time.Second || p.BaseDelay != 500*time.Millisecond || p.Multiplier != 3 {
			t.Errorf("RetryPolicy() = %+v", p)
		}
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"memory stores", func(c *Config) {
			c.Metadata = MetadataConfig{Type: "memory"}
			c.Blob = BlobConfig{Type: "memory"}
		}, ""},
		{"unknown metadata", func(c *Config) { c.Metadata.Type = "mongo" }, "metadata: unknown type"},
		{"postgres without dsn", func(c *Config) { c.Metadata = MetadataConfig{Type: "postgres"} }, "postgres_dsn"},
		{"dynamodb without table", func(c *Config) { c.Metadata = MetadataConfig{Type: "dynamodb"} }, "dynamo_table"},
		{"s3 without bucket", func(c *Config) { c.Blob = BlobConfig{Type: "s3"} }, "bucket required"},
		{"minio without endpoint", func(c *Config) { c.Blob = BlobConfig{Type: "minio", Bucket: "b"} }, "minio_endpoint"},
		{"redis without addr", func(c *Config) { c.Lock = LockConfig{Type: "redis"} }, "redis_addr"},
		{"pubsub without topic", func(c *Config) {
			c.Notify = []NotifyConfig{{Type: "pubsub", PubSubProject: "p"}}
		}, "notify[0]"},
		{"unknown notifier", func(c *Config) { c.Notify = []NotifyConfig{{Type: "log"}, {Type: "email"}} }, "notify[1]: unknown type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("u", "/data")
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1m30s")); err != nil {
		t.Fatalf("UnmarshalText() error = %v", err)
	}
	if d.Duration != 90*time.Second {
		t.Errorf("Duration = %v, want 90s", d.Duration)
	}
	if err := d.UnmarshalText([]byte("soon")); err == nil {
		t.Error("UnmarshalText() expected error for invalid duration")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "reel.toml")

		if err := Init(path, NewConfig("u1", dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "reel.toml")
		cfg := NewConfig("u1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}
		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "reel.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Metadata = MetadataConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.UserID != "read-test" {
			t.Errorf("UserID = %q, want %q", got.UserID, "read-test")
		}
		if got.Metadata.Type != "memory" {
			t.Errorf("Metadata.Type = %q, want memory", got.Metadata.Type)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/reel.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
