package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reel-go/internal/reel"
	"reel-go/internal/testutil"
)

func TestMemoryStore_UploadFetchDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("bucket", nil, 0)

	tests := []struct {
		name    string
		path    string
		content string
	}{
		{name: "edit asset", path: "edits/e1_1700000000.mp4", content: "edited clip"},
		{name: "empty", path: "videos/empty.mp4", content: ""},
		{name: "large", path: "videos/large.mov", content: strings.Repeat("x", 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Upload(ctx, tt.path, strings.NewReader(tt.content), int64(len(tt.content)), "video/mp4"); err != nil {
				t.Fatalf("Upload() error = %v", err)
			}

			var buf bytes.Buffer
			if err := store.Fetch(ctx, tt.path, &buf); err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if buf.String() != tt.content {
				t.Errorf("Fetch() = %q, want %q", buf.String(), tt.content)
			}

			if err := store.Delete(ctx, tt.path); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if store.Has(tt.path) {
				t.Error("object still present after Delete")
			}
		})
	}
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("bucket", nil, 0)

	if err := store.Upload(ctx, "videos/a.mp4", strings.NewReader("abc"), 5, "video/mp4"); err == nil {
		t.Error("Upload() with wrong size should fail")
	}
	if err := store.Upload(ctx, "../escape.mp4", strings.NewReader("abc"), 3, "video/mp4"); !errors.Is(err, reel.ErrInvalidReference) {
		t.Errorf("Upload() with bad path error = %v, want ErrInvalidReference", err)
	}
	if err := store.Fetch(ctx, "videos/missing.mp4", &bytes.Buffer{}); !errors.Is(err, reel.ErrNotFound) {
		t.Errorf("Fetch() missing error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "videos/missing.mp4"); !errors.Is(err, reel.ErrNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrNotFound", err)
	}
	if _, err := store.ResolveURL(ctx, "videos/missing.mp4"); !errors.Is(err, reel.ErrNotFound) {
		t.Errorf("ResolveURL() missing error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_VisibilityDelay(t *testing.T) {
	ctx := context.Background()
	clock := testutil.FixedClock()
	store := NewMemoryStore("bucket", clock, 5*time.Second)

	const p = "videos/new clip.mp4"
	if err := store.Upload(ctx, p, strings.NewReader("v"), 1, "video/mp4"); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if _, err := store.ResolveURL(ctx, p); !errors.Is(err, reel.ErrNotYetAvailable) {
		t.Fatalf("ResolveURL() right after upload error = %v, want ErrNotYetAvailable", err)
	}

	clock.Advance(5 * time.Second)
	u, err := store.ResolveURL(ctx, p)
	if err != nil {
		t.Fatalf("ResolveURL() after delay error = %v", err)
	}
	if u != store.URL(p) {
		t.Errorf("ResolveURL() = %q, want %q", u, store.URL(p))
	}

	got, err := reel.ObjectPathFromURL(u)
	if err != nil {
		t.Fatalf("ObjectPathFromURL() error = %v", err)
	}
	if got != p {
		t.Errorf("round trip path = %q, want %q", got, p)
	}
}
