package blob

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"reel-go/internal/encryption"
	"reel-go/internal/reel"
)

func TestSealedStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore("bucket", nil, 0)
	enc := encryption.NewTestEncryptor()
	store := NewSealedStore(inner, enc, "edits")

	const editPath = "edits/e1.mp4"
	const videoPath = "videos/v1.mp4"

	if err := store.Upload(ctx, editPath, strings.NewReader("edit"), 4, "video/mp4"); err != nil {
		t.Fatalf("Upload(edit) error = %v", err)
	}
	if err := store.Upload(ctx, videoPath, strings.NewReader("video"), 5, "video/mp4"); err != nil {
		t.Fatalf("Upload(video) error = %v", err)
	}

	var raw bytes.Buffer
	if err := inner.Fetch(ctx, editPath, &raw); err != nil {
		t.Fatalf("inner Fetch() error = %v", err)
	}
	if raw.String() == "edit" {
		t.Error("edit asset stored in plaintext")
	}
	if inner.ContentType(editPath) != "application/age-encrypted" {
		t.Errorf("sealed content type = %q", inner.ContentType(editPath))
	}

	raw.Reset()
	if err := inner.Fetch(ctx, videoPath, &raw); err != nil || raw.String() != "video" {
		t.Errorf("canonical video should pass through unsealed, got %q, %v", raw.String(), err)
	}

	var out bytes.Buffer
	if err := store.Fetch(ctx, editPath, &out); !errors.Is(err, ErrLocked) {
		t.Fatalf("Fetch() before Unlock error = %v, want ErrLocked", err)
	}

	dec, err := enc.Unlock("")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	store.Unlock(dec)
	if err := store.Fetch(ctx, editPath, &out); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if out.String() != "edit" {
		t.Errorf("Fetch() = %q, want %q", out.String(), "edit")
	}

	if err := store.Fetch(ctx, "edits/missing.mp4", &out); !errors.Is(err, reel.ErrNotFound) {
		t.Errorf("Fetch() missing error = %v, want ErrNotFound", err)
	}
}
