package docstore

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"reel-go/internal/reel"
)

func TestResolve(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC)
	got := resolve(reel.Document{
		"timestamp": reel.ServerTimestamp,
		"at":        time.Date(2023, 1, 1, 0, 0, 0, 0, time.FixedZone("x", 3600)),
		"likes":     3,
		"diff":      map[string]any{"when": reel.ServerTimestamp, "filters": "sepia"},
	}, now)

	if got["timestamp"] != "2024-03-01T12:00:00.000000005Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
	if got["at"] != "2022-12-31T23:00:00.000000000Z" {
		t.Errorf("at = %v", got["at"])
	}
	if got["likes"] != int64(3) {
		t.Errorf("likes = %#v, want int64(3)", got["likes"])
	}
	diff := got["diff"].(reel.Document)
	if diff["when"] != reel.FormatTime(now) || diff["filters"] != "sepia" {
		t.Errorf("diff = %v", diff)
	}
}

func TestDecodeFields_KeepsIntegers(t *testing.T) {
	doc, err := decodeFields([]byte(`{"likes": 9007199254740993}`))
	if err != nil {
		t.Fatalf("decodeFields() error = %v", err)
	}
	n, err := doc.Int("likes")
	if err != nil {
		t.Fatalf("Int() error = %v", err)
	}
	if n != 9007199254740993 {
		t.Errorf("likes = %d, precision lost", n)
	}
	if _, ok := doc["likes"].(json.Number); !ok {
		t.Errorf("likes decoded as %T, want json.Number", doc["likes"])
	}
}

func TestCursor(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		last := &reel.Snapshot{ID: "c9", Fields: reel.Document{"timestamp": "2024-01-01T00:00:00.000000000Z"}}
		s, err := nextCursor(last, "timestamp", true)
		if err != nil {
			t.Fatalf("nextCursor() error = %v", err)
		}
		c, err := decodeCursor(s)
		if err != nil {
			t.Fatalf("decodeCursor() error = %v", err)
		}
		if c.ID != "c9" || c.Value != "2024-01-01T00:00:00.000000000Z" {
			t.Errorf("cursor = %+v", c)
		}
	})

	t.Run("last page has no cursor", func(t *testing.T) {
		s, err := nextCursor(&reel.Snapshot{ID: "x"}, "", false)
		if err != nil || s != "" {
			t.Errorf("nextCursor() = %q, %v; want empty", s, err)
		}
	})

	t.Run("empty decodes to nil", func(t *testing.T) {
		c, err := decodeCursor("")
		if err != nil || c != nil {
			t.Errorf("decodeCursor(\"\") = %v, %v", c, err)
		}
	})

	for _, bad := range []string{"!!!", "e30"} { // "e30" is base64 of "{}"
		t.Run("malformed "+bad, func(t *testing.T) {
			if _, err := decodeCursor(bad); !errors.Is(err, reel.ErrInvalidReference) {
				t.Errorf("decodeCursor(%q) error = %v, want ErrInvalidReference", bad, err)
			}
		})
	}
}

func TestCheckField(t *testing.T) {
	for _, ok := range []string{"videoId", "_x", "a1"} {
		if err := checkField(ok); err != nil {
			t.Errorf("checkField(%q) error = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "1a", "a.b", "x') OR 1=1 --"} {
		if err := checkField(bad); !errors.Is(err, reel.ErrInvalidReference) {
			t.Errorf("checkField(%q) error = %v, want ErrInvalidReference", bad, err)
		}
	}
}
