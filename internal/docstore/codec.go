package docstore

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"reel-go/internal/reel"
)

// fieldName restricts query fields to plain identifiers; they are spliced into SQL and expressions.
var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func checkField(name string) error {
	if !fieldName.MatchString(name) {
		return fmt.Errorf("%w: bad field name %q", reel.ErrInvalidReference, name)
	}
	return nil
}

// resolve returns a copy of fields with ServerTimestamp replaced by now and
// times rendered in the stored format.
func resolve(fields reel.Document, now time.Time) reel.Document {
	out := make(reel.Document, len(fields))
	for k, v := range fields {
		out[k] = resolveValue(v, now)
	}
	return out
}

func resolveValue(v any, now time.Time) any {
	switch val := v.(type) {
	case time.Time:
		return reel.FormatTime(val)
	case reel.Document:
		return resolve(val, now)
	case map[string]any:
		return resolve(reel.Document(val), now)
	case int:
		return int64(val)
	default:
		if reel.IsServerTimestamp(v) {
			return reel.FormatTime(now)
		}
		return v
	}
}

func encodeFields(fields reel.Document) ([]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encoding fields: %w", err)
	}
	return data, nil
}

func decodeFields(data []byte) (reel.Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc reel.Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding fields: %w", err)
	}
	if doc == nil {
		doc = reel.Document{}
	}
	return doc, nil
}

// cursor marks the last document of a page: the value of the order field and the ID.
type cursor struct {
	Value any    `json:"v,omitempty"`
	ID    string `json:"id"`
}

func encodeCursor(c cursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(s string) (*cursor, error) {
	if s == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", reel.ErrInvalidReference)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var c cursor
	if err := dec.Decode(&c); err != nil || c.ID == "" {
		return nil, fmt.Errorf("%w: malformed cursor", reel.ErrInvalidReference)
	}
	return &c, nil
}

// nextCursor builds the cursor after last, or "" when more is false.
func nextCursor(last *reel.Snapshot, orderBy string, more bool) (string, error) {
	if !more || last == nil {
		return "", nil
	}
	c := cursor{ID: last.ID}
	if orderBy != "" {
		c.Value = last.Fields[orderBy]
	}
	return encodeCursor(c)
}
