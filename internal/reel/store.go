package reel

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// MetadataStore is the document store holding videos, changes and promotion records.
// Each call is atomic per document; Batch is atomic within the store. Nothing spans
// the store and a BlobStore.
type MetadataStore interface {
	// Create writes a new document with a store-assigned ID.
	Create(ctx context.Context, collection string, fields Document) (string, error)

	// CreateWithID writes a new document under id. Returns ErrConflict if it exists.
	CreateWithID(ctx context.Context, collection, id string, fields Document) error

	// Get returns the document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (*Snapshot, error)

	// UpdateFields merges fields into the document and returns its new version.
	// When ifVersion is positive the write only applies if the stored version
	// still equals it; otherwise it fails with ErrConflict.
	UpdateFields(ctx context.Context, collection, id string, fields Document, ifVersion int64) (int64, error)

	// Query returns one page of documents matching q.
	Query(ctx context.Context, collection string, q Query) (*Page, error)

	// Batch applies all ops or none of them.
	Batch(ctx context.Context, ops []BatchOp) error

	// Close releases the store's resources.
	Close() error
}

// Document is the field map of a stored document.
// Values are strings, bools, integers, nested string maps and timestamps.
type Document map[string]any

type serverTimestamp struct{}

// ServerTimestamp is a field value the store replaces with its own clock on write.
var ServerTimestamp = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t the way stores persist timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// String returns the string field or "" when absent.
func (d Document) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns the bool field or false when absent.
func (d Document) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

// Int returns the integer field, accepting the numeric forms JSON decoding produces.
func (d Document) Int(key string) (int64, error) {
	switch v := d[key].(type) {
	case nil:
		return 0, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

// Time returns the timestamp field or the zero time when absent.
func (d Document) Time(key string) (time.Time, error) {
	switch v := d[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("field %s: %w", key, err)
		}
		return t, nil
	default:
		return time.Time{}, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}

// StringMap returns a nested map of strings, or nil when absent.
func (d Document) StringMap(key string) map[string]string {
	var m map[string]any
	switch v := d[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		m = v
	case Document:
		m = v
	default:
		return nil
	}
	out := make(map[string]string, len(m))
	for k, val := range m {
		out[k] = fmt.Sprint(val)
	}
	return out
}

// Map returns a nested document, or nil when absent.
func (d Document) Map(key string) Document {
	switch v := d[key].(type) {
	case map[string]any:
		return Document(v)
	case Document:
		return v
	default:
		return nil
	}
}

// Snapshot is a document read from a store.
type Snapshot struct {
	ID         string
	Fields     Document
	Version    int64
	CreateTime time.Time
	UpdateTime time.Time
}

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents in one collection.
// OrderBy names a top-level field; ties are broken by document ID in the same direction.
type Query struct {
	Where      []Filter
	OrderBy    string
	Descending bool
	Limit      int
	Cursor     string
}

// Page is one page of query results. NextCursor is empty on the last page.
type Page struct {
	Docs       []*Snapshot
	NextCursor string
}

// BatchOpKind selects what a BatchOp does.
type BatchOpKind int

const (
	BatchCreate BatchOpKind = iota
	BatchUpdate
)

// BatchOp is a single write inside MetadataStore.Batch.
// BatchCreate fails the batch with ErrConflict if the ID exists; BatchUpdate
// honours IfVersion like UpdateFields.
type BatchOp struct {
	Kind       BatchOpKind
	Collection string
	ID         string
	Fields     Document
	IfVersion  int64
}
