package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Postgres driver, registered as "pgx"
	_ "github.com/mattn/go-sqlite3"    // SQLite driver

	"reel-go/internal/docstore/migrations"
	"reel-go/internal/reel"
)

// SQLStore implements reel.MetadataStore on a single documents table holding
// JSON field maps. It runs on SQLite or Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	clock   reel.Clock
	idgen   reel.IDGenerator
}

// NewSQLiteStore opens (or creates) the SQLite database at path and migrates it.
// path can be ":memory:".
func NewSQLiteStore(path string, clock reel.Clock, idgen reel.IDGenerator) (*SQLStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return NewSQLStoreFromDB(db, migrations.SQLite, clock, idgen)
}

// NewPostgresStore connects with dsn through pgx and migrates the schema.
func NewPostgresStore(dsn string, clock reel.Clock, idgen reel.IDGenerator) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := migrations.MigrateUp(db, migrations.Postgres); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating postgres: %w", err)
	}
	return NewSQLStoreFromDB(db, migrations.Postgres, clock, idgen)
}

// NewSQLStoreFromDB wraps an existing, migrated connection.
func NewSQLStoreFromDB(db *sql.DB, dialectName string, clock reel.Clock, idgen reel.IDGenerator) (*SQLStore, error) {
	d, err := dialectFor(dialectName)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = reel.RealClock{}
	}
	if idgen == nil {
		idgen = reel.UUIDGenerator{}
	}
	return &SQLStore{db: db, dialect: d, clock: clock, idgen: idgen}, nil
}

// OpenSQLite opens and configures a SQLite connection.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every ":memory:" connection is its own database, and
	// a single writer keeps version checks inside a transaction serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// DB exposes the underlying connection.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// CheckMigrations verifies the schema is up to date.
func (s *SQLStore) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db, s.dialect.name())
}

func (s *SQLStore) Create(ctx context.Context, collection string, fields reel.Document) (string, error) {
	id := s.idgen.New()
	if err := s.CreateWithID(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLStore) CreateWithID(ctx context.Context, collection, id string, fields reel.Document) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insert(ctx, tx, collection, id, fields, s.clock.Now())
	})
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*reel.Snapshot, error) {
	return s.get(ctx, s.db, collection, id, false)
}

func (s *SQLStore) UpdateFields(ctx context.Context, collection, id string, fields reel.Document, ifVersion int64) (int64, error) {
	var version int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		version, err = s.update(ctx, tx, collection, id, fields, ifVersion, s.clock.Now())
		return err
	})
	return version, err
}

func (s *SQLStore) Batch(ctx context.Context, ops []reel.BatchOp) error {
	now := s.clock.Now()
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for i, op := range ops {
			var err error
			switch op.Kind {
			case reel.BatchCreate:
				err = s.insert(ctx, tx, op.Collection, op.ID, op.Fields, now)
			case reel.BatchUpdate:
				_, err = s.update(ctx, tx, op.Collection, op.ID, op.Fields, op.IfVersion, now)
			default:
				err = fmt.Errorf("unknown batch op kind %d", op.Kind)
			}
			if err != nil {
				return fmt.Errorf("batch op %d (%s/%s): %w", i, op.Collection, op.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLStore) Query(ctx context.Context, collection string, q reel.Query) (*reel.Page, error) {
	d := s.dialect
	args := []any{collection}
	where := []string{"collection = ?"}

	for _, f := range q.Where {
		if err := checkField(f.Field); err != nil {
			return nil, err
		}
		where = append(where, d.fieldExpr(f.Field)+" = ?")
		args = append(args, d.arg(f.Value))
	}

	order := d.idExpr()
	if q.OrderBy != "" {
		if err := checkField(q.OrderBy); err != nil {
			return nil, err
		}
		order = d.orderExpr(q.OrderBy)
	}
	dir, cmp := "ASC", ">"
	if q.Descending {
		dir, cmp = "DESC", "<"
	}

	c, err := decodeCursor(q.Cursor)
	if err != nil {
		return nil, err
	}
	if c != nil {
		if q.OrderBy == "" {
			where = append(where, fmt.Sprintf("%s %s ?", d.idExpr(), cmp))
			args = append(args, c.ID)
		} else {
			v := d.arg(c.Value)
			where = append(where, fmt.Sprintf("(%s %s ? OR (%s = ? AND %s %s ?))", order, cmp, order, d.idExpr(), cmp))
			args = append(args, v, v, c.ID)
		}
	}

	stmt := fmt.Sprintf("SELECT id, %s, version, create_time, update_time FROM documents WHERE %s ORDER BY %s %s",
		d.fieldsColumn(), strings.Join(where, " AND "), order, dir)
	if q.OrderBy != "" {
		stmt += fmt.Sprintf(", %s %s", d.idExpr(), dir)
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit+1)
	}

	rows, err := s.db.QueryContext(ctx, d.rebind(stmt), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*reel.Snapshot
	for rows.Next() {
		var (
			id     string
			fields []byte
			snap   reel.Snapshot
			ct, ut string
		)
		if err := rows.Scan(&id, &fields, &snap.Version, &ct, &ut); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", collection, err)
		}
		snap.ID = id
		if err := fillSnapshot(&snap, fields, ct, ut); err != nil {
			return nil, err
		}
		docs = append(docs, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", collection, err)
	}

	more := q.Limit > 0 && len(docs) > q.Limit
	if more {
		docs = docs[:q.Limit]
	}
	page := &reel.Page{Docs: docs}
	if len(docs) > 0 {
		page.NextCursor, err = nextCursor(docs[len(docs)-1], q.OrderBy, more)
		if err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q queryer, collection, id string, forUpdate bool) (*reel.Snapshot, error) {
	stmt := fmt.Sprintf("SELECT %s, version, create_time, update_time FROM documents WHERE collection = ? AND id = ?",
		s.dialect.fieldsColumn())
	if forUpdate {
		stmt += s.dialect.lockClause()
	}

	var (
		fields []byte
		ct, ut string
	)
	snap := &reel.Snapshot{ID: id}
	err := q.QueryRowContext(ctx, s.dialect.rebind(stmt), collection, id).Scan(&fields, &snap.Version, &ct, &ut)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, reel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s/%s: %w", collection, id, err)
	}
	if err := fillSnapshot(snap, fields, ct, ut); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLStore) insert(ctx context.Context, tx *sql.Tx, collection, id string, fields reel.Document, now time.Time) error {
	if id == "" {
		return fmt.Errorf("%w: empty document id", reel.ErrInvalidReference)
	}
	data, err := encodeFields(resolve(fields, now))
	if err != nil {
		return err
	}

	stamp := reel.FormatTime(now)
	stmt := fmt.Sprintf(`INSERT INTO documents (collection, id, fields, version, create_time, update_time)
		VALUES (?, ?, %s, 1, ?, ?) ON CONFLICT (collection, id) DO NOTHING`, s.dialect.jsonValue())
	res, err := tx.ExecContext(ctx, s.dialect.rebind(stmt), collection, id, string(data), stamp, stamp)
	if err != nil {
		return fmt.Errorf("inserting %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s/%s already exists: %w", collection, id, reel.ErrConflict)
	}
	return nil
}

func (s *SQLStore) update(ctx context.Context, tx *sql.Tx, collection, id string, fields reel.Document, ifVersion int64, now time.Time) (int64, error) {
	current, err := s.get(ctx, tx, collection, id, true)
	if err != nil {
		return 0, err
	}
	if ifVersion > 0 && current.Version != ifVersion {
		return 0, fmt.Errorf("%s/%s is at version %d, expected %d: %w",
			collection, id, current.Version, ifVersion, reel.ErrConflict)
	}

	merged := current.Fields
	for k, v := range resolve(fields, now) {
		merged[k] = v
	}
	data, err := encodeFields(merged)
	if err != nil {
		return 0, err
	}

	stmt := fmt.Sprintf(`UPDATE documents SET fields = %s, version = version + 1, update_time = ?
		WHERE collection = ? AND id = ? AND version = ?`, s.dialect.jsonValue())
	res, err := tx.ExecContext(ctx, s.dialect.rebind(stmt), string(data), reel.FormatTime(now), collection, id, current.Version)
	if err != nil {
		return 0, fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("updating %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%s/%s changed during update: %w", collection, id, reel.ErrConflict)
	}
	return current.Version + 1, nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func fillSnapshot(snap *reel.Snapshot, fields []byte, createTime, updateTime string) error {
	var err error
	if snap.Fields, err = decodeFields(fields); err != nil {
		return fmt.Errorf("document %s: %w", snap.ID, err)
	}
	if snap.CreateTime, err = reel.ParseTime(createTime); err != nil {
		return fmt.Errorf("document %s: create time: %w", snap.ID, err)
	}
	if snap.UpdateTime, err = reel.ParseTime(updateTime); err != nil {
		return fmt.Errorf("document %s: update time: %w", snap.ID, err)
	}
	return nil
}

var _ reel.MetadataStore = (*SQLStore)(nil)
