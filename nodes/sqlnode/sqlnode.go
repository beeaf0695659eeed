// Package sqlnode provides database/sql-backed extractor, joinable, and
// loader node implementations, demonstrated against modernc.org/sqlite.
package sqlnode

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/fab2s/yaetl"
)

// ColumnMapping names one database column and the record field it maps to.
type ColumnMapping struct {
	Field  string `yaml:"field"`
	Column string `yaml:"column"`
}

// TableMapping is a declarative description of how a table's rows map to
// record fields, loaded from YAML rather than hard-coded per node.
type TableMapping struct {
	Table   string          `yaml:"table"`
	Key     string          `yaml:"key"`
	Columns []ColumnMapping `yaml:"columns"`
}

// LoadTableMapping reads a TableMapping from YAML.
func LoadTableMapping(r io.Reader) (*TableMapping, error) {
	var m TableMapping
	if err := yaml.NewDecoder(r).Decode(&m); err != nil {
		return nil, fmt.Errorf("sqlnode: decode table mapping: %w", err)
	}
	if m.Table == "" || m.Key == "" || len(m.Columns) == 0 {
		return nil, fmt.Errorf("sqlnode: table mapping missing table, key, or columns")
	}
	return &m, nil
}

func (m *TableMapping) columnList() string {
	cols := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		cols[i] = c.Column
	}
	return strings.Join(cols, ", ")
}

// Open opens a SQL database at path using modernc.org/sqlite and verifies
// connectivity.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		log.WithField("op", "sqlnode.Open").WithField("path", path).WithError(err).Error("open sqlite")
		return nil, fmt.Errorf("sqlnode: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		log.WithField("op", "sqlnode.Open").WithField("path", path).WithError(err).Error("ping sqlite")
		return nil, fmt.Errorf("sqlnode: ping sqlite: %w", err)
	}
	log.WithField("op", "sqlnode.Open").WithField("path", path).Info("connected to sqlite")
	return db, nil
}

// Extractor is a keyset-paginated Extractor over a mapped table: each
// Extract call pulls the next page ordered by the key column, strictly
// greater than the last key seen.
type Extractor struct {
	db       *sql.DB
	mapping  *TableMapping
	pageSize int

	lastKey any
	page    []map[string]any
}

// NewExtractor creates a paginated Extractor reading pageSize rows per
// batch, ordered by the mapping's key column.
func NewExtractor(db *sql.DB, mapping *TableMapping, pageSize int) *Extractor {
	if pageSize <= 0 {
		pageSize = 500
	}
	return &Extractor{db: db, mapping: mapping, pageSize: pageSize}
}

func (e *Extractor) Extract(ctx context.Context, param any) (bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s > ? ORDER BY %s LIMIT ?",
		e.mapping.columnList(), e.mapping.Table, e.mapping.Key, e.mapping.Key)
	key := e.lastKey
	if key == nil {
		key = 0
	}
	rows, err := e.db.QueryContext(ctx, query, key, e.pageSize)
	if err != nil {
		return false, fmt.Errorf("sqlnode: query page: %w", err)
	}
	defer rows.Close()

	page, err := scanRows(rows, e.mapping)
	if err != nil {
		return false, err
	}
	if len(page) == 0 {
		e.page = nil
		return false, nil
	}
	e.page = page
	e.lastKey = page[len(page)-1][e.mapping.Key]
	return true, nil
}

func (e *Extractor) GetTraversable(ctx context.Context, param any) iter.Seq[yaetl.Record] {
	return func(yield func(yaetl.Record) bool) {
		for _, rec := range e.page {
			if !yield(rec) {
				return
			}
		}
	}
}

func scanRows(rows *sql.Rows, mapping *TableMapping) ([]map[string]any, error) {
	var out []map[string]any
	for rows.Next() {
		dest := make([]any, len(mapping.Columns))
		ptrs := make([]any, len(mapping.Columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sqlnode: scan row: %w", err)
		}
		rec := make(map[string]any, len(mapping.Columns))
		for i, c := range mapping.Columns {
			rec[c.Field] = dest[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// JoinableExtractor is a Joinable extractor: a single-key equality fetch per
// miss, indexed by the mapping's key field for Lookup. Rows from every fetch
// are added to one index that is never cleared, so Lookup also answers keys
// fetched by earlier Extract calls. Safe to share across Flow instances
// running on separate goroutines: concurrent Extract calls for the same key
// collapse into a single query via singleflight.
type JoinableExtractor struct {
	db      *sql.DB
	mapping *TableMapping
	group   singleflight.Group

	mu    sync.RWMutex
	index map[any]map[string]any
}

// NewJoinableExtractor creates a Joinable over a mapped table.
func NewJoinableExtractor(db *sql.DB, mapping *TableMapping) *JoinableExtractor {
	return &JoinableExtractor{db: db, mapping: mapping, index: map[any]map[string]any{}}
}

func (j *JoinableExtractor) Extract(ctx context.Context, key any) (bool, error) {
	sfKey := fmt.Sprint(key)
	v, err, _ := j.group.Do(sfKey, func() (any, error) {
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", j.mapping.columnList(), j.mapping.Table, j.mapping.Key)
		rows, err := j.db.QueryContext(ctx, query, key)
		if err != nil {
			log.WithField("op", "sqlnode.JoinableExtractor.Extract").WithField("table", j.mapping.Table).WithError(err).Error("join query")
			return 0, fmt.Errorf("sqlnode: join query: %w", err)
		}
		defer rows.Close()

		page, err := scanRows(rows, j.mapping)
		if err != nil {
			return 0, err
		}
		j.mu.Lock()
		for _, rec := range page {
			j.index[rec[j.mapping.Key]] = rec
		}
		j.mu.Unlock()
		return len(page), nil
	})
	if err != nil {
		return false, err
	}
	return v.(int) > 0, nil
}

func (j *JoinableExtractor) Lookup(key any) (yaetl.Record, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	rec, ok := j.index[key]
	return rec, ok
}

// Loader batches upserts into a mapped table, flushing on demand or when
// the buffer reaches batchSize.
type Loader struct {
	db        *sql.DB
	mapping   *TableMapping
	batchSize int
	buf       []map[string]any
}

// NewLoader creates a batching upsert Loader.
func NewLoader(db *sql.DB, mapping *TableMapping, batchSize int) *Loader {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Loader{db: db, mapping: mapping, batchSize: batchSize}
}

func (l *Loader) Exec(ctx context.Context, rec yaetl.Record) (*yaetl.Interrupter, error) {
	m, ok := rec.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("sqlnode: loader expects map[string]any, got %T", rec)
	}
	l.buf = append(l.buf, m)
	if len(l.buf) >= l.batchSize {
		return nil, l.upsert(ctx)
	}
	return nil, nil
}

func (l *Loader) Flush(ctx context.Context, status *yaetl.FlowStatus) error {
	if status != nil && *status == yaetl.StatusException {
		l.buf = nil
		return nil
	}
	return l.upsert(ctx)
}

func (l *Loader) upsert(ctx context.Context) error {
	if len(l.buf) == 0 {
		return nil
	}
	cols := l.mapping.columnList()
	placeholders := make([]string, len(l.mapping.Columns))
	updates := make([]string, 0, len(l.mapping.Columns))
	for i, c := range l.mapping.Columns {
		placeholders[i] = "?"
		if c.Column != l.mapping.Key {
			updates = append(updates, fmt.Sprintf("%s=excluded.%s", c.Column, c.Column))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		l.mapping.Table, cols, strings.Join(placeholders, ", "), l.mapping.Key, strings.Join(updates, ", "))

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		log.WithField("op", "sqlnode.Loader.upsert").WithField("table", l.mapping.Table).WithError(err).Error("begin upsert tx")
		return fmt.Errorf("sqlnode: begin upsert tx: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		log.WithField("op", "sqlnode.Loader.upsert").WithField("table", l.mapping.Table).WithError(err).Error("prepare upsert")
		return fmt.Errorf("sqlnode: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range l.buf {
		args := make([]any, len(l.mapping.Columns))
		for i, c := range l.mapping.Columns {
			args[i] = rec[c.Field]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			log.WithField("op", "sqlnode.Loader.upsert").WithField("table", l.mapping.Table).WithError(err).Error("upsert row")
			return fmt.Errorf("sqlnode: upsert row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		log.WithField("op", "sqlnode.Loader.upsert").WithField("table", l.mapping.Table).WithError(err).Error("commit upsert")
		return fmt.Errorf("sqlnode: commit upsert: %w", err)
	}
	l.buf = l.buf[:0]
	return nil
}
