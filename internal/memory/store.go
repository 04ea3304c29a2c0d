// Package memory persists users, conversations, participants and messages
// in SQLite and retrieves prior messages by embedding distance.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"

	"github.com/bowerhall/mira/internal/apperr"
	"github.com/bowerhall/mira/internal/logger"
)

const (
	defaultLimit = 5

	metaDimension = "embedding_dimension"

	// fixed width so lexical order matches chronological order
	timeLayout = "2006-01-02T15:04:05.000000000Z"
)

type Store struct {
	db        *sql.DB
	queries   *QueryBook
	dimension int
	metric    Metric
	now       func() time.Time
}

func Open(path string, opts Options) (*Store, error) {
	if opts.Dimension <= 0 {
		return nil, apperr.Validation("memory.Open", "embedding dimension must be positive")
	}

	switch opts.Metric {
	case "":
		opts.Metric = MetricCosine
	case MetricCosine, MetricL2:
	default:
		return nil, apperr.Validation("memory.Open", "unknown distance metric "+string(opts.Metric))
	}

	inMemory := path == ":memory:" || path == ""

	db, err := sql.Open("sqlite3", dsn(path, inMemory))
	if err != nil {
		return nil, err
	}

	if inMemory {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{
		db:        db,
		queries:   NewQueryBook(opts.QueriesDir, opts.Development),
		dimension: opts.Dimension,
		metric:    opts.Metric,
		now:       func() time.Time { return time.Now().UTC() },
	}

	if !opts.Development {
		if err := s.queries.Preload(); err != nil {
			db.Close()
			return nil, err
		}
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("memory store opened", "path", path, "dimension", opts.Dimension, "metric", opts.Metric)

	return s, nil
}

func dsn(path string, inMemory bool) string {
	if inMemory {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}
	return "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	return s.checkStoredDimension()
}

// checkStoredDimension records the dimension on first open and refuses to
// reopen the database with a different one.
func (s *Store) checkStoredDimension() error {
	ctx := context.Background()

	insert, err := s.queries.Load(queryInsertMeta)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insert, metaDimension, strconv.Itoa(s.dimension)); err != nil {
		return err
	}

	sel, err := s.queries.Load(querySelectMeta)
	if err != nil {
		return err
	}

	var stored string
	if err := s.db.QueryRowContext(ctx, sel, metaDimension).Scan(&stored); err != nil {
		return err
	}

	if stored != strconv.Itoa(s.dimension) {
		return apperr.Validation("memory.Open", fmt.Sprintf("database holds %s-dimension embeddings, configured %d", stored, s.dimension))
	}

	return nil
}

func (s *Store) Dimension() int {
	return s.dimension
}

func (s *Store) Metric() Metric {
	return s.metric
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// withTx runs fn inside a transaction holding one connection; the
// connection is released on every path.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
