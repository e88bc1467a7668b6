// Package state implements the versioned state store: a per-contract,
// hierarchical, height-versioned key/value map with block-level
// atomicity and rollback by foreign-key cascade. It is
// grounded on stellar-slingshot's store.go/schema.go (single sqlite file,
// WAL + NORMAL sync, genesis-row bootstrap) and on original_source's
// core/kontor/src/database (tables.rs: WAL + NORMAL PRAGMAs; writer.rs:
// one writer connection for all block writes).
package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ouziel-slama/kontor/pkg/types"
)

// Store owns the single on-disk database file for one process instance.
// All block writes go through the dedicated writer connection returned by
// BeginBlock; Reader is a separate, larger pool for concurrent view
// queries. The writer connection is single-owner by construction.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open opens (creating if necessary) the sqlite database file at path,
// applies the schema, and configures WAL + NORMAL sync durability.
func Open(path string, readerPoolSize int) (*Store, error) {
	dsn := buildDSN(path)

	writer, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("state: opening writer connection: %w", err)
	}
	writer.SetMaxOpenConns(1) // single-owner writer

	if _, err := writer.Exec(schema); err != nil {
		writer.Close()
		return nil, fmt.Errorf("state: applying schema: %w", err)
	}

	reader, err := sql.Open("sqlite3", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("state: opening reader pool: %w", err)
	}
	if readerPoolSize <= 0 {
		readerPoolSize = 4
	}
	reader.SetMaxOpenConns(readerPoolSize)

	return &Store{writer: writer, reader: reader}, nil
}

// buildDSN appends the durability pragmas (WAL + NORMAL sync) to path,
// respecting any query string the caller already supplied (e.g.
// an in-memory shared-cache DSN used by tests). WAL is skipped for
// in-memory databases, which do not support it.
func buildDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	params := "_foreign_keys=on"
	if !strings.Contains(path, ":memory:") && !strings.Contains(path, "mode=memory") {
		params = "_journal_mode=WAL&_synchronous=NORMAL&" + params
	}
	return path + sep + params
}

// Close releases both connection pools.
func (s *Store) Close() error {
	werr := s.writer.Close()
	rerr := s.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// LatestHeight returns the highest processed height and its hash, or
// ok=false if the store is empty (a fresh DB that has never processed a
// block).
func (s *Store) LatestHeight(ctx context.Context) (height uint64, hash types.Hash256, ok bool, err error) {
	var raw []byte
	err = s.reader.QueryRowContext(ctx, `SELECT height, hash FROM blocks ORDER BY height DESC LIMIT 1`).Scan(&height, &raw)
	if err == sql.ErrNoRows {
		return 0, types.Hash256{}, false, nil
	}
	if err != nil {
		return 0, types.Hash256{}, false, fmt.Errorf("state: reading latest height: %w", err)
	}
	copy(hash[:], raw)
	return height, hash, true, nil
}

// BlockHash returns the stored hash for height, if any.
func (s *Store) BlockHash(ctx context.Context, height uint64) (types.Hash256, bool, error) {
	var raw []byte
	err := s.reader.QueryRowContext(ctx, `SELECT hash FROM blocks WHERE height = ?`, height).Scan(&raw)
	if err == sql.ErrNoRows {
		return types.Hash256{}, false, nil
	}
	if err != nil {
		return types.Hash256{}, false, fmt.Errorf("state: reading block hash at %d: %w", height, err)
	}
	var h types.Hash256
	copy(h[:], raw)
	return h, true, nil
}

// ReaderDB exposes the read pool for views and the registry/follower,
// which only ever issue read-only queries against it.
func (s *Store) ReaderDB() *sql.DB { return s.reader }
