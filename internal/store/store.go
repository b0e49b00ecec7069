package store

import (
	"github.com/jmoiron/sqlx"
)

// Store is the durable persistence layer. All reads exclude soft-deleted
// rows; all writes bump the row version for optimistic locking.
type Store struct {
	db *sqlx.DB
	q  *Queries
}

// New wraps an open database connection.
func New(db *sqlx.DB) (*Store, error) {
	q, err := LoadQueries(db)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, q: q}, nil
}

// Open connects to the database at dbURL and wraps it.
func Open(dbURL string) (*Store, error) {
	db, err := OpenDB(dbURL)
	if err != nil {
		return nil, err
	}
	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying connection for migrations and health checks.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
