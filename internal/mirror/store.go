package mirror

import (
	"context"
	"errors"
	"fmt"

	"attendsync/internal/metrics"
)

var ErrConflict = errors.New("mirror document changed concurrently")

const DefaultMaxAttempts = 5

// Backend is a versioned document table. Load returns version 0 and an empty
// document for users that have never been written. CompareAndSwap writes doc
// only if the stored version still equals expected and reports whether it did.
type Backend interface {
	Load(ctx context.Context, userID string) (Document, int64, error)
	CompareAndSwap(ctx context.Context, userID string, expected int64, doc Document) (bool, error)
}

// Store runs read-modify-write transactions against a Backend.
type Store struct {
	backend     Backend
	maxAttempts int
}

func NewStore(b Backend, maxAttempts int) *Store {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Store{backend: b, maxAttempts: maxAttempts}
}

func (s *Store) Get(ctx context.Context, userID string) (Document, error) {
	doc, _, err := s.backend.Load(ctx, userID)
	if err != nil {
		return Document{}, fmt.Errorf("loading mirror document: %w", err)
	}
	doc.UserID = userID
	return doc, nil
}

// Update re-reads the document, lets fn mutate it and writes it back only if
// nobody else wrote in between. Lost races are retried with a fresh read.
func (s *Store) Update(ctx context.Context, userID string, fn func(*Document) error) (Document, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Document{}, err
		}

		doc, version, err := s.backend.Load(ctx, userID)
		if err != nil {
			return Document{}, fmt.Errorf("loading mirror document: %w", err)
		}
		doc.UserID = userID

		if err := fn(&doc); err != nil {
			return Document{}, err
		}

		ok, err := s.backend.CompareAndSwap(ctx, userID, version, doc)
		if err != nil {
			return Document{}, fmt.Errorf("writing mirror document: %w", err)
		}
		if ok {
			return doc, nil
		}
		metrics.MirrorConflictsTotal.Inc()
	}
	return Document{}, fmt.Errorf("updating %s after %d attempts: %w", userID, s.maxAttempts, ErrConflict)
}
