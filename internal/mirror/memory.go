package mirror

import (
	"context"
	"sync"
)

type memEntry struct {
	doc     Document
	version int64
}

// MemoryBackend keeps documents in process. It is used when no database is
// configured and by tests.
type MemoryBackend struct {
	mu   sync.Mutex
	docs map[string]memEntry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]memEntry)}
}

func (m *MemoryBackend) Load(_ context.Context, userID string) (Document, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.docs[userID]
	if !ok {
		return Document{UserID: userID}, 0, nil
	}
	return e.doc.Clone(), e.version, nil
}

func (m *MemoryBackend) CompareAndSwap(_ context.Context, userID string, expected int64, doc Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docs[userID].version != expected {
		return false, nil
	}
	m.docs[userID] = memEntry{doc: doc.Clone(), version: expected + 1}
	return true, nil
}

// Put seeds a document, replacing whatever was stored.
func (m *MemoryBackend) Put(userID string, doc Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc.UserID = userID
	m.docs[userID] = memEntry{doc: doc.Clone(), version: m.docs[userID].version + 1}
}

func (m *MemoryBackend) Version(userID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.docs[userID].version
}
