package state

import (
	"errors"
	"sort"
	"sync"

	"defiapps/storage"
)

// Journal buffers writes on top of a database so that a unit of work can be
// committed as a single batch or dropped entirely. Reads observe the pending
// writes of the journal before falling through to the database.
type Journal struct {
	mu      sync.RWMutex
	db      storage.Database
	pending map[string][]byte
	deleted map[string]struct{}
	closed  bool
}

var errJournalClosed = errors.New("state: journal already committed or discarded")

// NewJournal opens a write buffer over the supplied database.
func NewJournal(db storage.Database) *Journal {
	return &Journal{
		db:      db,
		pending: make(map[string][]byte),
		deleted: make(map[string]struct{}),
	}
}

// Get returns the buffered value for key, falling back to the database. A
// missing key yields storage.ErrNotFound.
func (j *Journal) Get(key []byte) ([]byte, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return nil, errJournalClosed
	}
	k := string(key)
	if value, ok := j.pending[k]; ok {
		return append([]byte(nil), value...), nil
	}
	if _, ok := j.deleted[k]; ok {
		return nil, storage.ErrNotFound
	}
	return j.db.Get(key)
}

// Put buffers a write.
func (j *Journal) Put(key []byte, value []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	delete(j.deleted, k)
	j.pending[k] = append([]byte(nil), value...)
	return nil
}

// Delete buffers a removal.
func (j *Journal) Delete(key []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errJournalClosed
	}
	k := string(key)
	delete(j.pending, k)
	j.deleted[k] = struct{}{}
	return nil
}

// Dirty reports the number of buffered writes and deletes.
func (j *Journal) Dirty() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.pending) + len(j.deleted)
}

// Commit flushes every buffered change to the database in one batch. The
// journal cannot be used afterwards.
func (j *Journal) Commit() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return errJournalClosed
	}
	j.closed = true
	if len(j.pending) == 0 && len(j.deleted) == 0 {
		return nil
	}
	batch := j.db.NewBatch()
	// Deterministic order keeps LevelDB batches reproducible.
	keys := make([]string, 0, len(j.pending))
	for k := range j.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		batch.Put([]byte(k), j.pending[k])
	}
	removed := make([]string, 0, len(j.deleted))
	for k := range j.deleted {
		removed = append(removed, k)
	}
	sort.Strings(removed)
	for _, k := range removed {
		batch.Delete([]byte(k))
	}
	return batch.Write()
}

// Discard drops all buffered changes.
func (j *Journal) Discard() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	j.pending = nil
	j.deleted = nil
}
