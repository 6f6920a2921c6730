package segment

import (
	"context"
	"sync"

	"github.com/signaldata/loaderengine/pkg/models"
)

// fakeStore is an in-memory Store simulating the atomic-upsert
// invariant: the first inserter for a given (loaderCode, tuple) wins,
// guarded here by a mutex in place of the real implementation's unique
// index / ON CONFLICT clause.
type fakeStore struct {
	mu    sync.Mutex
	codes map[string]map[string]int64
	next  map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		codes: make(map[string]map[string]int64),
		next:  make(map[string]int64),
	}
}

func (f *fakeStore) GetOrCreateCode(ctx context.Context, loaderCode string, tuple models.SegmentTuple) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.codes[loaderCode] == nil {
		f.codes[loaderCode] = make(map[string]int64)
	}
	key := tupleField(tuple)
	if code, ok := f.codes[loaderCode][key]; ok {
		return code, nil
	}

	f.next[loaderCode]++
	code := f.next[loaderCode]
	f.codes[loaderCode][key] = code
	return code, nil
}
