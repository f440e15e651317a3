// Package testutil provides an in-memory document store fake and fixture
// builders for exercising the diagnostic walk without a live server.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/mawkee/txndoctor/internal/store"
	"github.com/mawkee/txndoctor/internal/txn"
)

// FakeStore is an in-memory store.Reader. Documents live per collection
// in insertion order, which stands in for natural order on scans.
//
// Filter matching is top-level field equality with byte-strict BSON
// comparison: fixtures must use the same numeric width the filter builder
// produces (int32 for small Go ints). The fake exercises walk logic, it
// does not reimplement server query semantics.
//
// Thread-safety: all methods take the internal mutex, though the walk
// under test is single-threaded.
type FakeStore struct {
	mu          sync.Mutex
	colls       map[string][]bson.Raw
	calls       map[string]int
	failFindOne map[string]error
	failFind    map[string]error
}

var _ store.Reader = (*FakeStore)(nil)

// NewFakeStore creates an empty fake store.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		colls:       make(map[string][]bson.Raw),
		calls:       make(map[string]int),
		failFindOne: make(map[string]error),
		failFind:    make(map[string]error),
	}
}

// MustInsert appends documents to a collection. Values may be anything
// bson.Marshal accepts or a ready bson.Raw. Panics on marshal failure:
// a broken fixture is a test bug, not a runtime condition.
func (s *FakeStore) MustInsert(collection string, docs ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		raw, ok := doc.(bson.Raw)
		if !ok {
			b, err := bson.Marshal(doc)
			if err != nil {
				panic(fmt.Sprintf("testutil: marshal fixture for %s: %v", collection, err))
			}

			raw = bson.Raw(b)
		}

		s.colls[collection] = append(s.colls[collection], raw)
	}
}

// FailFindOne makes every FindOne against collection return err.
func (s *FakeStore) FailFindOne(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFindOne[collection] = err
}

// FailFind makes every Find against collection return err.
func (s *FakeStore) FailFind(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFind[collection] = err
}

// FindOneCalls reports how many FindOne queries hit a collection. Walk
// tests use it to prove no lookup was issued past a visit limit.
func (s *FakeStore) FindOneCalls(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls["findone:"+collection]
}

// FindCalls reports how many Find queries hit a collection.
func (s *FakeStore) FindCalls(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls["find:"+collection]
}

// FindOne implements store.Reader.
func (s *FakeStore) FindOne(_ context.Context, collection string, filter bson.D) (bson.Raw, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["findone:"+collection]++

	if err := s.failFindOne[collection]; err != nil {
		return nil, err
	}

	for _, doc := range s.colls[collection] {
		if matches(doc, filter) {
			return doc, nil
		}
	}

	return nil, errors.Wrapf(txn.ErrNotFound, "collection %s", collection)
}

// Find implements store.Reader.
func (s *FakeStore) Find(_ context.Context, collection string, filter bson.D) (store.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["find:"+collection]++

	if err := s.failFind[collection]; err != nil {
		return nil, err
	}

	var hits []bson.Raw

	for _, doc := range s.colls[collection] {
		if matches(doc, filter) {
			hits = append(hits, doc)
		}
	}

	return &fakeCursor{docs: hits}, nil
}

// matches checks top-level field equality of doc against filter.
func matches(doc bson.Raw, filter bson.D) bool {
	if len(filter) == 0 {
		return true
	}

	fb, err := bson.Marshal(filter)
	if err != nil {
		return false
	}

	elems, err := bson.Raw(fb).Elements()
	if err != nil {
		return false
	}

	for _, e := range elems {
		dv, err := doc.LookupErr(e.Key())
		if err != nil {
			return false
		}

		if !dv.Equal(e.Value()) {
			return false
		}
	}

	return true
}

// fakeCursor iterates a snapshot of matching documents.
type fakeCursor struct {
	docs   []bson.Raw
	pos    int
	closed bool
}

func (c *fakeCursor) Next(context.Context) bool {
	if c.closed || c.pos >= len(c.docs) {
		return false
	}

	c.pos++

	return true
}

func (c *fakeCursor) Current() bson.Raw {
	if c.pos == 0 || c.pos > len(c.docs) {
		return nil
	}

	return c.docs[c.pos-1]
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Close(context.Context) error {
	c.closed = true
	return nil
}
