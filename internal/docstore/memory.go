package docstore

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local development.
// Apply stages every command against a snapshot and commits all-or-nothing
// under one lock, so batches are atomic the same way the Postgres store's
// transactions are. Subscriptions fire synchronously after each commit.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]map[string]*Document

	nextSubID int
	docSubs   map[int]*memDocSub
	querySubs map[int]*memQuerySub

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      map[string]map[string]*Document{},
		docSubs:   map[int]*memDocSub{},
		querySubs: map[int]*memQuerySub{},
		now:       time.Now,
	}
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(collection, id)
}

func (s *MemoryStore) getLocked(collection, id string) (*Document, error) {
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDocument(doc), nil
}

func (s *MemoryStore) Find(ctx context.Context, q Query) ([]*Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findLocked(q)
}

func (s *MemoryStore) findLocked(q Query) ([]*Document, error) {
	var out []*Document
	for _, doc := range s.docs[q.Collection] {
		ok, err := matches(doc, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, copyDocument(doc))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := orderLess(out[i], out[j], q.OrderBy)
			if q.Descending {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	if out == nil {
		out = []*Document{}
	}
	return out, nil
}

func matches(doc *Document, filters []Filter) (bool, error) {
	for _, f := range filters {
		got, present := lookupPath(doc.Data, f.Field)
		if !present {
			return false, nil
		}
		want, err := normalize(f.Value)
		if err != nil {
			return false, err
		}
		have, err := normalize(got)
		if err != nil {
			return false, err
		}
		if !equalJSON(want, have) {
			return false, nil
		}
	}
	return true, nil
}

func orderLess(a, b *Document, field string) bool {
	switch field {
	case "createdAt":
		return a.CreatedAt.Before(b.CreatedAt)
	case "updatedAt":
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	av, _ := lookupPath(a.Data, field)
	bv, _ := lookupPath(b.Data, field)
	ad, aok := toDecimal(av)
	bd, bok := toDecimal(bv)
	if aok && bok {
		return ad.LessThan(bd)
	}
	as, _ := av.(string)
	bs, _ := bv.(string)
	return as < bs
}

func (s *MemoryStore) Apply(ctx context.Context, cmds ...Command) error {
	if err := validateAll(cmds); err != nil {
		return err
	}

	s.mu.Lock()

	type staged struct {
		collection, id string
		body           map[string]interface{}
	}
	stagedDocs := make([]staged, 0, len(cmds))
	overlay := map[string]map[string]interface{}{}

	for _, cmd := range cmds {
		collection, id := cmd.Target()
		key := collection + "/" + id

		current, seen := overlay[key]
		if !seen {
			if doc, ok := s.docs[collection][id]; ok {
				current = doc.Data
			}
		}

		next, err := nextBody(cmd, current)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		overlay[key] = next
		stagedDocs = append(stagedDocs, staged{collection, id, next})
	}

	now := s.now()
	changed := make(map[string]map[string]bool)
	for _, st := range stagedDocs {
		coll := s.docs[st.collection]
		if coll == nil {
			coll = map[string]*Document{}
			s.docs[st.collection] = coll
		}
		doc, ok := coll[st.id]
		if !ok {
			doc = &Document{
				Collection: st.collection,
				ID:         st.id,
				CreatedAt:  now,
			}
			coll[st.id] = doc
		}
		doc.Data = st.body
		doc.UpdatedAt = now

		if changed[st.collection] == nil {
			changed[st.collection] = map[string]bool{}
		}
		changed[st.collection][st.id] = true
	}

	notifications := s.collectNotifications(changed)
	s.mu.Unlock()

	for _, fire := range notifications {
		fire()
	}
	return nil
}

type memDocSub struct {
	store      *MemoryStore
	id         int
	collection string
	docID      string
	fn         func(*Document)
	once       sync.Once
}

func (sub *memDocSub) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.docSubs, sub.id)
		sub.store.mu.Unlock()
	})
}

type memQuerySub struct {
	store *MemoryStore
	id    int
	query Query
	fn    func([]*Document)
	once  sync.Once
}

func (sub *memQuerySub) Unsubscribe() {
	sub.once.Do(func() {
		sub.store.mu.Lock()
		delete(sub.store.querySubs, sub.id)
		sub.store.mu.Unlock()
	})
}

func (s *MemoryStore) SubscribeDocument(ctx context.Context, collection, id string, fn func(*Document)) (Subscription, error) {
	s.mu.Lock()
	s.nextSubID++
	sub := &memDocSub{store: s, id: s.nextSubID, collection: collection, docID: id, fn: fn}
	s.docSubs[sub.id] = sub
	initial, err := s.getLocked(collection, id)
	s.mu.Unlock()

	if err == nil {
		fn(initial)
	} else if err != ErrNotFound {
		sub.Unsubscribe()
		return nil, err
	}
	return sub, nil
}

func (s *MemoryStore) SubscribeQuery(ctx context.Context, q Query, fn func([]*Document)) (Subscription, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.nextSubID++
	sub := &memQuerySub{store: s, id: s.nextSubID, query: q, fn: fn}
	s.querySubs[sub.id] = sub
	initial, err := s.findLocked(q)
	s.mu.Unlock()

	if err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	fn(initial)
	return sub, nil
}

// collectNotifications builds the callbacks to fire for a committed change
// set. Called with the lock held; the callbacks run after release so a
// listener can issue store calls without deadlocking.
func (s *MemoryStore) collectNotifications(changed map[string]map[string]bool) []func() {
	var fires []func()

	for _, sub := range s.docSubs {
		ids := changed[sub.collection]
		if ids == nil || !ids[sub.docID] {
			continue
		}
		doc, err := s.getLocked(sub.collection, sub.docID)
		if err != nil {
			continue
		}
		sub := sub
		fires = append(fires, func() { sub.fn(doc) })
	}

	for _, sub := range s.querySubs {
		if changed[sub.query.Collection] == nil {
			continue
		}
		docs, err := s.findLocked(sub.query)
		if err != nil {
			continue
		}
		sub := sub
		fires = append(fires, func() { sub.fn(docs) })
	}

	return fires
}

func copyDocument(doc *Document) *Document {
	data, _ := cloneBody(doc.Data)
	return &Document{
		Collection: doc.Collection,
		ID:         doc.ID,
		Data:       data,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}

func equalJSON(a, b interface{}) bool {
	if ad, ok := toDecimal(a); ok {
		if bd, ok := toDecimal(b); ok {
			return ad.Equal(bd)
		}
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case nil:
		return b == nil
	default:
		an, err1 := normalize(a)
		bn, err2 := normalize(b)
		if err1 != nil || err2 != nil {
			return false
		}
		ab, _ := json.Marshal(an)
		bb, _ := json.Marshal(bn)
		return string(ab) == string(bb)
	}
}
