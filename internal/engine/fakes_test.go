package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tazhate/coursesync/internal/domain"
)

var errBoom = errors.New("boom")

type memStore struct {
	mu          sync.Mutex
	nextID      int64
	records     []domain.SyncedRecord
	collections []domain.Collection

	findErr         error
	createRecordErr map[string]error // by uid
}

func newMemStore() *memStore {
	return &memStore{createRecordErr: map[string]error{}}
}

func (s *memStore) FindExisting(_ context.Context, ownerID int64, d domain.Destination) ([]domain.SyncedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	var out []domain.SyncedRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID && r.Destination == d {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) CreateRecord(_ context.Context, rec *domain.SyncedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.createRecordErr[rec.UID()]; err != nil {
		return err
	}
	for _, r := range s.records {
		if r.OwnerID == rec.OwnerID && r.Destination == rec.Destination &&
			r.CollectionID == rec.CollectionID && r.StableKey == rec.StableKey {
			return fmt.Errorf("duplicate record %s", rec.StableKey)
		}
	}
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, *rec)
	return nil
}

func (s *memStore) UpdateRecord(_ context.Context, rec *domain.SyncedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = *rec
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) DeleteRecord(_ context.Context, rec *domain.SyncedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records = append(s.records[:i], s.records[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memStore) FindCollection(_ context.Context, ownerID int64, d domain.Destination, name string) (*domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.collections {
		if c.OwnerID == ownerID && c.Destination == d && c.Name == name {
			c := c
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) CreateCollection(_ context.Context, c *domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	c.ID = s.nextID
	s.collections = append(s.collections, *c)
	return nil
}

func (s *memStore) ListCollections(_ context.Context, ownerID int64, d domain.Destination) ([]domain.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Collection
	for _, c := range s.collections {
		if c.OwnerID == ownerID && c.Destination == d {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) DeleteCollection(_ context.Context, c *domain.Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.collections {
		if s.collections[i].ID == c.ID {
			s.collections = append(s.collections[:i], s.collections[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

// add seeds a record as if a previous run had written it
func (s *memStore) add(rec domain.SyncedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	rec.ID = s.nextID
	s.records = append(s.records, rec)
}

func (s *memStore) keys(d domain.Destination) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.records {
		if r.Destination == d {
			out = append(out, r.StableKey)
		}
	}
	return out
}

type memRemote struct {
	mu           sync.Mutex
	unconfigured bool
	seq          int
	items        map[string]map[string]domain.SourceItem // collection -> external id -> item
	collections  []string

	createErr     map[string]error // by uid
	updateErr     map[string]error // by uid
	deleteErr     map[string]error // by external id
	collectionErr error
	dropErr       error

	dropped []string

	calls   int
	onCall  func()
	creates int
	updates int
	deletes int
}

func newMemRemote() *memRemote {
	return &memRemote{
		items:     map[string]map[string]domain.SourceItem{},
		createErr: map[string]error{},
		updateErr: map[string]error{},
		deleteErr: map[string]error{},
	}
}

func (m *memRemote) IsConfigured() bool { return !m.unconfigured }

func (m *memRemote) call() {
	m.calls++
	if m.onCall != nil {
		m.onCall()
	}
}

func (m *memRemote) CreateItem(_ context.Context, collectionID string, item domain.SourceItem) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call()
	if err := m.createErr[item.UID]; err != nil {
		return "", err
	}
	m.seq++
	m.creates++
	id := fmt.Sprintf("ext-%d", m.seq)
	if m.items[collectionID] == nil {
		m.items[collectionID] = map[string]domain.SourceItem{}
	}
	m.items[collectionID][id] = item
	return id, nil
}

func (m *memRemote) UpdateItem(_ context.Context, collectionID, externalID string, item domain.SourceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call()
	if err := m.updateErr[item.UID]; err != nil {
		return err
	}
	if _, ok := m.items[collectionID][externalID]; !ok {
		return domain.ErrNotFound
	}
	m.updates++
	m.items[collectionID][externalID] = item
	return nil
}

func (m *memRemote) DeleteItem(_ context.Context, collectionID, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.call()
	if err := m.deleteErr[externalID]; err != nil {
		return err
	}
	if _, ok := m.items[collectionID][externalID]; !ok {
		return domain.ErrNotFound
	}
	m.deletes++
	delete(m.items[collectionID], externalID)
	return nil
}

func (m *memRemote) CreateCollection(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collectionErr != nil {
		return "", m.collectionErr
	}
	m.collections = append(m.collections, name)
	return "coll-" + name, nil
}

func (m *memRemote) DeleteCollection(_ context.Context, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dropErr != nil {
		return m.dropErr
	}
	m.dropped = append(m.dropped, externalID)
	delete(m.items, externalID)
	return nil
}

// seed places an item downstream and returns the record a previous run would have stored
func (m *memRemote) seed(ownerID int64, d domain.Destination, collectionID string, item domain.SourceItem) domain.SyncedRecord {
	id, err := m.CreateItem(context.Background(), collectionID, item)
	if err != nil {
		panic(err)
	}
	m.mu.Lock()
	m.creates--
	m.calls--
	m.mu.Unlock()
	rec := domain.SyncedRecord{
		OwnerID:      ownerID,
		Destination:  d,
		CollectionID: collectionID,
		ExternalID:   id,
		SyncedAt:     fixedNow,
	}
	rec.Apply(item, domain.Fingerprint(item))
	return rec
}

func (m *memRemote) count(collectionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[collectionID])
}

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func srcItem(uid, course string, cat domain.Category) domain.SourceItem {
	start := fixedNow.Add(48 * time.Hour)
	return domain.SourceItem{
		UID:        uid,
		Title:      "Item " + uid,
		CourseCode: course,
		Category:   cat,
		Start:      start,
		End:        start.Add(time.Hour),
	}
}
