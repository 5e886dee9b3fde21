package jobs

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists job records.
type Store interface {
	// Create stores rec and returns its assigned ID.
	Create(ctx context.Context, rec *Record) (string, error)
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, filter ListFilter) ([]*Record, error)
	UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error
	UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error
	SetResult(ctx context.Context, id string, result json.RawMessage) error
	Delete(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// ListFilter specifies criteria for listing jobs. Results are newest first.
type ListFilter struct {
	Statuses []Status // any of these (empty = all)
	JobType  string   // empty = all
	Limit    int      // 0 = 100
}

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return 100
	}
	return f.Limit
}

func (f ListFilter) matches(r *Record) bool {
	if f.JobType != "" && r.JobType != f.JobType {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

// MemoryStore keeps records in memory. Used in tests and with
// store.backend=memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, rec *Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRecord(rec)
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.records[cp.ID] = cp
	return cp.ID, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if filter.matches(rec) {
			out = append(out, cloneRecord(rec))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, errMsg string) error {
	return s.update(id, func(r *Record, now time.Time) { r.applyStatus(status, errMsg, now) })
}

func (s *MemoryStore) UpdateMetadata(_ context.Context, id string, metadata map[string]any) error {
	return s.update(id, func(r *Record, now time.Time) {
		r.Metadata = cloneMap(metadata)
		r.UpdatedAt = now
	})
}

func (s *MemoryStore) SetResult(_ context.Context, id string, result json.RawMessage) error {
	return s.update(id, func(r *Record, now time.Time) {
		r.Result = append(json.RawMessage(nil), result...)
		r.UpdatedAt = now
	})
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) update(id string, fn func(*Record, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	fn(rec, s.now())
	return nil
}

func cloneRecord(r *Record) *Record {
	cp := *r
	cp.Input = append(json.RawMessage(nil), r.Input...)
	cp.Result = append(json.RawMessage(nil), r.Result...)
	cp.Metadata = cloneMap(r.Metadata)
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
