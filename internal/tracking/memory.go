package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"backend-cycletracker/internal/shared/geo"

	"github.com/google/uuid"
)

// MemoryGateway keeps records in process. It backs the replay tool and
// deployments started without a database.
type MemoryGateway struct {
	mu         sync.Mutex
	sessions   map[string]SessionRecord
	aggregates map[string]UserAggregate
	creates    int
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		sessions:   map[string]SessionRecord{},
		aggregates: map[string]UserAggregate{},
	}
}

func (m *MemoryGateway) CreateSession(_ context.Context, userID string, startTime time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.sessions[id] = SessionRecord{ID: id, UserID: userID, StartTime: startTime, Status: StatusActive}
	m.creates++
	return id, nil
}

func (m *MemoryGateway) UpdateSession(_ context.Context, sessionID string, patch SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if patch.Status != "" {
		rec.Status = patch.Status
	}
	if patch.Stats != nil {
		rec.applyStats(*patch.Stats)
	}
	m.sessions[sessionID] = rec
	return nil
}

func (m *MemoryGateway) FinalizeSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[rec.ID]; !ok {
		return ErrNotFound
	}
	rec.Route = append([]geo.Sample(nil), rec.Route...)
	m.sessions[rec.ID] = rec
	return nil
}

func (m *MemoryGateway) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryGateway) GetSession(_ context.Context, sessionID string) (SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryGateway) SessionHistory(_ context.Context, userID string, limit int) ([]SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []SessionRecord{}
	for _, rec := range m.sessions {
		if rec.UserID == userID && rec.Status == StatusCompleted {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryGateway) UpdateUserAggregate(_ context.Context, userID string, delta AggregateDelta) (UserAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.aggregates[userID].Apply(delta)
	m.aggregates[userID] = next
	return next, nil
}

func (m *MemoryGateway) UserAggregate(_ context.Context, userID string) (UserAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aggregates[userID], nil
}

// Creates reports how many sessions have been created.
func (m *MemoryGateway) Creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}
