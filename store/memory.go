package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"presence-backend/models"
)

// Memory is an in-process CheckInStore and EventStore with the same
// uniqueness rules as Postgres.
type Memory struct {
	mu       sync.RWMutex
	checkins map[string]models.CheckIn
	byToken  map[string]string
	byTx     map[string]string
	events   map[string]models.Event
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		checkins: make(map[string]models.CheckIn),
		byToken:  make(map[string]string),
		byTx:     make(map[string]string),
		events:   make(map[string]models.Event),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func pairKey(userID, eventID string) string {
	return userID + "\x00" + eventID
}

func (m *Memory) withEvent(c models.CheckIn) models.CheckIn {
	if e, ok := m.events[c.EventID]; ok {
		c.EventName = e.Name
		c.EventImage = e.ImageURL
	}
	return c
}

func (m *Memory) GetCheckIn(_ context.Context, userID, eventID string) (*models.CheckIn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.checkins[pairKey(userID, eventID)]
	if !ok {
		return nil, ErrNotFound
	}
	c = m.withEvent(c)
	return &c, nil
}

func (m *Memory) CreateCheckIn(_ context.Context, c models.CheckIn) (*models.CheckIn, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey(c.UserID, c.EventID)
	if existing, ok := m.checkins[key]; ok {
		existing = m.withEvent(existing)
		if existing.SameMint(c) {
			return &existing, false, nil
		}
		return nil, false, &ConflictError{Field: ConflictUserEvent, Existing: &existing}
	}
	if _, ok := m.byToken[c.TokenID]; ok {
		return nil, false, &ConflictError{Field: ConflictTokenID}
	}
	if _, ok := m.byTx[c.TxRef]; ok {
		return nil, false, &ConflictError{Field: ConflictTxRef}
	}

	now := m.now()
	c.ID = uuid.New().String()
	if c.CheckedInAt.IsZero() {
		c.CheckedInAt = now
	}
	c.CreatedAt = now
	c.EventName, c.EventImage = "", ""

	m.checkins[key] = c
	m.byToken[c.TokenID] = key
	m.byTx[c.TxRef] = key

	out := m.withEvent(c)
	return &out, true, nil
}

func (m *Memory) ListByUser(_ context.Context, userID string, page Page) ([]models.CheckIn, int, error) {
	return m.list(func(c models.CheckIn) bool { return c.UserID == userID }, page)
}

func (m *Memory) ListByEvent(_ context.Context, eventID string, page Page) ([]models.CheckIn, int, error) {
	return m.list(func(c models.CheckIn) bool { return c.EventID == eventID }, page)
}

func (m *Memory) list(match func(models.CheckIn) bool, page Page) ([]models.CheckIn, int, error) {
	page = page.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []models.CheckIn
	for _, c := range m.checkins {
		if match(c) {
			all = append(all, m.withEvent(c))
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CheckedInAt.Equal(all[j].CheckedInAt) {
			return all[i].CheckedInAt.After(all[j].CheckedInAt)
		}
		return all[i].ID < all[j].ID
	})

	out := []models.CheckIn{}
	start := page.Offset()
	if start < len(all) {
		end := start + page.PageSize
		if end > len(all) {
			end = len(all)
		}
		out = append(out, all[start:end]...)
	}
	return out, len(all), nil
}

func (m *Memory) CreateEvent(_ context.Context, e models.Event) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, ok := m.events[e.ID]; ok {
		return nil, &ConflictError{Field: ConflictEventID}
	}
	now := m.now()
	e.CreatedAt, e.UpdatedAt = now, now
	m.events[e.ID] = e
	return &e, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*models.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}
