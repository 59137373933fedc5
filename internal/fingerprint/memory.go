package fingerprint

import (
	"context"
	"sync"
	"time"
)

type slotState int

const (
	slotEmpty slotState = iota
	slotInFlight
	slotCached
)

type slot struct {
	mu       sync.Mutex
	state    slotState
	jobID    string
	cachedAt time.Time
	// removed is set by Sweep once the slot left the map; holders must re-lookup.
	removed bool
}

type MemoryConfig struct {
	TTL time.Duration
	Now func() time.Time
}

// MemoryIndex keeps one slot per fingerprint. The map lock is only held to
// find or insert a slot, so creates for different fingerprints never contend.
type MemoryIndex struct {
	mu    sync.Mutex
	slots map[string]*slot
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryIndex(config MemoryConfig) *MemoryIndex {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Minute
	}
	if config.Now == nil {
		config.Now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryIndex{
		slots: make(map[string]*slot),
		ttl:   config.TTL,
		now:   config.Now,
	}
}

func (m *MemoryIndex) Resolve(ctx context.Context, fingerprint string, create CreateFunc) (Resolution, error) {
	for {
		s := m.slotFor(fingerprint, true)
		s.mu.Lock()
		if s.removed {
			s.mu.Unlock()
			continue
		}

		switch s.state {
		case slotInFlight:
			jobID := s.jobID
			s.mu.Unlock()
			return Resolution{JobID: jobID}, nil
		case slotCached:
			if m.now().Sub(s.cachedAt) < m.ttl {
				jobID := s.jobID
				s.mu.Unlock()
				return Resolution{JobID: jobID, Cached: true}, nil
			}
		}

		if err := ctx.Err(); err != nil {
			s.mu.Unlock()
			return Resolution{}, err
		}
		jobID, err := create(ctx)
		if err != nil {
			s.state = slotEmpty
			s.jobID = ""
			s.mu.Unlock()
			return Resolution{}, err
		}
		s.state = slotInFlight
		s.jobID = jobID
		s.cachedAt = time.Time{}
		s.mu.Unlock()
		return Resolution{JobID: jobID, Created: true}, nil
	}
}

func (m *MemoryIndex) MarkTerminal(_ context.Context, fingerprint, jobID string) error {
	s := m.slotFor(fingerprint, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.jobID != jobID || s.state != slotInFlight {
		return nil
	}
	s.state = slotCached
	s.cachedAt = m.now()
	return nil
}

func (m *MemoryIndex) Forget(_ context.Context, fingerprint, jobID string) error {
	s := m.slotFor(fingerprint, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed || s.jobID != jobID {
		return nil
	}
	s.state = slotEmpty
	s.jobID = ""
	return nil
}

// Sweep drops expired cache entries and empty slots. Slots busy in a create
// are skipped and picked up by a later sweep.
func (m *MemoryIndex) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for fingerprint, s := range m.slots {
		if !s.mu.TryLock() {
			continue
		}
		expired := s.state == slotCached && now.Sub(s.cachedAt) >= m.ttl
		if expired || s.state == slotEmpty {
			s.removed = true
			delete(m.slots, fingerprint)
			purged++
		}
		s.mu.Unlock()
	}
	return purged
}

// RunSweeper sweeps on every tick until ctx is cancelled.
func (m *MemoryIndex) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len reports the number of tracked fingerprints.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *MemoryIndex) slotFor(fingerprint string, insert bool) *slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.slots[fingerprint]
	if !ok && insert {
		s = &slot{}
		m.slots[fingerprint] = s
	}
	return s
}
