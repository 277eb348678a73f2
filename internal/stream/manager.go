package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/backend"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
)

// ErrUnknownSource is returned for a source id with no session.
var ErrUnknownSource = errors.New("unknown source")

// SourceLister is the registry of known sources.
type SourceLister interface {
	Sources(ctx context.Context) ([]types.SourceInfo, error)
}

// Manager owns one Session per registered source. Sessions share nothing.
type Manager struct {
	sub  backend.Subscriber
	opts Options

	mu       sync.RWMutex
	sources  []types.SourceInfo
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(sub backend.Subscriber, opts Options) *Manager {
	return &Manager{
		sub:      sub,
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Activate fetches the registry once and opens a session per source. On a
// fetch error nothing is opened and the caller must activate again to retry.
func (m *Manager) Activate(ctx context.Context, reg SourceLister) (int, error) {
	sources, err := reg.Sources(ctx)
	if err != nil {
		logger.Warn("Registry", "Failed to fetch sources: %v", err)
		return 0, fmt.Errorf("fetch sources: %w", err)
	}
	logger.Info("Registry", "%d source(s) registered", len(sources))
	return m.Open(ctx, sources), nil
}

// Open starts sessions for sources not already open and returns how many were started.
func (m *Manager) Open(ctx context.Context, sources []types.SourceInfo) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	opened := 0
	for _, src := range sources {
		if src.ID == "" {
			continue
		}
		if _, ok := m.sessions[src.ID]; ok {
			continue
		}
		s := NewSession(src.ID, m.sub, m.opts)
		if err := s.Start(ctx); err != nil {
			logger.Warn("Registry", "Failed to start session %s: %v", src.ID, err)
			continue
		}
		m.sessions[src.ID] = s
		m.sources = append(m.sources, src)
		opened++
	}
	return opened
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	return s, nil
}

// Sources returns the registered sources in registry order.
func (m *Manager) Sources() []types.SourceInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]types.SourceInfo(nil), m.sources...)
}

// Sessions returns the open sessions in registry order.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, m.sessions[src.ID])
	}
	return out
}

// Remove tears down and forgets the session for id.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		for i, src := range m.sources {
			if src.ID == id {
				m.sources = append(m.sources[:i], m.sources[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}
	s.Close()
	return nil
}

// Close tears every session down and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.sources = nil
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	for _, s := range sessions {
		s.Wait()
	}
}
