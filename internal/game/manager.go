package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gokatarajesh/selfie-quiz/internal/camera"
	"github.com/gokatarajesh/selfie-quiz/internal/config"
	"github.com/gokatarajesh/selfie-quiz/internal/question"
)

const storeTimeout = 2 * time.Second

// ManagerOptions wires the per-session collaborators.
type ManagerOptions struct {
	Bank      *question.Bank
	Session   Options
	Camera    camera.Options
	Source    string // config.CameraSourcePush or config.CameraSourceFile
	File      string
	Generator ImageGenerator
	Store     SnapshotStore // optional
	Notifier  Notifier      // optional
	Metrics   *Metrics
	IdleTTL   time.Duration
	Interval  time.Duration
}

// Manager owns the live sessions of this process.
type Manager struct {
	opts   ManagerOptions
	logger zerolog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
}

type entry struct {
	session *Session
	device  *camera.PushDevice // nil unless the push source is used
	unsub   func()

	// mirrorMu guards deleted; saves counts mirror writes in flight.
	mirrorMu sync.Mutex
	deleted  bool
	saves    sync.WaitGroup
}

// NewManager creates a manager. A nil Bank uses the built-in questions.
func NewManager(opts ManagerOptions, logger zerolog.Logger) *Manager {
	if opts.Bank == nil {
		opts.Bank = question.Default()
	}
	if opts.Source == "" {
		opts.Source = config.CameraSourcePush
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 30 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Manager{
		opts:     opts,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[uuid.UUID]*entry),
	}
}

// Create starts a new session in LANDING.
func (m *Manager) Create() *Session {
	id := uuid.New()
	logger := m.logger.With().Str("session_id", id.String()).Logger()

	e := &entry{}
	var device camera.Device
	switch m.opts.Source {
	case config.CameraSourceFile:
		device = camera.NewFileDevice(m.opts.File)
	default:
		e.device = camera.NewPushDevice()
		if n := m.opts.Notifier; n != nil {
			e.device.OnOpen(func(c camera.Constraints) { n.CameraRequested(id, c) })
		}
		device = e.device
	}
	capturer := camera.NewCapturer(device, m.opts.Camera, logger)

	e.session = NewSession(id, m.opts.Bank, capturer, m.opts.Generator, m.opts.Session, m.opts.Metrics, m.logger)
	e.unsub = e.session.Subscribe(func(evt Event) { m.fanOut(e, evt) })

	m.mu.Lock()
	m.sessions[id] = e
	m.mu.Unlock()

	m.opts.Metrics.created()
	m.fanOut(e, Event{Type: EventState, Snapshot: e.session.Snapshot()})
	logger.Info().Msg("session created")
	return e.session
}

// Get returns a live session.
func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.session, nil
}

// Camera returns the push device of a live session, or nil when the session
// captures from another source.
func (m *Manager) Camera(id uuid.UUID) (*camera.PushDevice, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return e.device, nil
}

// Lookup returns the snapshot of a live session, falling back to the store
// for sessions this process no longer holds.
func (m *Manager) Lookup(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	if s, err := m.Get(id); err == nil {
		return s.Snapshot(), nil
	}
	if m.opts.Store == nil {
		return Snapshot{}, ErrSessionNotFound
	}
	snap, err := m.opts.Store.Load(ctx, id)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return Snapshot{}, ErrSessionNotFound
	}
	return *snap, nil
}

// Remove closes a session and forgets it, including its mirrored snapshot.
// Mirror writes still in flight are drained first so none lands after the
// delete.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	e := m.evict(id)
	if e == nil {
		return ErrSessionNotFound
	}
	e.mirrorMu.Lock()
	e.deleted = true
	e.mirrorMu.Unlock()
	e.saves.Wait()

	if m.opts.Store != nil {
		if err := m.opts.Store.Delete(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("session_id", id.String()).Msg("delete snapshot failed")
		}
	}
	return nil
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep evicts sessions idle since before now minus the idle TTL and returns
// how many were removed. Their mirrored snapshots are kept until they expire.
func (m *Manager) Sweep(now time.Time) int {
	cutoff := now.Add(-m.opts.IdleTTL)

	m.mu.RLock()
	var idle []uuid.UUID
	for id, e := range m.sessions {
		if e.session.UpdatedAt().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range idle {
		if m.evict(id) != nil {
			removed++
		}
	}
	if removed > 0 {
		m.logger.Info().Int("removed", removed).Msg("idle sessions swept")
	}
	return removed
}

// Run sweeps idle sessions on every interval and blocks until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close evicts every session.
func (m *Manager) Close() {
	m.mu.RLock()
	ids := make([]uuid.UUID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.evict(id)
	}
}

func (m *Manager) evict(id uuid.UUID) *entry {
	m.mu.Lock()
	e, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	e.unsub()
	e.session.Close()
	m.opts.Metrics.removed()
	return e
}

func (m *Manager) fanOut(e *entry, evt Event) {
	if n := m.opts.Notifier; n != nil {
		n.SessionUpdated(evt)
	}
	if m.opts.Store == nil {
		return
	}

	e.mirrorMu.Lock()
	if e.deleted {
		e.mirrorMu.Unlock()
		return
	}
	e.saves.Add(1)
	e.mirrorMu.Unlock()

	go func() {
		defer e.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := m.opts.Store.Save(ctx, evt.Snapshot); err != nil {
			m.logger.Warn().Err(err).Str("session_id", evt.Snapshot.ID.String()).Msg("mirror snapshot failed")
		}
	}()
}
