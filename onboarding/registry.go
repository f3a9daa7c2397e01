package onboarding

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hearth-home/hearth/onboarding/metrics"
)

const (
	defaultIdleTTL       = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// ManagerOptions tune the conversation registry.
type ManagerOptions struct {
	// IdleTTL evicts conversations that have been quiet this long.
	IdleTTL time.Duration

	// SweepInterval is how often idle conversations are checked.
	SweepInterval time.Duration

	// Engine is the option template applied to every new conversation.
	Engine Options
}

// Manager holds at most one engine per (family, user) identity and evicts
// the ones that go quiet. Family-name resolution is deduplicated across all
// conversations, so two people onboarding the same household concurrently
// bind to the same family record.
type Manager struct {
	backend Backend
	log     *slog.Logger
	rec     *metrics.Recorder
	opts    ManagerOptions

	mu      sync.RWMutex
	engines map[string]*Engine

	resolveG  singleflight.Group
	resolveMu sync.Mutex
	resolved  map[string]string

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager builds the registry and starts its idle sweeper.
func NewManager(b Backend, opts ManagerOptions) *Manager {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = slog.Default()
	}
	if opts.Engine.Metrics == nil {
		opts.Engine.Metrics = metrics.NewRecorder(metrics.DefaultConfig())
	}

	m := &Manager{
		backend:  b,
		log:      opts.Engine.Logger,
		rec:      opts.Engine.Metrics,
		opts:     opts,
		engines:  make(map[string]*Engine),
		resolved: make(map[string]string),
		done:     make(chan struct{}),
	}
	go m.sweepLoop()
	return m
}

func conversationKey(familyID, userID string) string {
	return familyID + "|" + userID
}

// GetOrCreate returns the identity's conversation, starting one at the
// greeting when none exists.
func (m *Manager) GetOrCreate(familyID, userID string) *Engine {
	key := conversationKey(familyID, userID)

	m.mu.RLock()
	eng, ok := m.engines[key]
	m.mu.RUnlock()
	if ok {
		return eng
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if eng, ok := m.engines[key]; ok {
		return eng
	}

	engOpts := m.opts.Engine
	engOpts.ResolveFamily = m.resolveFamily
	eng = NewEngine(m.backend, "", familyID, userID, engOpts)
	m.engines[key] = eng
	m.rec.SetActiveConversations(len(m.engines))
	m.log.Info("conversation started",
		"conversation", eng.ConversationID(), "family_id", familyID, "user_id", userID)
	return eng
}

// Get returns the identity's conversation when one is active.
func (m *Manager) Get(familyID, userID string) (*Engine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	eng, ok := m.engines[conversationKey(familyID, userID)]
	return eng, ok
}

// Remove drops the identity's conversation outright.
func (m *Manager) Remove(familyID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := conversationKey(familyID, userID)
	if _, ok := m.engines[key]; !ok {
		return
	}
	delete(m.engines, key)
	m.rec.SetActiveConversations(len(m.engines))
}

// States snapshots every active conversation.
func (m *Manager) States() []ConversationState {
	m.mu.RLock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, eng := range m.engines {
		engines = append(engines, eng)
	}
	m.mu.RUnlock()

	states := make([]ConversationState, 0, len(engines))
	for _, eng := range engines {
		states = append(states, eng.Snapshot())
	}
	return states
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.engines)
}

// resolveFamily collapses concurrent resolutions of the same family name
// into one backend call and caches the resulting id.
func (m *Manager) resolveFamily(ctx context.Context, familyName string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(familyName))

	m.resolveMu.Lock()
	if id, ok := m.resolved[key]; ok {
		m.resolveMu.Unlock()
		return id, nil
	}
	m.resolveMu.Unlock()

	v, err, _ := m.resolveG.Do(key, func() (any, error) {
		return m.backend.ResolveFamily(ctx, familyName)
	})
	if err != nil {
		return "", err
	}
	id := v.(string)

	m.resolveMu.Lock()
	m.resolved[key] = id
	m.resolveMu.Unlock()
	return id, nil
}

func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweepOnce()
		case <-m.done:
			return
		}
	}
}

// sweepOnce evicts conversations idle past the TTL, skipping any with a
// stream still in flight.
func (m *Manager) sweepOnce() {
	cutoff := time.Now().Add(-m.opts.IdleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, eng := range m.engines {
		if eng.Busy() || eng.LastActive().After(cutoff) {
			continue
		}
		delete(m.engines, key)
		m.log.Info("conversation evicted", "conversation", eng.ConversationID())
	}
	m.rec.SetActiveConversations(len(m.engines))
}

// Close stops the sweeper. Active conversations are left to their request
// contexts; the registry simply stops tracking them.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.mu.Lock()
	m.engines = make(map[string]*Engine)
	m.rec.SetActiveConversations(0)
	m.mu.Unlock()
}
