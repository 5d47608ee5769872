package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateReady         State = "ready"
	StateError         State = "error"
)

// Deriver produces a fresh token. *Engine is the production implementation.
type Deriver interface {
	Derive(ctx context.Context) Result
}

// Stats is a snapshot for diagnostics.
type Stats struct {
	State        State      `json:"state"`
	TokenPreview string     `json:"tokenPreview,omitempty"`
	Method       Method     `json:"method,omitempty"`
	CreatedAt    *time.Time `json:"createdAt,omitempty"`
	Derivations  int        `json:"derivations"`
	Resets       int        `json:"resets"`
	LastError    string     `json:"lastError,omitempty"`
}

// Manager owns the identity token for one client context. It is the single
// writer of TokenKey and DeviceMetaKey in its Storage.
type Manager struct {
	store  Storage
	engine Deriver
	purger Purger
	log    *zap.Logger

	purgeAttempts int
	purgeBackoff  time.Duration

	sf   singleflight.Group
	opMu sync.Mutex // serializes initialize, reset, delete

	mu          sync.RWMutex
	state       State
	token       string
	meta        *DeviceMeta
	lastErr     error
	derivations int
	resets      int
}

type ManagerOption func(*Manager)

func WithPurger(p Purger) ManagerOption { return func(m *Manager) { m.purger = p } }

func WithManagerLogger(l *zap.Logger) ManagerOption { return func(m *Manager) { m.log = l } }

// WithPurgeRetry sets how many times DeleteData calls the purger and the base backoff.
func WithPurgeRetry(attempts int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		if attempts > 0 {
			m.purgeAttempts = attempts
		}
		if backoff >= 0 {
			m.purgeBackoff = backoff
		}
	}
}

func NewManager(store Storage, engine Deriver, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:         store,
		engine:        engine,
		state:         StateUninitialized,
		purgeAttempts: 3,
		purgeBackoff:  200 * time.Millisecond,
	}
	for _, o := range opts {
		o(m)
	}
	if m.log == nil {
		m.log = logger.Named("identity")
	}
	return m
}

// Initialize makes a token available. Concurrent callers share one derivation.
// When the store rejects the write the token is still returned, together with
// an error wrapping ErrStorageUnavailable, and the state becomes StateError.
func (m *Manager) Initialize(ctx context.Context) (string, error) {
	if tok, ok, err := m.current(); ok {
		return tok, err
	}

	v, err, _ := m.sf.Do("init", func() (interface{}, error) {
		m.opMu.Lock()
		defer m.opMu.Unlock()
		return m.initializeLocked(ctx)
	})
	tok, _ := v.(string)
	return tok, err
}

// current reports an already established token. A token that only lives in
// memory after a storage failure is returned with that failure.
func (m *Manager) current() (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch {
	case m.token == "":
		return "", false, nil
	case m.state == StateError:
		return m.token, true, m.lastErr
	default:
		return m.token, true, nil
	}
}

func (m *Manager) initializeLocked(ctx context.Context) (string, error) {
	if tok, ok, err := m.current(); ok {
		return tok, err
	}

	m.setState(StateInitializing)

	if tok, meta, ok := m.loadStored(); ok {
		m.adopt(tok, meta)
		m.log.Debug("adopted stored identity", zap.String("token", utils.TokenPreview(tok)))
		return tok, nil
	}
	return m.deriveAndPersist(ctx)
}

// Reset discards the current identity and derives a new one.
func (m *Manager) Reset(ctx context.Context) (string, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	old := m.CurrentToken()
	m.setState(StateInitializing)
	if err := m.clearStored(); err != nil {
		m.log.Warn("reset: clearing stored identity failed", zap.Error(err))
	}
	m.mu.Lock()
	m.token, m.meta = "", nil
	m.resets++
	m.mu.Unlock()

	tok, err := m.deriveAndPersist(ctx)
	m.log.Info("identity reset",
		zap.String("old", utils.TokenPreview(old)),
		zap.String("new", utils.TokenPreview(tok)),
	)
	return tok, err
}

// DeleteData purges the identity server side first and only then clears local
// storage. If the purge fails, or no purger is configured, the local identity
// is kept and the returned error wraps ErrPurgeInconsistency, so the caller can
// retry without losing the key the server data is filed under.
func (m *Manager) DeleteData(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	tok := m.CurrentToken()
	if tok == "" {
		if stored, _, ok := m.loadStored(); ok {
			tok = stored
		}
	}

	if tok != "" && m.purger == nil {
		m.log.Warn("delete refused without a purger, keeping local identity",
			zap.String("token", utils.TokenPreview(tok)))
		return fmt.Errorf("%w: %w", ErrPurgeInconsistency, ErrNoPurger)
	}
	if tok != "" {
		if err := m.purgeWithRetry(ctx, tok); err != nil {
			m.setError(fmt.Errorf("%w: %v", ErrPurgeInconsistency, err))
			m.log.Error("server purge failed, keeping local identity",
				zap.String("token", utils.TokenPreview(tok)), zap.Error(err))
			return fmt.Errorf("%w: %v", ErrPurgeInconsistency, err)
		}
	}

	if err := m.clearStored(); err != nil {
		m.setError(err)
		return err
	}

	m.mu.Lock()
	m.token, m.meta, m.lastErr = "", nil, nil
	m.state = StateUninitialized
	m.mu.Unlock()

	m.log.Info("identity data deleted", zap.String("token", utils.TokenPreview(tok)))
	return nil
}

func (m *Manager) purgeWithRetry(ctx context.Context, tok string) error {
	var err error
	backoff := m.purgeBackoff
	for attempt := 1; attempt <= m.purgeAttempts; attempt++ {
		if err = m.purger.Purge(ctx, tok); err == nil {
			return nil
		}
		if attempt == m.purgeAttempts {
			break
		}
		m.log.Warn("purge attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// Refresh re-reads storage and adopts what it finds. It never derives.
func (m *Manager) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tok, meta, ok := m.loadStored()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !ok {
		m.token, m.meta = "", nil
		m.state = StateUninitialized
		return nil
	}
	m.token, m.meta = tok, meta
	m.state = StateReady
	m.lastErr = nil
	return nil
}

// Watch follows storage changes from other contexts and refreshes when the
// stored token differs from the one in memory. It blocks until ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	changes, err := m.store.Watch(ctx)
	if err != nil {
		return err
	}
	for c := range changes {
		if c.Key != TokenKey {
			continue
		}
		if !c.Deleted && c.Value == m.CurrentToken() {
			continue
		}
		if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.log.Warn("refresh after storage change failed", zap.Error(err))
			continue
		}
		m.log.Debug("identity synced from another context",
			zap.String("token", utils.TokenPreview(m.CurrentToken())))
	}
	return ctx.Err()
}

func (m *Manager) CurrentToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *Manager) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.token != ""
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) DeviceMeta() (DeviceMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.meta == nil {
		return DeviceMeta{}, false
	}
	return *m.meta, true
}

func (m *Manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		State:        m.state,
		TokenPreview: utils.TokenPreview(m.token),
		Derivations:  m.derivations,
		Resets:       m.resets,
	}
	if m.meta != nil {
		s.Method = m.meta.FingerprintMethod
		t := time.UnixMilli(m.meta.Timestamp)
		s.CreatedAt = &t
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

func (m *Manager) deriveAndPersist(ctx context.Context) (string, error) {
	res := m.engine.Derive(ctx)

	m.mu.Lock()
	m.derivations++
	m.mu.Unlock()

	if err := m.persist(res); err != nil {
		m.mu.Lock()
		m.token = res.Token
		meta := res.Meta
		m.meta = &meta
		m.state = StateError
		m.lastErr = err
		m.mu.Unlock()
		m.log.Error("identity not persisted, continuing in memory", zap.Error(err))
		return res.Token, err
	}

	meta := res.Meta
	m.adopt(res.Token, &meta)
	m.log.Info("identity derived",
		zap.String("method", string(res.Meta.FingerprintMethod)),
		zap.String("token", utils.TokenPreview(res.Token)),
	)
	return res.Token, nil
}

// persist writes metadata before the token so a visible token always has its
// metadata. A failed token write rolls the metadata back.
func (m *Manager) persist(res Result) error {
	raw, err := json.Marshal(res.Meta)
	if err != nil {
		return fmt.Errorf("%w: encode device meta: %v", ErrStorageUnavailable, err)
	}
	if err := m.store.Set(DeviceMetaKey, string(raw)); err != nil {
		return wrapStorage(err)
	}
	if err := m.store.Set(TokenKey, res.Token); err != nil {
		_ = m.store.Remove(DeviceMetaKey)
		return wrapStorage(err)
	}
	return nil
}

// loadStored returns the stored identity if it is well formed. Malformed
// values are removed and treated as absent.
func (m *Manager) loadStored() (string, *DeviceMeta, bool) {
	tok, ok, err := m.store.Get(TokenKey)
	if err != nil {
		m.log.Warn("reading stored token failed", zap.Error(err))
		return "", nil, false
	}
	if !ok {
		return "", nil, false
	}
	if !utils.IsHexToken(tok) {
		m.log.Warn("discarding stored token", zap.Error(ErrValidationFailure))
		_ = m.clearStored()
		return "", nil, false
	}

	var meta *DeviceMeta
	if raw, ok, err := m.store.Get(DeviceMetaKey); err == nil && ok {
		var dm DeviceMeta
		if err := json.Unmarshal([]byte(raw), &dm); err == nil {
			meta = &dm
		} else {
			m.log.Debug("stored device meta unreadable", zap.Error(err))
		}
	}
	return tok, meta, true
}

func (m *Manager) clearStored() error {
	errTok := m.store.Remove(TokenKey)
	errMeta := m.store.Remove(DeviceMetaKey)
	if err := errors.Join(errTok, errMeta); err != nil {
		return wrapStorage(err)
	}
	return nil
}

func (m *Manager) adopt(tok string, meta *DeviceMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = tok
	m.meta = meta
	m.state = StateReady
	m.lastErr = nil
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Manager) setError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func wrapStorage(err error) error {
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}
