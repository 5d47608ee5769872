package matching

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/internal/metrics"
	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

var (
	ErrAlreadyWaiting = errors.New("matching: user is already waiting")
	ErrInvalidMode    = errors.New("matching: invalid chat mode")
	ErrTimedOut       = errors.New("matching: no partner found in time")
	ErrCancelled      = errors.New("matching: request cancelled")
	ErrStopped        = errors.New("matching: matchmaker stopped")
)

// Candidate is a waiting user as the matchmaker sees it.
type Candidate struct {
	UserKey     string
	DeviceHash  string
	IPHash      string
	Gender      models.Gender
	Preferences models.Preferences
	Priority    bool
}

func (c Candidate) Participant() models.Participant {
	return models.Participant{UserKey: c.UserKey, DeviceHash: c.DeviceHash, IPHash: c.IPHash}
}

// Outcome is delivered exactly once on the channel returned by Enqueue.
type Outcome struct {
	Session *models.ChatSession
	Partner Candidate
	Score   float64
	Err     error
}

// Committer persists a pairing. Commit must refuse banned participants with an
// error that implements BannedUsers() []string.
type Committer interface {
	Commit(ctx context.Context, mode models.ChatMode, seeker, partner models.Participant, score float64) (*models.ChatSession, error)
	Abort(ctx context.Context, sessionID, reason string) error
}

type bannedUsers interface {
	BannedUsers() []string
}

type Config struct {
	Threshold    float64       // a pair needs a score strictly above this
	MaxWait      time.Duration // waiting tickets expire after this
	ScanInterval time.Duration
	Workers      int // parallel scorers per seeker
}

type ticket struct {
	cand       Candidate
	mode       models.ChatMode
	enqueuedAt time.Time
	out        chan Outcome
	claimed    bool
	cancelled  bool
	delivered  bool
}

// Matchmaker keeps one waiting pool per chat mode. A user is in at most one
// pool; committing a pair claims both tickets under the pool lock so a user
// can never be committed into two sessions.
type Matchmaker struct {
	commit Committer
	cfg    Config
	log    *zap.Logger
	now    func() time.Time

	mu      sync.Mutex
	pools   map[models.ChatMode][]*ticket
	byUser  map[string]*ticket
	stopped bool

	wake chan struct{}
}

func NewMatchmaker(commit Committer, cfg Config) *Matchmaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.5
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = 5 * time.Minute
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Matchmaker{
		commit: commit,
		cfg:    cfg,
		log:    logger.Named("matching"),
		now:    time.Now,
		pools:  make(map[models.ChatMode][]*ticket),
		byUser: make(map[string]*ticket),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue adds c to the waiting pool for mode. The returned channel yields one
// Outcome and is then closed.
func (m *Matchmaker) Enqueue(c Candidate, mode models.ChatMode) (<-chan Outcome, error) {
	if !mode.Valid() {
		return nil, ErrInvalidMode
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrStopped
	}
	if _, ok := m.byUser[c.UserKey]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyWaiting
	}
	t := &ticket{cand: c, mode: mode, enqueuedAt: m.now(), out: make(chan Outcome, 1)}
	m.pools[mode] = append(m.pools[mode], t)
	m.byUser[c.UserKey] = t
	waiting := len(m.pools[mode])
	m.mu.Unlock()

	metrics.SetWaiting(string(mode), waiting)
	m.log.Debug("enqueued", logger.UserKey(c.UserKey), logger.Mode(string(mode)))
	m.poke()
	return t.out, nil
}

// Cancel releases a waiting user. It has no effect on trust records. If the
// user is being committed right now the session is aborted after the commit.
func (m *Matchmaker) Cancel(userKey string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.byUser[userKey]
	if !ok {
		return false
	}
	if t.claimed {
		t.cancelled = true
		return true
	}
	m.removeLocked(t)
	m.deliver(t, Outcome{Err: ErrCancelled})
	return true
}

// Waiting returns the pool size for mode.
func (m *Matchmaker) Waiting(mode models.ChatMode) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools[mode])
}

// Run drains the pools until ctx is done. Tickets still waiting at shutdown
// receive ErrStopped.
func (m *Matchmaker) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return ctx.Err()
		case <-m.wake:
		case <-ticker.C:
		}
		m.drain(ctx)
	}
}

type pair struct {
	seeker, partner *ticket
	score           float64
}

func (m *Matchmaker) drain(ctx context.Context) {
	m.expire()

	for _, mode := range []models.ChatMode{models.ChatModeText, models.ChatModeAudio, models.ChatModeVideo} {
		pairs := m.pairUp(ctx, mode)
		if len(pairs) == 0 {
			continue
		}

		var g errgroup.Group
		for _, p := range pairs {
			p := p
			g.Go(func() error {
				m.commitPair(ctx, mode, p)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// pairUp claims as many pairs as it can from one pool. Priority users seek
// first, then the longest waiting.
func (m *Matchmaker) pairUp(ctx context.Context, mode models.ChatMode) []pair {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool := m.pools[mode]
	if len(pool) < 2 {
		return nil
	}
	order := make([]*ticket, len(pool))
	copy(order, pool)
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].cand.Priority != order[j].cand.Priority {
			return order[i].cand.Priority
		}
		return order[i].enqueuedAt.Before(order[j].enqueuedAt)
	})

	var pairs []pair
	for _, seeker := range order {
		if seeker.claimed {
			continue
		}
		var others []*ticket
		for _, t := range order {
			if t == seeker || t.claimed || !eligible(seeker.cand, t.cand) {
				continue
			}
			others = append(others, t)
		}
		best, score := m.best(ctx, seeker, others)
		if best == nil {
			continue
		}
		seeker.claimed, best.claimed = true, true
		pairs = append(pairs, pair{seeker: seeker, partner: best, score: score})
	}
	return pairs
}

// best scores seeker against every other candidate in parallel and returns the
// highest scorer above the threshold. Ties go to the earlier entry in others.
func (m *Matchmaker) best(ctx context.Context, seeker *ticket, others []*ticket) (*ticket, float64) {
	if len(others) == 0 {
		return nil, 0
	}
	scores := make([]float64, len(others))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Workers)
	for i, t := range others {
		i, t := i, t
		g.Go(func() error {
			scores[i] = Score(seeker.cand.Preferences, t.cand.Preferences)
			return nil
		})
	}
	_ = g.Wait()

	bestIdx := -1
	for i, s := range scores {
		if s <= m.cfg.Threshold {
			continue
		}
		if bestIdx < 0 || s > scores[bestIdx] {
			bestIdx = i
		}
	}
	if bestIdx < 0 {
		return nil, 0
	}
	return others[bestIdx], scores[bestIdx]
}

func eligible(a, b Candidate) bool {
	if a.UserKey == b.UserKey {
		return false
	}
	// two tabs of the same device never meet each other
	if a.DeviceHash != "" && a.DeviceHash == b.DeviceHash {
		return false
	}
	return GenderCompatible(a, b)
}

func (m *Matchmaker) commitPair(ctx context.Context, mode models.ChatMode, p pair) {
	sess, err := m.commit.Commit(ctx, mode, p.seeker.cand.Participant(), p.partner.cand.Participant(), p.score)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		var bu bannedUsers
		if errors.As(err, &bu) {
			banned := make(map[string]bool)
			for _, k := range bu.BannedUsers() {
				banned[k] = true
			}
			for _, t := range []*ticket{p.seeker, p.partner} {
				if banned[t.cand.UserKey] {
					m.removeLocked(t)
					m.deliver(t, Outcome{Err: err})
				} else {
					m.releaseLocked(t)
				}
			}
			metrics.MatchRefused(string(mode))
			m.log.Warn("match refused", logger.Mode(string(mode)), logger.Err(err))
			m.poke()
			return
		}
		m.log.Error("match commit failed", logger.Mode(string(mode)), logger.Err(err))
		m.releaseLocked(p.seeker)
		m.releaseLocked(p.partner)
		return
	}

	if p.seeker.cancelled || p.partner.cancelled {
		if abortErr := m.commit.Abort(ctx, sess.ID, "partner_left"); abortErr != nil {
			m.log.Warn("abort after cancel failed", logger.SessionID(sess.ID), logger.Err(abortErr))
		}
		m.releaseLocked(p.seeker)
		m.releaseLocked(p.partner)
		m.poke()
		return
	}

	m.removeLocked(p.seeker)
	m.removeLocked(p.partner)
	m.deliver(p.seeker, Outcome{Session: sess, Partner: p.partner.cand, Score: p.score})
	m.deliver(p.partner, Outcome{Session: sess, Partner: p.seeker.cand, Score: p.score})
	metrics.MatchCommitted(string(mode), p.score)
	m.log.Info("matched",
		logger.SessionID(sess.ID),
		logger.Mode(string(mode)),
		logger.Score(p.score),
	)
}

func (m *Matchmaker) expire() {
	cutoff := m.now().Add(-m.cfg.MaxWait)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pool := range m.pools {
		for _, t := range pool {
			if !t.claimed && t.enqueuedAt.Before(cutoff) {
				m.removeLocked(t)
				m.deliver(t, Outcome{Err: ErrTimedOut})
			}
		}
	}
}

func (m *Matchmaker) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, pool := range m.pools {
		for _, t := range pool {
			m.deliver(t, Outcome{Err: ErrStopped})
		}
	}
	m.pools = make(map[models.ChatMode][]*ticket)
	m.byUser = make(map[string]*ticket)
}

// releaseLocked returns a claimed ticket to the pool, or drops it if the user
// cancelled while it was claimed.
func (m *Matchmaker) releaseLocked(t *ticket) {
	t.claimed = false
	if t.cancelled {
		m.removeLocked(t)
		m.deliver(t, Outcome{Err: ErrCancelled})
	}
}

func (m *Matchmaker) removeLocked(t *ticket) {
	pool := m.pools[t.mode]
	for i, x := range pool {
		if x == t {
			m.pools[t.mode] = append(pool[:i:i], pool[i+1:]...)
			break
		}
	}
	if m.byUser[t.cand.UserKey] == t {
		delete(m.byUser, t.cand.UserKey)
	}
	metrics.SetWaiting(string(t.mode), len(m.pools[t.mode]))
}

func (m *Matchmaker) deliver(t *ticket, o Outcome) {
	if t.delivered {
		return
	}
	t.delivered = true
	t.out <- o
	close(t.out)
}

func (m *Matchmaker) poke() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
