package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

// Memory keeps every trust record in process. It backs STORE_DRIVER=memory
// and the service tests. All four repositories share one lock, which makes
// ban upserts trivially atomic.
type Memory struct {
	mu       sync.Mutex
	users    map[string]*models.User
	sessions map[string]*models.ChatSession
	reports  map[string]*models.ModerationReport
	bans     map[string]*models.BanRecord
}

func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*models.User),
		sessions: make(map[string]*models.ChatSession),
		reports:  make(map[string]*models.ModerationReport),
		bans:     make(map[string]*models.BanRecord),
	}
}

// Stores exposes m as every repository the trust service needs.
func (m *Memory) Stores() services.Stores {
	return services.Stores{Users: m, Sessions: m, Reports: m, Bans: m}
}

// --- users ---

func (m *Memory) GetUser(_ context.Context, key string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key]
	if !ok {
		return nil, services.ErrNotFound
	}
	return copyUser(u), nil
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Key]; ok {
		return ErrDuplicate
	}
	m.users[u.Key] = copyUser(u)
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, key string, fn func(*models.User) error) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[key]
	if !ok {
		return nil, services.ErrNotFound
	}
	next := copyUser(u)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.users[key] = next
	return copyUser(next), nil
}

func (m *Memory) DeleteUser(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[key]; !ok {
		return services.ErrNotFound
	}
	delete(m.users, key)
	return nil
}

func (m *Memory) UserStats(_ context.Context, activeSince time.Time) (services.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st services.UserStats
	devices := make(map[string]struct{})
	for _, u := range m.users {
		if u.Tier == models.TierGuest {
			st.TotalGuests++
		}
		if !u.LastActiveAt.Before(activeSince) {
			st.ActiveToday++
		}
		if u.DeviceMeta != nil {
			devices[u.DeviceMeta.UserAgent+"|"+u.DeviceMeta.Platform+"|"+u.DeviceMeta.ScreenResolution] = struct{}{}
		}
	}
	st.UniqueDevices = int64(len(devices))
	return st, nil
}

// --- sessions ---

func (m *Memory) CreateSession(_ context.Context, s *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrDuplicate
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return copySession(s), nil
}

func (m *Memory) UpdateSession(_ context.Context, id string, fn func(*models.ChatSession) error) (*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	next := copySession(s)
	if err := fn(next); err != nil {
		return nil, err
	}
	m.sessions[id] = next
	return copySession(next), nil
}

func (m *Memory) SessionsByUser(_ context.Context, userKey string) ([]*models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChatSession
	for _, s := range m.sessions {
		if _, ok := s.Participant(userKey); ok {
			out = append(out, copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *Memory) DeleteSessionsByUser(_ context.Context, userKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if _, ok := s.Participant(userKey); ok {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- reports ---

func (m *Memory) CreateReport(_ context.Context, r *models.ModerationReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.ID]; ok {
		return ErrDuplicate
	}
	m.reports[r.ID] = copyReport(r)
	return nil
}

func (m *Memory) GetReport(_ context.Context, id string) (*models.ModerationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return copyReport(r), nil
}

func (m *Memory) ResolveReport(_ context.Context, id string, status models.ReportStatus, action models.ModerationAction, reviewer string, at time.Time) (*models.ModerationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	if r.Status != models.ReportPending {
		return nil, services.ErrReportImmutable
	}
	r.Status = status
	r.Action = action
	r.ReviewedBy = reviewer
	r.ReviewedAt = &at
	return copyReport(r), nil
}

func (m *Memory) AddEvidence(_ context.Context, id, url string) (*models.ModerationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	r.EvidenceURLs = models.Union(r.EvidenceURLs, url)
	return copyReport(r), nil
}

func (m *Memory) ListReports(_ context.Context, status models.ReportStatus, limit int) ([]*models.ModerationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ModerationReport
	for _, r := range m.reports {
		if status == "" || r.Status == status {
			out = append(out, copyReport(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountReportsAgainst(_ context.Context, userKey string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, r := range m.reports {
		if r.ReportedUserKey == userKey && r.Status != models.ReportDismissed {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ScrubReporter(_ context.Context, userKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.ReporterKey == userKey {
			r.ReporterKey = ""
		}
	}
	return nil
}

// --- bans ---

func (m *Memory) UpsertBan(_ context.Context, rec *models.BanRecord) (*models.BanRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var overlapping []*models.BanRecord
	for _, b := range m.bans {
		if b.IsActive && overlaps(b, rec) {
			overlapping = append(overlapping, b)
		}
	}
	if len(overlapping) == 0 {
		m.bans[rec.ID] = copyBan(rec)
		return copyBan(rec), false, nil
	}

	// The oldest overlapping record survives and absorbs the rest.
	sort.Slice(overlapping, func(i, j int) bool { return overlapping[i].CreatedAt.Before(overlapping[j].CreatedAt) })
	keep := overlapping[0]
	for _, b := range overlapping[1:] {
		keep.Absorb(b)
		b.IsActive = false
		b.UpdatedAt = rec.UpdatedAt
	}
	keep.Absorb(rec)
	keep.UpdatedAt = rec.UpdatedAt
	return copyBan(keep), true, nil
}

func (m *Memory) FindActiveBans(_ context.Context, userKey, deviceHash, ipHash string) ([]*models.BanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BanRecord
	for _, b := range m.bans {
		if b.IsActive && b.Covers(userKey, deviceHash, ipHash, "") {
			out = append(out, copyBan(b))
		}
	}
	return out, nil
}

func (m *Memory) GetBan(_ context.Context, id string) (*models.BanRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bans[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return copyBan(b), nil
}

func (m *Memory) DeactivateBan(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bans[id]
	if !ok {
		return services.ErrNotFound
	}
	b.IsActive = false
	b.UpdatedAt = time.Now()
	return nil
}

func overlaps(b, rec *models.BanRecord) bool {
	for _, k := range rec.UserKeys {
		if b.Covers(k, "", "", "") {
			return true
		}
	}
	for _, h := range rec.DeviceHashes {
		if b.Covers("", h, "", "") {
			return true
		}
	}
	for _, h := range rec.IPHashes {
		if b.Covers("", "", h, "") {
			return true
		}
	}
	for _, h := range rec.PhoneHashes {
		if b.Covers("", "", "", h) {
			return true
		}
	}
	return false
}
