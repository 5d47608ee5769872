package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
	"github.com/AnshRaj112/shadowmatch-backend/internal/services"
)

const queryTimeout = 5 * time.Second

// Postgres holds users and ban records.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const userColumns = `key, tier, status, coins, is_verified, gender, preferences,
	subscription, device_meta, sessions, created_at, updated_at, last_active_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u                   models.User
		gender              sql.NullString
		prefs, sub, devMeta []byte
	)
	err := row.Scan(&u.Key, &u.Tier, &u.Status, &u.Coins, &u.IsVerified, &gender, &prefs,
		&sub, &devMeta, &u.Sessions, &u.CreatedAt, &u.UpdatedAt, &u.LastActiveAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Gender = models.Gender(gender.String)
	if err := json.Unmarshal(prefs, &u.Preferences); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(sub, &u.Subscription); err != nil {
		return nil, err
	}
	if len(devMeta) > 0 {
		u.DeviceMeta = &models.DeviceMeta{}
		if err := json.Unmarshal(devMeta, u.DeviceMeta); err != nil {
			return nil, err
		}
	}
	return &u, nil
}

type userArgs struct {
	gender              sql.NullString
	prefs, sub, devMeta []byte
}

func encodeUser(u *models.User) (userArgs, error) {
	var a userArgs
	var err error
	if u.Gender != "" {
		a.gender = sql.NullString{String: string(u.Gender), Valid: true}
	}
	if a.prefs, err = json.Marshal(u.Preferences); err != nil {
		return a, err
	}
	if a.sub, err = json.Marshal(u.Subscription); err != nil {
		return a, err
	}
	if u.DeviceMeta != nil {
		if a.devMeta, err = json.Marshal(u.DeviceMeta); err != nil {
			return a, err
		}
	}
	return a, nil
}

func (p *Postgres) GetUser(ctx context.Context, key string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanUser(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE key = $1`, key))
}

func (p *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	a, err := encodeUser(u)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		u.Key, u.Tier, u.Status, u.Coins, u.IsVerified, a.gender, a.prefs,
		a.sub, a.devMeta, u.Sessions, u.CreatedAt, u.UpdatedAt, u.LastActiveAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (p *Postgres) UpdateUser(ctx context.Context, key string, fn func(*models.User) error) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	u, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE key = $1 FOR UPDATE`, key))
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	a, err := encodeUser(u)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE users SET tier = $2, status = $3, coins = $4, is_verified = $5, gender = $6,
			preferences = $7, subscription = $8, device_meta = $9, sessions = $10,
			updated_at = $11, last_active_at = $12
		WHERE key = $1`,
		u.Key, u.Tier, u.Status, u.Coins, u.IsVerified, a.gender,
		a.prefs, a.sub, a.devMeta, u.Sessions, u.UpdatedAt, u.LastActiveAt,
	)
	if err != nil {
		return nil, err
	}
	return u, tx.Commit()
}

func (p *Postgres) DeleteUser(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE key = $1`, key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (p *Postgres) UserStats(ctx context.Context, activeSince time.Time) (services.UserStats, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var st services.UserStats
	err := p.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE tier = 'guest'),
			COUNT(*) FILTER (WHERE last_active_at >= $1),
			COUNT(DISTINCT (device_meta->>'userAgent') || '|' || (device_meta->>'platform') || '|' || (device_meta->>'screenResolution'))
		FROM users`, activeSince,
	).Scan(&st.TotalGuests, &st.ActiveToday, &st.UniqueDevices)
	return st, err
}

// --- bans ---

const banColumns = `id, actor_ref, user_keys, report_ids, type, reason, expires_at,
	device_hashes, ip_hashes, phone_hashes, is_active, created_at, updated_at`

func scanBan(row rowScanner) (*models.BanRecord, error) {
	var b models.BanRecord
	err := row.Scan(&b.ID, &b.ActorRef, pq.Array(&b.UserKeys), pq.Array(&b.ReportIDs), &b.Type, &b.Reason, &b.ExpiresAt,
		pq.Array(&b.DeviceHashes), pq.Array(&b.IPHashes), pq.Array(&b.PhoneHashes), &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, services.ErrNotFound
	}
	return &b, err
}

func scanBans(rows *sql.Rows) ([]*models.BanRecord, error) {
	defer rows.Close()
	var out []*models.BanRecord
	for rows.Next() {
		b, err := scanBan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertBan takes a transaction-scoped advisory lock on every identifier in
// rec, in sorted order, before looking for overlapping records. Two upserts
// sharing any identifier therefore run one after the other, and the second
// sees the first one's row.
func (p *Postgres) UpsertBan(ctx context.Context, rec *models.BanRecord) (*models.BanRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	var ids []string
	for _, set := range [][]string{rec.UserKeys, rec.DeviceHashes, rec.IPHashes, rec.PhoneHashes} {
		ids = models.Union(ids, set...)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, id); err != nil {
			return nil, false, err
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+banColumns+` FROM ban_records
		WHERE is_active AND (user_keys && $1 OR device_hashes && $2 OR ip_hashes && $3 OR phone_hashes && $4)
		ORDER BY created_at
		FOR UPDATE`,
		pq.Array(nonNil(rec.UserKeys)), pq.Array(nonNil(rec.DeviceHashes)), pq.Array(nonNil(rec.IPHashes)), pq.Array(nonNil(rec.PhoneHashes)),
	)
	if err != nil {
		return nil, false, err
	}
	overlapping, err := scanBans(rows)
	if err != nil {
		return nil, false, err
	}

	if len(overlapping) == 0 {
		if err := insertBan(ctx, tx, rec); err != nil {
			return nil, false, err
		}
		return copyBan(rec), false, tx.Commit()
	}

	keep := overlapping[0]
	for _, b := range overlapping[1:] {
		keep.Absorb(b)
		if _, err := tx.ExecContext(ctx, `UPDATE ban_records SET is_active = FALSE, updated_at = $2 WHERE id = $1`, b.ID, rec.UpdatedAt); err != nil {
			return nil, false, err
		}
	}
	keep.Absorb(rec)
	keep.UpdatedAt = rec.UpdatedAt

	_, err = tx.ExecContext(ctx, `
		UPDATE ban_records SET user_keys = $2, report_ids = $3, type = $4, reason = $5, expires_at = $6,
			device_hashes = $7, ip_hashes = $8, phone_hashes = $9, is_active = $10, updated_at = $11
		WHERE id = $1`,
		keep.ID, pq.Array(nonNil(keep.UserKeys)), pq.Array(nonNil(keep.ReportIDs)), keep.Type, keep.Reason, keep.ExpiresAt,
		pq.Array(nonNil(keep.DeviceHashes)), pq.Array(nonNil(keep.IPHashes)), pq.Array(nonNil(keep.PhoneHashes)), keep.IsActive, keep.UpdatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	return keep, true, tx.Commit()
}

func insertBan(ctx context.Context, tx *sql.Tx, b *models.BanRecord) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ban_records (`+banColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.ActorRef, pq.Array(nonNil(b.UserKeys)), pq.Array(nonNil(b.ReportIDs)), b.Type, b.Reason, b.ExpiresAt,
		pq.Array(nonNil(b.DeviceHashes)), pq.Array(nonNil(b.IPHashes)), pq.Array(nonNil(b.PhoneHashes)), b.IsActive, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (p *Postgres) FindActiveBans(ctx context.Context, userKey, deviceHash, ipHash string) ([]*models.BanRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := p.db.QueryContext(ctx, `
		SELECT `+banColumns+` FROM ban_records
		WHERE is_active AND (
			($1 <> '' AND $1 = ANY(user_keys)) OR
			($2 <> '' AND $2 = ANY(device_hashes)) OR
			($3 <> '' AND $3 = ANY(ip_hashes))
		)`, userKey, deviceHash, ipHash,
	)
	if err != nil {
		return nil, err
	}
	return scanBans(rows)
}

func (p *Postgres) GetBan(ctx context.Context, id string) (*models.BanRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, services.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanBan(p.db.QueryRowContext(ctx, `SELECT `+banColumns+` FROM ban_records WHERE id = $1`, id))
}

func (p *Postgres) DeactivateBan(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return services.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	res, err := p.db.ExecContext(ctx, `UPDATE ban_records SET is_active = FALSE, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.ErrNotFound
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
