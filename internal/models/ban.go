package models

import (
	"time"
)

type BanType string

const (
	BanTemporary BanType = "temporary"
	BanPermanent BanType = "permanent"
)

// BanRecord collects every hashed identifier seen for one banned actor.
// DeviceHashes and IPHashes only ever grow.
type BanRecord struct {
	ID           string     `bson:"_id" json:"id"`
	ActorRef     string     `bson:"actor_ref" json:"actor_ref"`
	UserKeys     []string   `bson:"user_keys" json:"user_keys"`
	ReportIDs    []string   `bson:"report_ids" json:"report_ids"`
	Type         BanType    `bson:"type" json:"type"`
	Reason       string     `bson:"reason" json:"reason"`
	ExpiresAt    *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	DeviceHashes []string   `bson:"device_hashes" json:"device_hashes"`
	IPHashes     []string   `bson:"ip_hashes" json:"ip_hashes"`
	PhoneHashes  []string   `bson:"phone_hashes,omitempty" json:"phone_hashes,omitempty"`
	IsActive     bool       `bson:"is_active" json:"is_active"`
	CreatedAt    time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `bson:"updated_at" json:"updated_at"`
}

// Effective reports whether the ban is active and not expired at now.
func (b *BanRecord) Effective(now time.Time) bool {
	if !b.IsActive {
		return false
	}
	return b.Type == BanPermanent || (b.ExpiresAt != nil && b.ExpiresAt.After(now))
}

// Covers reports whether any of the given hashes is already on the record.
// Empty arguments never match.
func (b *BanRecord) Covers(userKey, deviceHash, ipHash, phoneHash string) bool {
	return contains(b.UserKeys, userKey) ||
		contains(b.DeviceHashes, deviceHash) ||
		contains(b.IPHashes, ipHash) ||
		contains(b.PhoneHashes, phoneHash)
}

// Absorb unions other's identifiers into b and keeps the stronger penalty.
// Nothing is ever removed from b.
func (b *BanRecord) Absorb(other *BanRecord) {
	b.UserKeys = Union(b.UserKeys, other.UserKeys...)
	b.ReportIDs = Union(b.ReportIDs, other.ReportIDs...)
	b.DeviceHashes = Union(b.DeviceHashes, other.DeviceHashes...)
	b.IPHashes = Union(b.IPHashes, other.IPHashes...)
	b.PhoneHashes = Union(b.PhoneHashes, other.PhoneHashes...)

	switch {
	case b.Type == BanPermanent:
	case other.Type == BanPermanent:
		b.Type = BanPermanent
		b.ExpiresAt = nil
	case other.ExpiresAt != nil && (b.ExpiresAt == nil || other.ExpiresAt.After(*b.ExpiresAt)):
		t := *other.ExpiresAt
		b.ExpiresAt = &t
	}
	if other.Reason != "" && b.Reason == "" {
		b.Reason = other.Reason
	}
	b.IsActive = b.IsActive || other.IsActive
}

// Union appends the values missing from set, keeping order. Empty strings are skipped.
func Union(set []string, values ...string) []string {
	seen := make(map[string]struct{}, len(set))
	for _, v := range set {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		set = append(set, v)
	}
	return set
}

func contains(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
