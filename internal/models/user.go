package models

import (
	"time"
)

type Tier string

const (
	TierGuest    Tier = "guest"
	TierVerified Tier = "verified"
	TierPremium  Tier = "premium"
)

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusBanned    UserStatus = "banned"
	UserStatusSuspended UserStatus = "suspended"
)

type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type SubscriptionType string

const (
	SubscriptionNone     SubscriptionType = "none"
	SubscriptionStarter  SubscriptionType = "starter"
	SubscriptionStandard SubscriptionType = "standard"
	SubscriptionPremium  SubscriptionType = "premium"
)

// AgeRange is inclusive on both ends.
type AgeRange struct {
	Min int `bson:"min" json:"min"`
	Max int `bson:"max" json:"max"`
}

func (a AgeRange) Valid() bool {
	return a.Min > 0 && a.Min <= a.Max
}

// Overlaps reports whether the two inclusive ranges share at least one age.
func (a AgeRange) Overlaps(b AgeRange) bool {
	return a.Min <= b.Max && b.Min <= a.Max
}

type Preferences struct {
	Language         string    `bson:"language" json:"language"`
	Interests        []string  `bson:"interests" json:"interests"`
	AgeRange         *AgeRange `bson:"age_range,omitempty" json:"age_range,omitempty"`
	GenderPreference Gender    `bson:"gender_preference" json:"gender_preference"`
}

type Subscription struct {
	Type      SubscriptionType `bson:"type" json:"type"`
	ExpiresAt *time.Time       `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// DeviceMeta is the client's device metadata as last reported on verify.
type DeviceMeta struct {
	Version           string `bson:"version" json:"version"`
	Timestamp         int64  `bson:"timestamp" json:"timestamp"`
	UserAgent         string `bson:"user_agent" json:"userAgent"`
	Language          string `bson:"language" json:"language"`
	Timezone          string `bson:"timezone" json:"timezone"`
	ScreenResolution  string `bson:"screen_resolution" json:"screenResolution"`
	ColorDepth        int    `bson:"color_depth" json:"colorDepth"`
	Platform          string `bson:"platform" json:"platform"`
	DoNotTrack        bool   `bson:"do_not_track" json:"doNotTrack"`
	FingerprintMethod string `bson:"fingerprint_method" json:"fingerprintMethod"`
}

// User is keyed by the salted hash of the client identity token. The token
// itself is never stored.
type User struct {
	Key          string       `bson:"_id" json:"key"`
	Tier         Tier         `bson:"tier" json:"tier"`
	Status       UserStatus   `bson:"status" json:"status"`
	Coins        int64        `bson:"coins" json:"coins"`
	IsVerified   bool         `bson:"is_verified" json:"is_verified"`
	Gender       Gender       `bson:"gender,omitempty" json:"gender,omitempty"`
	Preferences  Preferences  `bson:"preferences" json:"preferences"`
	Subscription Subscription `bson:"subscription" json:"subscription"`
	DeviceMeta   *DeviceMeta  `bson:"device_meta,omitempty" json:"device_meta,omitempty"`
	Sessions     int64        `bson:"sessions" json:"sessions"`
	CreatedAt    time.Time    `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time    `bson:"updated_at" json:"updated_at"`
	LastActiveAt time.Time    `bson:"last_active_at" json:"last_active_at"`
}

// NewGuest returns a fresh guest user with default preferences.
func NewGuest(key string, now time.Time) *User {
	return &User{
		Key:    key,
		Tier:   TierGuest,
		Status: UserStatusActive,
		Preferences: Preferences{
			Language:         "en",
			Interests:        []string{},
			GenderPreference: GenderAny,
		},
		Subscription: Subscription{Type: SubscriptionNone},
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
}

// Prioritized users are matched ahead of others waiting in the same mode.
func (u *User) Prioritized() bool {
	return u.Tier == TierPremium || u.IsVerified
}
