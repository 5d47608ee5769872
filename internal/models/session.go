package models

import (
	"time"
)

type ChatMode string

const (
	ChatModeText  ChatMode = "text"
	ChatModeAudio ChatMode = "audio"
	ChatModeVideo ChatMode = "video"
)

func (m ChatMode) Valid() bool {
	switch m {
	case ChatModeText, ChatModeAudio, ChatModeVideo:
		return true
	}
	return false
}

type ChatStatus string

const (
	ChatStatusWaiting   ChatStatus = "waiting"
	ChatStatusMatched   ChatStatus = "matched"
	ChatStatusConnected ChatStatus = "connected"
	ChatStatusEnded     ChatStatus = "ended"
	ChatStatusReported  ChatStatus = "reported"
)

// sessionTransitions lists the legal next states for each status.
var sessionTransitions = map[ChatStatus][]ChatStatus{
	ChatStatusWaiting:   {ChatStatusMatched, ChatStatusEnded},
	ChatStatusMatched:   {ChatStatusConnected, ChatStatusEnded, ChatStatusReported},
	ChatStatusConnected: {ChatStatusEnded, ChatStatusReported},
	ChatStatusEnded:     {ChatStatusReported},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to ChatStatus) bool {
	for _, s := range sessionTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Participant carries only hashed identifiers.
type Participant struct {
	UserKey    string `bson:"user_key" json:"user_key"`
	DeviceHash string `bson:"device_hash" json:"device_hash"`
	IPHash     string `bson:"ip_hash" json:"ip_hash"`
}

type ChatSession struct {
	ID              string        `bson:"_id" json:"id"`
	Participants    []Participant `bson:"participants" json:"participants"`
	Mode            ChatMode      `bson:"mode" json:"mode"`
	Status          ChatStatus    `bson:"status" json:"status"`
	Score           float64       `bson:"score" json:"score"`
	StartedAt       time.Time     `bson:"started_at" json:"started_at"`
	EndedAt         *time.Time    `bson:"ended_at,omitempty" json:"ended_at,omitempty"`
	DurationSeconds int64         `bson:"duration_seconds" json:"duration_seconds"`
	ReportedBy      string        `bson:"reported_by,omitempty" json:"reported_by,omitempty"`
	ModerationFlags []string      `bson:"moderation_flags,omitempty" json:"moderation_flags,omitempty"`
	EndReason       string        `bson:"end_reason,omitempty" json:"end_reason,omitempty"`
}

// Participant returns the participant with the given user key.
func (s *ChatSession) Participant(userKey string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.UserKey == userKey {
			return p, true
		}
	}
	return Participant{}, false
}

// Terminal reports whether the session can no longer be matched or connected.
func (s *ChatSession) Terminal() bool {
	return s.Status == ChatStatusEnded || s.Status == ChatStatusReported
}
