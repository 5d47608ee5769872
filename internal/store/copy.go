package store

import (
	"errors"

	"github.com/AnshRaj112/shadowmatch-backend/internal/models"
)

// ErrDuplicate is returned when a record with the same id already exists.
var ErrDuplicate = errors.New("duplicate record")

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Preferences.Interests = clone(u.Preferences.Interests)
	if u.Preferences.AgeRange != nil {
		r := *u.Preferences.AgeRange
		c.Preferences.AgeRange = &r
	}
	if u.DeviceMeta != nil {
		d := *u.DeviceMeta
		c.DeviceMeta = &d
	}
	return &c
}

func copySession(s *models.ChatSession) *models.ChatSession {
	c := *s
	c.Participants = append([]models.Participant(nil), s.Participants...)
	c.ModerationFlags = clone(s.ModerationFlags)
	return &c
}

func copyReport(r *models.ModerationReport) *models.ModerationReport {
	c := *r
	c.EvidenceURLs = clone(r.EvidenceURLs)
	return &c
}

func copyBan(b *models.BanRecord) *models.BanRecord {
	c := *b
	c.UserKeys = clone(b.UserKeys)
	c.ReportIDs = clone(b.ReportIDs)
	c.DeviceHashes = clone(b.DeviceHashes)
	c.IPHashes = clone(b.IPHashes)
	c.PhoneHashes = clone(b.PhoneHashes)
	return &c
}
