package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAgeRange_Overlaps(t *testing.T) {
	tests := []struct {
		a, b AgeRange
		want bool
	}{
		{AgeRange{20, 30}, AgeRange{25, 35}, true},
		{AgeRange{20, 30}, AgeRange{30, 40}, true}, // inclusive
		{AgeRange{20, 29}, AgeRange{30, 40}, false},
		{AgeRange{30, 40}, AgeRange{18, 25}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.a.Overlaps(tt.b), "%v vs %v", tt.a, tt.b)
		assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(ChatStatusWaiting, ChatStatusMatched))
	assert.True(t, CanTransition(ChatStatusMatched, ChatStatusConnected))
	assert.True(t, CanTransition(ChatStatusConnected, ChatStatusReported))
	assert.True(t, CanTransition(ChatStatusEnded, ChatStatusReported))
	assert.False(t, CanTransition(ChatStatusWaiting, ChatStatusConnected))
	assert.False(t, CanTransition(ChatStatusEnded, ChatStatusMatched))
	assert.False(t, CanTransition(ChatStatusReported, ChatStatusEnded))
}

func TestBanRecord_Effective(t *testing.T) {
	now := time.Now()
	past, future := now.Add(-time.Hour), now.Add(time.Hour)

	assert.True(t, (&BanRecord{IsActive: true, Type: BanPermanent}).Effective(now))
	assert.True(t, (&BanRecord{IsActive: true, Type: BanTemporary, ExpiresAt: &future}).Effective(now))
	assert.False(t, (&BanRecord{IsActive: true, Type: BanTemporary, ExpiresAt: &past}).Effective(now))
	assert.False(t, (&BanRecord{IsActive: false, Type: BanPermanent}).Effective(now))
}

func TestBanRecord_AbsorbIsUnion(t *testing.T) {
	later := time.Now().Add(48 * time.Hour)
	b := &BanRecord{Type: BanTemporary, DeviceHashes: []string{"d1"}, IPHashes: []string{"i1"}, IsActive: true}
	b.Absorb(&BanRecord{Type: BanTemporary, ExpiresAt: &later, DeviceHashes: []string{"d1", "d2"}, IPHashes: []string{"i2"}})

	assert.Equal(t, []string{"d1", "d2"}, b.DeviceHashes)
	assert.Equal(t, []string{"i1", "i2"}, b.IPHashes)
	assert.Equal(t, later, *b.ExpiresAt)

	b.Absorb(&BanRecord{Type: BanPermanent})
	assert.Equal(t, BanPermanent, b.Type)
	assert.Nil(t, b.ExpiresAt)
	assert.Equal(t, []string{"d1", "d2"}, b.DeviceHashes)
}

func TestUnion_SkipsEmptyAndDuplicates(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Union([]string{"a"}, "", "a", "b", "b"))
}
