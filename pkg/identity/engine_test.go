package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

var testSignals = Signals{
	UserAgent:           "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 ExtraLongSuffixToExceedTheLimit",
	Language:            "en-US",
	ScreenWidth:         1920,
	ScreenHeight:        1080,
	ColorDepth:          24,
	Timezone:            "Europe/Berlin",
	TimezoneOffset:      -60,
	HardwareConcurrency: 8,
	DeviceMemory:        "8",
	Platform:            "Linux x86_64",
}

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(append([]Option{WithLogger(zap.NewNop())}, opts...)...)
}

func TestEngine_FPJSTierWins(t *testing.T) {
	e := newTestEngine(
		WithVisitorIDProvider(VisitorIDFunc(func(context.Context) (string, error) { return "visitor-1", nil })),
		WithSignalSource(StaticSignals(testSignals)),
	)
	res := e.Derive(context.Background())
	assert.True(t, utils.IsHexToken(res.Token))
	assert.Equal(t, MethodFPJS, res.Meta.FingerprintMethod)
	assert.Equal(t, MetaVersion, res.Meta.Version)
	assert.Equal(t, "1920x1080", res.Meta.ScreenResolution)
	assert.Len(t, []rune(res.Meta.UserAgent), 100)
}

func TestEngine_FallsThroughToBasic(t *testing.T) {
	e := newTestEngine(
		WithVisitorIDProvider(VisitorIDFunc(func(context.Context) (string, error) { return "", errors.New("blocked") })),
		WithSignalSource(StaticSignals(testSignals)),
	)
	res := e.Derive(context.Background())
	assert.True(t, utils.IsHexToken(res.Token))
	assert.Equal(t, MethodBasic, res.Meta.FingerprintMethod)
}

func TestEngine_DoNotTrackNeverUsesBasic(t *testing.T) {
	sig := testSignals
	sig.DoNotTrack = true
	e := newTestEngine(WithSignalSource(StaticSignals(sig)))

	for i := 0; i < 20; i++ {
		res := e.Derive(context.Background())
		require.NotEqual(t, MethodBasic, res.Meta.FingerprintMethod)
		assert.Equal(t, MethodRandom, res.Meta.FingerprintMethod)
		assert.True(t, res.Meta.DoNotTrack)
	}
}

func TestEngine_SlowTierTimesOut(t *testing.T) {
	slow := VisitorIDFunc(func(ctx context.Context) (string, error) {
		select {
		case <-time.After(5 * time.Second):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})
	e := newTestEngine(
		WithVisitorIDProvider(slow),
		WithSignalSource(StaticSignals(testSignals)),
		WithTimeouts(50*time.Millisecond, time.Second),
	)

	start := time.Now()
	res := e.Derive(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, MethodBasic, res.Meta.FingerprintMethod)
}

func TestEngine_AllTiersFailStillReturnsToken(t *testing.T) {
	e := newTestEngine(
		WithVisitorIDProvider(VisitorIDFunc(func(context.Context) (string, error) { return "v", nil })),
		WithSignalSource(StaticSignals(testSignals)),
		WithHashFunc(func([]byte) (string, error) { return "", errors.New("no crypto") }),
	)
	res := e.Derive(context.Background())
	assert.True(t, utils.IsHexToken(res.Token))
	assert.Equal(t, MethodRandom, res.Meta.FingerprintMethod)
}

func TestEngine_MalformedHashFallsThrough(t *testing.T) {
	e := newTestEngine(
		WithSignalSource(StaticSignals(testSignals)),
		WithHashFunc(func([]byte) (string, error) { return "NOT-HEX", nil }),
	)
	res := e.Derive(context.Background())
	assert.True(t, utils.IsHexToken(res.Token))
}

func TestEngine_TokensAreDistinct(t *testing.T) {
	e := newTestEngine(WithSignalSource(StaticSignals(testSignals)))
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok := e.Derive(context.Background()).Token
		require.False(t, seen[tok], "duplicate token")
		seen[tok] = true
	}
}

func TestSignals_Fingerprint(t *testing.T) {
	s := Signals{UserAgent: "ua", Language: "en", ScreenWidth: 1, ScreenHeight: 2, ColorDepth: 24, TimezoneOffset: 60, HardwareConcurrency: 4, DeviceMemory: "8", MaxTouchPoints: 0, Platform: "p"}
	assert.Equal(t, "ua|en|1x2|24|60|4|8|0|p", s.Fingerprint())

	s.Canvas = "c"
	s.WebGLVendor, s.WebGLRenderer = "v", "r"
	assert.Equal(t, "ua|en|1x2|24|60|4|8|0|p|c|v|r", s.Fingerprint())
}

func TestEmergencyToken(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	tok := emergencyToken(now)
	require.True(t, utils.IsHexToken(tok))
	assert.Equal(t, "0000018bcfe56800", tok[48:])
}
