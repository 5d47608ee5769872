package identity

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	mrand "math/rand/v2"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
	"github.com/AnshRaj112/shadowmatch-backend/pkg/utils"
)

// Method names the tier that produced a token.
type Method string

const (
	MethodFPJS   Method = "fpjs"
	MethodBasic  Method = "basic"
	MethodRandom Method = "random"
)

const (
	MetaVersion       = "1.0"
	maxUserAgentChars = 100

	DefaultTierTimeout = 600 * time.Millisecond
	DefaultBudget      = 2 * time.Second
)

// DeviceMeta is persisted next to the token under DeviceMetaKey.
type DeviceMeta struct {
	Version           string `json:"version"`
	Timestamp         int64  `json:"timestamp"`
	UserAgent         string `json:"userAgent"`
	Language          string `json:"language"`
	Timezone          string `json:"timezone"`
	ScreenResolution  string `json:"screenResolution"`
	ColorDepth        int    `json:"colorDepth"`
	Platform          string `json:"platform"`
	DoNotTrack        bool   `json:"doNotTrack"`
	FingerprintMethod Method `json:"fingerprintMethod"`
}

// HashFunc hashes tier input. Injectable so tests can force every tier to fail.
type HashFunc func([]byte) (string, error)

func defaultHash(b []byte) (string, error) { return utils.Hash(b), nil }

// Result is the output of one derivation.
type Result struct {
	Token string
	Meta  DeviceMeta
}

type tier struct {
	method Method
	derive func(ctx context.Context, sig Signals) (string, error)
}

// Engine derives identity tokens through an ordered chain of tiers:
// fpjs, then basic (skipped when Do Not Track is set), then random.
// A tier that errors, times out or yields a malformed token falls through.
// Derive never fails.
type Engine struct {
	visitor     VisitorIDProvider
	signals     SignalSource
	hash        HashFunc
	now         func() time.Time
	tierTimeout time.Duration
	budget      time.Duration
	log         *zap.Logger
}

type Option func(*Engine)

func WithVisitorIDProvider(p VisitorIDProvider) Option { return func(e *Engine) { e.visitor = p } }
func WithSignalSource(s SignalSource) Option           { return func(e *Engine) { e.signals = s } }
func WithHashFunc(h HashFunc) Option                   { return func(e *Engine) { e.hash = h } }
func WithClock(now func() time.Time) Option            { return func(e *Engine) { e.now = now } }
func WithLogger(l *zap.Logger) Option                  { return func(e *Engine) { e.log = l } }

// WithTimeouts sets the per-tier timeout and the overall derivation budget.
func WithTimeouts(perTier, budget time.Duration) Option {
	return func(e *Engine) {
		if perTier > 0 {
			e.tierTimeout = perTier
		}
		if budget > 0 {
			e.budget = budget
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		hash:        defaultHash,
		now:         time.Now,
		tierTimeout: DefaultTierTimeout,
		budget:      DefaultBudget,
	}
	for _, o := range opts {
		o(e)
	}
	if e.log == nil {
		e.log = logger.Named("identity.engine")
	}
	return e
}

func (e *Engine) tiers() []tier {
	return []tier{
		{MethodFPJS, e.deriveFPJS},
		{MethodBasic, e.deriveBasic},
		{MethodRandom, e.deriveRandom},
	}
}

// Derive walks the tier chain and returns the first usable token.
func (e *Engine) Derive(ctx context.Context) Result {
	start := e.now()
	ctx, cancel := context.WithTimeout(ctx, e.budget)
	defer cancel()

	sig, sigErr := e.collectSignals(ctx)
	if sigErr != nil {
		e.log.Debug("signal collection failed", zap.Error(sigErr))
	}

	for _, t := range e.tiers() {
		if t.method == MethodBasic && (sig.DoNotTrack || sigErr != nil) {
			continue
		}
		token, err := e.runTier(ctx, t, sig)
		if err != nil {
			e.log.Debug("tier fell through", zap.String("method", string(t.method)), zap.Error(err))
			continue
		}
		if elapsed := e.now().Sub(start); elapsed > e.budget {
			e.log.Warn("identity derivation exceeded budget", zap.Duration("elapsed", elapsed))
		}
		return Result{Token: token, Meta: e.meta(sig, t.method)}
	}

	e.log.Warn("all derivation tiers failed, using emergency token")
	return Result{Token: emergencyToken(e.now()), Meta: e.meta(sig, MethodRandom)}
}

func (e *Engine) collectSignals(ctx context.Context) (Signals, error) {
	if e.signals == nil {
		return Signals{}, fmt.Errorf("%w: no signal source", ErrDerivationFailure)
	}
	type out struct {
		sig Signals
		err error
	}
	tctx, cancel := context.WithTimeout(ctx, e.tierTimeout)
	defer cancel()

	ch := make(chan out, 1)
	go func() {
		s, err := e.signals.Collect(tctx)
		ch <- out{s, err}
	}()
	select {
	case o := <-ch:
		return o.sig, o.err
	case <-tctx.Done():
		return Signals{}, fmt.Errorf("%w: signals: %v", ErrDerivationFailure, tctx.Err())
	}
}

// runTier bounds a tier by the per-tier timeout and validates its output.
func (e *Engine) runTier(ctx context.Context, t tier, sig Signals) (string, error) {
	tctx, cancel := context.WithTimeout(ctx, e.tierTimeout)
	defer cancel()

	type out struct {
		token string
		err   error
	}
	ch := make(chan out, 1)
	go func() {
		tok, err := t.derive(tctx, sig)
		ch <- out{tok, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return "", o.err
		}
		if !utils.IsHexToken(o.token) {
			return "", fmt.Errorf("%w: %s produced malformed token", ErrValidationFailure, t.method)
		}
		return o.token, nil
	case <-tctx.Done():
		return "", fmt.Errorf("%w: %s: %v", ErrDerivationFailure, t.method, tctx.Err())
	}
}

func (e *Engine) deriveFPJS(ctx context.Context, _ Signals) (string, error) {
	if e.visitor == nil {
		return "", fmt.Errorf("%w: no visitor id provider", ErrDerivationFailure)
	}
	id, err := e.visitor.VisitorID(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	if id == "" {
		return "", fmt.Errorf("%w: empty visitor id", ErrDerivationFailure)
	}
	return e.hashSeed(id)
}

func (e *Engine) deriveBasic(_ context.Context, sig Signals) (string, error) {
	return e.hashSeed(sig.Fingerprint())
}

func (e *Engine) deriveRandom(context.Context, Signals) (string, error) {
	seed := uuid.NewString() + strconv.FormatInt(e.now().UnixMilli(), 10)
	h, err := e.hash([]byte(seed))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return h, nil
}

// hashSeed salts a stable seed with time and randomness so two clients with
// identical signals still receive distinct tokens.
func (e *Engine) hashSeed(seed string) (string, error) {
	salt := strconv.FormatInt(e.now().UnixMilli(), 10) + strconv.FormatUint(randomUint64(), 36)
	h, err := e.hash([]byte(seed + salt))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDerivationFailure, err)
	}
	return h, nil
}

func (e *Engine) meta(sig Signals, m Method) DeviceMeta {
	return DeviceMeta{
		Version:           MetaVersion,
		Timestamp:         e.now().UnixMilli(),
		UserAgent:         truncateRunes(sig.UserAgent, maxUserAgentChars),
		Language:          sig.Language,
		Timezone:          sig.Timezone,
		ScreenResolution:  sig.Resolution(),
		ColorDepth:        sig.ColorDepth,
		Platform:          sig.Platform,
		DoNotTrack:        sig.DoNotTrack,
		FingerprintMethod: m,
	}
}

// emergencyToken is 24 random bytes followed by the 8 byte big-endian
// millisecond timestamp, hex encoded. It needs no hash function.
func emergencyToken(now time.Time) string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf[:24]); err != nil {
		for i := 0; i < 24; i += 8 {
			binary.BigEndian.PutUint64(buf[i:], mrand.Uint64())
		}
	}
	binary.BigEndian.PutUint64(buf[24:], uint64(now.UnixMilli()))
	return hex.EncodeToString(buf)
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return mrand.Uint64()
	}
	return binary.BigEndian.Uint64(b[:])
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
