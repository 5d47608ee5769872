package identity

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Signals are the non-PII environment attributes the basic tier fingerprints.
type Signals struct {
	UserAgent           string
	Language            string
	ScreenWidth         int
	ScreenHeight        int
	ColorDepth          int
	Timezone            string
	TimezoneOffset      int // minutes, sign as reported by the client
	HardwareConcurrency int
	DeviceMemory        string
	MaxTouchPoints      int
	Platform            string
	Canvas              string // canvas rendering digest, optional
	WebGLVendor         string
	WebGLRenderer       string
	DoNotTrack          bool
}

// Resolution formats the screen size as WxH.
func (s Signals) Resolution() string {
	return fmt.Sprintf("%dx%d", s.ScreenWidth, s.ScreenHeight)
}

// Fingerprint joins the signals with "|" in a fixed order.
func (s Signals) Fingerprint() string {
	parts := []string{
		s.UserAgent,
		s.Language,
		s.Resolution(),
		strconv.Itoa(s.ColorDepth),
		strconv.Itoa(s.TimezoneOffset),
		strconv.Itoa(s.HardwareConcurrency),
		s.DeviceMemory,
		strconv.Itoa(s.MaxTouchPoints),
		s.Platform,
	}
	if s.Canvas != "" {
		parts = append(parts, s.Canvas)
	}
	if s.WebGLVendor != "" || s.WebGLRenderer != "" {
		parts = append(parts, s.WebGLVendor, s.WebGLRenderer)
	}
	return strings.Join(parts, "|")
}

// SignalSource collects Signals for the current client.
type SignalSource interface {
	Collect(ctx context.Context) (Signals, error)
}

// SignalFunc adapts a function to SignalSource.
type SignalFunc func(ctx context.Context) (Signals, error)

func (f SignalFunc) Collect(ctx context.Context) (Signals, error) { return f(ctx) }

// StaticSignals always returns the same Signals.
func StaticSignals(s Signals) SignalSource {
	return SignalFunc(func(context.Context) (Signals, error) { return s, nil })
}

// VisitorIDProvider is the third-party fingerprinting library behind the fpjs tier.
type VisitorIDProvider interface {
	VisitorID(ctx context.Context) (string, error)
}

// VisitorIDFunc adapts a function to VisitorIDProvider.
type VisitorIDFunc func(ctx context.Context) (string, error)

func (f VisitorIDFunc) VisitorID(ctx context.Context) (string, error) { return f(ctx) }

// HostSignals reads Signals from the local process environment. Used by the
// command line client where there is no browser to ask.
type HostSignals struct {
	Version string
}

func (h HostSignals) Collect(ctx context.Context) (Signals, error) {
	if err := ctx.Err(); err != nil {
		return Signals{}, err
	}
	zone, offset := time.Now().Zone()
	version := h.Version
	if version == "" {
		version = "dev"
	}
	lang := os.Getenv("LANG")
	if i := strings.IndexAny(lang, "._"); i > 0 {
		lang = lang[:i]
	}
	return Signals{
		UserAgent:           fmt.Sprintf("shadowid/%s (%s; %s)", version, runtime.GOOS, runtime.GOARCH),
		Language:            lang,
		Timezone:            zone,
		TimezoneOffset:      -offset / 60,
		HardwareConcurrency: runtime.NumCPU(),
		Platform:            runtime.GOOS + "/" + runtime.GOARCH,
		DoNotTrack:          os.Getenv("DO_NOT_TRACK") == "1",
	}, nil
}
