package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed",
	}, []string{"method", "route", "status"})

	httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	matchWaiting = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "match_waiting_users",
		Help: "Users waiting in the matchmaking pool",
	}, []string{"mode"})

	matchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "matches_total",
		Help: "Match commits by result",
	}, []string{"mode", "result"}) // result: committed|refused

	matchScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "match_score",
		Help:    "Compatibility score of committed matches",
		Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	banMergesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ban_merges_total",
		Help: "Ban record upserts by outcome",
	}, []string{"outcome"}) // created|merged

	reportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "moderation_reports_total",
		Help: "Moderation reports created by violation type",
	}, []string{"violation", "auto"})

	rateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by a rate limiter",
	}, []string{"action"})

	registerOnce sync.Once
	registerErr  error
)

// Register adds every collector to reg (the default registerer when nil).
// Collectors that are already registered are accepted.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	registerOnce.Do(func() {
		for _, c := range []prometheus.Collector{
			httpRequestsTotal, httpRequestDuration,
			matchWaiting, matchesTotal, matchScore,
			banMergesTotal, reportsTotal, rateLimitedTotal,
		} {
			if err := registerCollector(reg, c); err != nil {
				registerErr = err
				return
			}
		}
	})
	return registerErr
}

func registerCollector(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves /metrics from the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func SetWaiting(mode string, n int) {
	matchWaiting.WithLabelValues(mode).Set(float64(n))
}

func MatchCommitted(mode string, score float64) {
	matchesTotal.WithLabelValues(mode, "committed").Inc()
	matchScore.Observe(score)
}

func MatchRefused(mode string) {
	matchesTotal.WithLabelValues(mode, "refused").Inc()
}

func BanUpserted(merged bool) {
	outcome := "created"
	if merged {
		outcome = "merged"
	}
	banMergesTotal.WithLabelValues(outcome).Inc()
}

func ReportCreated(violation string, auto bool) {
	reportsTotal.WithLabelValues(violation, strconv.FormatBool(auto)).Inc()
}

func RateLimited(action string) {
	rateLimitedTotal.WithLabelValues(action).Inc()
}
