package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "onboarding_live_sessions",
		Help: "Onboarding sessions currently held in memory",
	})

	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_turns_total",
		Help: "Turns handled by outcome (ok, failed, skipped)",
	}, []string{"role_kind", "outcome"})

	StageAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_stage_advances_total",
		Help: "Stage transitions by destination stage",
	}, []string{"role_kind", "stage"})

	GatewayDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "onboarding_gateway_duration_seconds",
		Help:    "Latency of external gateway calls",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 4.0, 8.0, 16.0},
	}, []string{"service"})

	GatewayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "onboarding_gateway_errors_total",
		Help: "Gateway failures by service and class (gateway, transport)",
	}, []string{"service", "class"})

	SpeechCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_speech_cache_hits_total",
		Help: "Speech requests served from the per-message cache",
	})

	SpeechCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_speech_cache_misses_total",
		Help: "Speech requests that invoked the speech service",
	})

	SessionsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_sessions_saved_total",
		Help: "Session files written",
	})

	SessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "onboarding_sessions_evicted_total",
		Help: "Idle sessions removed by the TTL sweeper",
	})
)
