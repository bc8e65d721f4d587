package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "questkeeper"

// Metrics holds the collectors of the quest service on a private registry.
// Every method is safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	accountLoads        *prometheus.CounterVec
	loadAttemptFailures prometheus.Counter
	loadDuration        prometheus.Histogram
	cachedAccounts      prometheus.Gauge

	stageTransitions *prometheus.CounterVec
	questsStarted    prometheus.Counter
	questsFinished   prometheus.Counter
	stateMismatches  prometheus.Counter

	asyncRewardsInFlight prometheus.Gauge
	rewardOutcomes       *prometheus.CounterVec

	persistFailures *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDurations   *prometheus.HistogramVec
}

// New creates the collectors and registers them, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		accountLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_loads_total",
			Help:      "Account loads by outcome (loaded, created, not_loaded, abandoned, failed).",
		}, []string{"result"}),
		loadAttemptFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_load_attempt_failures_total",
			Help:      "Individual account load attempts that failed or timed out.",
		}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "account_load_duration_seconds",
			Help:      "Duration of a single account load attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		cachedAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cached_accounts",
			Help:      "Accounts currently held in the account cache.",
		}),
		stageTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_completions_total",
			Help:      "Completed stages by kind (regular, ending).",
		}, []string{"kind"}),
		questsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_started_total",
			Help:      "Quests started.",
		}),
		questsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quests_finished_total",
			Help:      "Quests finished.",
		}),
		stateMismatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_state_mismatches_total",
			Help:      "Stage completions rejected because the stage was not active for the account.",
		}),
		asyncRewardsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "async_rewards_in_flight",
			Help:      "Reward grants currently running off the main loop.",
		}),
		rewardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reward_grants_total",
			Help:      "Reward grants by outcome (ok, interrupted, error).",
		}, []string{"outcome"}),
		persistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed persistence writes by operation.",
		}, []string{"op"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDurations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
	m.registry.MustRegister(
		m.accountLoads, m.loadAttemptFailures, m.loadDuration, m.cachedAccounts,
		m.stageTransitions, m.questsStarted, m.questsFinished, m.stateMismatches,
		m.asyncRewardsInFlight, m.rewardOutcomes, m.persistFailures,
		m.httpRequests, m.httpDurations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) AccountLoad(result string) {
	if m == nil {
		return
	}
	m.accountLoads.WithLabelValues(result).Inc()
}

func (m *Metrics) LoadAttemptFailed() {
	if m == nil {
		return
	}
	m.loadAttemptFailures.Inc()
}

func (m *Metrics) ObserveLoad(d time.Duration) {
	if m == nil {
		return
	}
	m.loadDuration.Observe(d.Seconds())
}

func (m *Metrics) SetCachedAccounts(n int) {
	if m == nil {
		return
	}
	m.cachedAccounts.Set(float64(n))
}

func (m *Metrics) StageCompleted(ending bool) {
	if m == nil {
		return
	}
	kind := "regular"
	if ending {
		kind = "ending"
	}
	m.stageTransitions.WithLabelValues(kind).Inc()
}

func (m *Metrics) QuestStarted() {
	if m == nil {
		return
	}
	m.questsStarted.Inc()
}

func (m *Metrics) QuestFinished() {
	if m == nil {
		return
	}
	m.questsFinished.Inc()
}

func (m *Metrics) StateMismatch() {
	if m == nil {
		return
	}
	m.stateMismatches.Inc()
}

func (m *Metrics) AsyncRewardStarted() {
	if m == nil {
		return
	}
	m.asyncRewardsInFlight.Inc()
}

func (m *Metrics) AsyncRewardDone() {
	if m == nil {
		return
	}
	m.asyncRewardsInFlight.Dec()
}

func (m *Metrics) RewardOutcome(outcome string) {
	if m == nil {
		return
	}
	m.rewardOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PersistFailed(op string) {
	if m == nil {
		return
	}
	m.persistFailures.WithLabelValues(op).Inc()
}

func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, http.StatusText(status)).Inc()
	m.httpDurations.WithLabelValues(route, method).Observe(d.Seconds())
}
