package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	loads          *prometheus.CounterVec
	skipped        *prometheus.CounterVec
	pushIngests    *prometheus.CounterVec
	contentFetches *prometheus.CounterVec
	decryptFails   prometheus.Counter
	pushReconnects prometheus.Counter
	pushConnected  prometheus.Gauge
	displayed      prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldchat_channel_loads_total",
			Help: "Channel loads by outcome",
		}, []string{"outcome"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldchat_skipped_records_total",
			Help: "Records skipped during sync by failing stage",
		}, []string{"stage"}),
		pushIngests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldchat_push_ingests_total",
			Help: "Push notifications processed by outcome",
		}, []string{"outcome"}),
		contentFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shieldchat_content_fetches_total",
			Help: "Content store fetches by serving source",
		}, []string{"source"}),
		decryptFails: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shieldchat_decrypt_failures_total",
			Help: "Envelopes that could not be decrypted",
		}),
		pushReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shieldchat_push_reconnects_total",
			Help: "Push feed reconnect attempts",
		}),
		pushConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shieldchat_push_connected",
			Help: "Whether the push feed is connected (1=yes, 0=no)",
		}),
		displayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shieldchat_displayed_messages",
			Help: "Messages in the active channel's published list",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.loads, m.skipped, m.pushIngests, m.contentFetches,
			m.decryptFails, m.pushReconnects, m.pushConnected, m.displayed)
	}
	return m
}

const (
	LoadCacheHit  = "cache_hit"
	LoadCacheMiss = "cache_miss"
	LoadBackfill  = "backfill_updated"
	LoadCoalesced = "coalesced"
	LoadError     = "error"

	StageFetch   = "fetch"
	StageDecode  = "decode"
	StageContent = "content"
	StageDecrypt = "decrypt"

	PushAdded      = "added"
	PushReplaced   = "replaced"
	PushDuplicate  = "duplicate"
	PushUnresolved = "unresolved"
)

func (m *Metrics) Load(outcome string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Skipped(stage string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(stage).Inc()
}

func (m *Metrics) PushIngest(outcome string) {
	if m == nil {
		return
	}
	m.pushIngests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ContentFetch(source string) {
	if m == nil {
		return
	}
	m.contentFetches.WithLabelValues(source).Inc()
}

func (m *Metrics) DecryptFailure() {
	if m == nil {
		return
	}
	m.decryptFails.Inc()
}

func (m *Metrics) PushReconnect() {
	if m == nil {
		return
	}
	m.pushReconnects.Inc()
}

func (m *Metrics) PushConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.pushConnected.Set(1)
		return
	}
	m.pushConnected.Set(0)
}

func (m *Metrics) Displayed(n int) {
	if m == nil {
		return
	}
	m.displayed.Set(float64(n))
}
