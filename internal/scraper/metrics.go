package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for one scraper run.
type Metrics struct {
	Registry       *prometheus.Registry
	FlavoursTotal  prometheus.Counter
	OffersTotal    *prometheus.CounterVec
	ErrorsTotal    *prometheus.CounterVec
	ScrapeDuration prometheus.Histogram
	SettleDuration *prometheus.HistogramVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	flavours := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scraper_flavours_total",
		Help: "Flavour options visited.",
	})
	offers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_offers_total",
			Help: "Amount offers read, by outcome.",
		},
		[]string{"outcome"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scraper_errors_total",
			Help: "Scrapes that failed, by error type.",
		},
		[]string{"error_type"},
	)
	scrapeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scraper_scrape_duration_seconds",
		Help:    "Wall time of a whole scrape including browser start and teardown.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600},
	})
	settleDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scraper_settle_duration_seconds",
			Help:    "Time spent waiting for the page to re-render after a selection.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"trigger"},
	)

	registry.MustRegister(flavours, offers, errorsTotal, scrapeDuration, settleDuration)

	return &Metrics{
		Registry:       registry,
		FlavoursTotal:  flavours,
		OffersTotal:    offers,
		ErrorsTotal:    errorsTotal,
		ScrapeDuration: scrapeDuration,
		SettleDuration: settleDuration,
	}
}

func (m *Metrics) IncFlavours() {
	if m == nil {
		return
	}
	m.FlavoursTotal.Inc()
}

// IncOffer counts an offer as "priced" or "unpriced".
func (m *Metrics) IncOffer(outcome string) {
	if m == nil {
		return
	}
	m.OffersTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

func (m *Metrics) ObserveScrape(d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapeDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSettle(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.SettleDuration.WithLabelValues(trigger).Observe(d.Seconds())
}

// WriteTextfile dumps the registry in the text exposition format, for the
// node_exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
