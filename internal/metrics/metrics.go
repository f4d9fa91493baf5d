package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Ingestions          *prometheus.CounterVec
	CustomersReconciled *prometheus.CounterVec
	GeocodeLookups      *prometheus.CounterVec
	APIErrors           prometheus.Counter
	RequestSeconds      *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		Ingestions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_ingestions_total",
			Help: "Total number of workbook ingestions by outcome.",
		}, []string{"status"}),
		CustomersReconciled: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_customers_reconciled_total",
			Help: "Total number of customer rows reconciled, by outcome.",
		}, []string{"outcome"}),
		GeocodeLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "hermes_geocode_lookups_total",
			Help: "Total number of address resolutions, labelled by cache hit or miss.",
		}, []string{"cache"}),
		APIErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "hermes_geocoding_provider_api_errors_total",
			Help: "Total number of errors received from the geocoding provider API.",
		}),
		RequestSeconds: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hermes_geocoding_provider_request_duration_seconds",
			Help:    "Duration of requests to the geocoding provider API.",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}
