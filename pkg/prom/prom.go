package prom

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	xhttp "github.com/fakturo/payment-engine/pkg/http"
)

const (
	SystemIngest = "ingest"
	SystemMatch  = "match"
)

const (
	MetricDeliveriesTotal          = "deliveries_total"
	MetricTransactionsTotal        = "transactions_total"
	MetricMatchDecisionsTotal      = "match_decisions_total"
	MetricExtractionDurationSec    = "extraction_duration_seconds"
	MetricMatchConfidenceHistogram = "match_confidence"
)

var (
	createLock = &sync.Mutex{}
	namespace  = "none"

	MetricSystemEnabled = false

	counterVecs   = make(map[string]*prometheus.CounterVec)
	histogramVecs = make(map[string]*prometheus.HistogramVec)

	defaultLabels prometheus.Labels
)

func Create(host string, env string, nameSpace string) error {
	defaultLabels = prometheus.Labels{
		"env":      env,
		"instance": host,
	}
	namespace = nameSpace
	MetricSystemEnabled = true

	var err error
	hasError := func(e error) {
		if err == nil && e != nil {
			err = e
		}
	}

	hasError(createCounterVec(SystemIngest, MetricDeliveriesTotal, []string{"status"}))
	hasError(createCounterVec(SystemIngest, MetricTransactionsTotal, []string{"dedup"}))
	hasError(createHistogramVec(SystemIngest, MetricExtractionDurationSec, []string{"extractor"}))
	hasError(createCounterVec(SystemMatch, MetricMatchDecisionsTotal, []string{"outcome"}))
	hasError(createHistogramVec(SystemMatch, MetricMatchConfidenceHistogram, []string{"rule"}))

	return err
}

func createCounterVec(subsystem, name string, labels []string) error {
	createLock.Lock()
	defer createLock.Unlock()

	cv := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	if err := prometheus.Register(cv); err != nil {
		return err
	}
	counterVecs[subsystem+"_"+name] = cv
	return nil
}

func createHistogramVec(subsystem, name string, labels []string) error {
	createLock.Lock()
	defer createLock.Unlock()

	hv := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   namespace,
		Subsystem:   subsystem,
		Name:        name,
		ConstLabels: defaultLabels,
	}, labels)
	if err := prometheus.Register(hv); err != nil {
		return err
	}
	histogramVecs[subsystem+"_"+name] = hv
	return nil
}

func IncCounter(subsystem, name string, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if cv, ok := counterVecs[subsystem+"_"+name]; ok {
		cv.WithLabelValues(labelValues...).Inc()
	}
}

func Observe(subsystem, name string, value float64, labelValues ...string) {
	if !MetricSystemEnabled {
		return
	}
	if hv, ok := histogramVecs[subsystem+"_"+name]; ok {
		hv.WithLabelValues(labelValues...).Observe(value)
	}
}

// MetricsHandler exposes the prometheus registry on a fasthttp route.
func MetricsHandler() xhttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
}
