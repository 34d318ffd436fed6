package obs

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// QuoteTotal counts checkout computations by entry point.
	QuoteTotal *prometheus.CounterVec
	// VoucherSelections counts the voucher chosen per category: auto, manual or none.
	VoucherSelections *prometheus.CounterVec
	// VoucherFetchFailures counts owned-voucher fetches that fell back to an empty list.
	VoucherFetchFailures prometheus.Counter
	// StaleResponses counts fee quotes and voucher refreshes discarded as out of date.
	StaleResponses *prometheus.CounterVec
	// SubmitTotal counts order submissions by outcome.
	SubmitTotal *prometheus.CounterVec
	// SubmitLatency records order submission latency in milliseconds.
	SubmitLatency prometheus.Histogram
)

// MustRegisterDomainMetrics initialises and registers checkout collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		QuoteTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_quote_total",
			Help:      "Checkout total computations by entry point.",
		}, []string{"source"}))
		VoucherSelections = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_selection_total",
			Help:      "Voucher selections per category and mode.",
		}, []string{"category", "mode"}))
		VoucherFetchFailures = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voucher_fetch_failures_total",
			Help:      "Owned voucher fetches that failed and were treated as empty.",
		}))
		StaleResponses = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_stale_responses_total",
			Help:      "Asynchronous checkout responses discarded because a newer request was outstanding.",
		}, []string{"kind"}))
		SubmitTotal = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_submit_total",
			Help:      "Order submissions by outcome.",
		}, []string{"result"}))
		SubmitLatency = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "order_submit_duration_ms",
			Help:      "Order submission latency in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}))
	})
}

// IncQuote records a computation; safe to call before registration.
func IncQuote(source string) {
	if QuoteTotal != nil {
		QuoteTotal.WithLabelValues(source).Inc()
	}
}

// IncVoucherSelection records the selection mode for a category.
func IncVoucherSelection(category, mode string) {
	if VoucherSelections != nil {
		VoucherSelections.WithLabelValues(category, mode).Inc()
	}
}

// IncVoucherFetchFailure records a voucher fetch that degraded to empty.
func IncVoucherFetchFailure() {
	if VoucherFetchFailures != nil {
		VoucherFetchFailures.Inc()
	}
}

// IncStale records a discarded out-of-date response.
func IncStale(kind string) {
	if StaleResponses != nil {
		StaleResponses.WithLabelValues(kind).Inc()
	}
}

// ObserveSubmit records a submission outcome and its latency in milliseconds.
func ObserveSubmit(result string, millis float64) {
	if SubmitTotal != nil {
		SubmitTotal.WithLabelValues(result).Inc()
	}
	if SubmitLatency != nil {
		SubmitLatency.Observe(millis)
	}
}
