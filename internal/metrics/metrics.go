// Package metrics exposes the Prometheus counters and histograms the
// /metrics route serves.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// durationBuckets is a geometric sequence of 35 buckets starting at
// 1.5e-4 seconds with ratio 1.5, wide enough to span a single-token
// decode step up to a multi-minute generation.
func durationBuckets() []float64 {
	buckets := make([]float64, 35)
	v := 1.5e-4
	for i := range buckets {
		buckets[i] = v
		v *= 1.5
	}
	return buckets
}

var (
	RequestCount = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tgi_request_count",
		Help: "Total number of requests received.",
	})
	RequestSuccess = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tgi_request_success",
		Help: "Total number of requests that completed successfully.",
	})
	RequestFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tgi_request_failure",
		Help: "Total number of failed requests, labeled by error type.",
	}, []string{"err"})

	RequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_duration",
		Help:    "End-to-end request duration in seconds.",
		Buckets: durationBuckets(),
	})
	RequestValidationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_validation_duration",
		Help:    "Time spent in the validation pipeline, in seconds.",
		Buckets: durationBuckets(),
	})
	RequestQueueDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_queue_duration",
		Help:    "Time an entry spent queued before its first batch, in seconds.",
		Buckets: durationBuckets(),
	})
	RequestInferenceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_inference_duration",
		Help:    "Time spent generating tokens, in seconds.",
		Buckets: durationBuckets(),
	})
	RequestMeanTimePerTokenDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_mean_time_per_token_duration",
		Help:    "Mean inference time per generated token, in seconds.",
		Buckets: durationBuckets(),
	})

	RequestGeneratedTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_generated_tokens",
		Help:    "Number of tokens generated per request.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	RequestInputLength = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_input_length",
		Help:    "Input length per request, in tokens.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	})
	RequestMaxNewTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_max_new_tokens",
		Help:    "Requested max_new_tokens per request.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	BatchNextSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_batch_next_size",
		Help:    "Size of each batch formed by the scheduler.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	RequestSkippedTokens = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tgi_request_skipped_tokens",
		Help:    "Tokens advanced per decode step beyond one, under speculative decoding.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 6),
	})
)

func init() {
	prometheus.MustRegister(
		RequestCount,
		RequestSuccess,
		RequestFailure,
		RequestDuration,
		RequestValidationDuration,
		RequestQueueDuration,
		RequestInferenceDuration,
		RequestMeanTimePerTokenDuration,
		RequestGeneratedTokens,
		RequestInputLength,
		RequestMaxNewTokens,
		BatchNextSize,
		RequestSkippedTokens,
	)
}
