package usecase

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	askTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "talkpdf_ask_total",
		Help: "Ask requests by outcome.",
	}, []string{"outcome"})

	transcriptWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "talkpdf_transcript_write_failures_total",
		Help: "Answers returned to the user whose transcript entry could not be stored.",
	})

	inferenceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "talkpdf_inference_duration_seconds",
		Help:    "Time spent waiting for the inference provider.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80},
	})
)

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var ucErr *Error
	if errors.As(err, &ucErr) {
		return strings.ToLower(string(ucErr.Code))
	}
	return strings.ToLower(string(ErrorInternal))
}
