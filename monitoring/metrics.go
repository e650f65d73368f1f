// Package monitoring exposes Prometheus metrics for the prediction service
// and a websocket feed of prediction and training events.
package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"recoverycast/ml"
)

var (
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoverycast_predictions_total",
			Help: "Total number of predictions served, by recovery class",
		},
		[]string{"class"},
	)

	PredictionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoverycast_prediction_errors_total",
			Help: "Total number of failed prediction requests, by reason",
		},
		[]string{"reason"},
	)

	PredictionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recoverycast_prediction_duration_seconds",
			Help:    "Time spent encoding a sample and running both forests",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
		},
	)

	TrainingRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoverycast_training_runs_total",
			Help: "Total number of training runs, by outcome",
		},
		[]string{"outcome"},
	)

	TrainingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "recoverycast_training_duration_seconds",
			Help:    "Wall time of a full training run",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	ModelAccuracy = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoverycast_model_accuracy",
			Help: "Held-out accuracy of the active classifier",
		},
	)

	ModelMAE = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoverycast_model_mae_months",
			Help: "Held-out mean absolute error of the active regressor",
		},
	)

	ModelReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoverycast_model_ready",
			Help: "1 when an artifact set is loaded",
		},
	)

	ArtifactReloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recoverycast_artifact_reloads_total",
			Help: "Total number of artifact sets picked up from disk",
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recoverycast_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recoverycast_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recoverycast_websocket_clients",
			Help: "Connected websocket clients",
		},
	)
)

func RecordPrediction(class ml.RecoveryClass, duration time.Duration) {
	PredictionsTotal.WithLabelValues(class.String()).Inc()
	PredictionDuration.Observe(duration.Seconds())
}

func RecordPredictionError(reason string) {
	PredictionErrorsTotal.WithLabelValues(reason).Inc()
}

func RecordTraining(report ml.TrainingReport) {
	TrainingRunsTotal.WithLabelValues("success").Inc()
	TrainingDuration.Observe(report.Duration.Seconds())
	ModelAccuracy.Set(report.Evaluation.Accuracy)
	ModelMAE.Set(report.Evaluation.MAE)
	ModelReady.Set(1)
}

func RecordTrainingFailure() {
	TrainingRunsTotal.WithLabelValues("failure").Inc()
}

func RecordArtifactReload() {
	ArtifactReloadsTotal.Inc()
	ModelReady.Set(1)
}

func SetModelReady(ready bool) {
	if ready {
		ModelReady.Set(1)
		return
	}
	ModelReady.Set(0)
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
