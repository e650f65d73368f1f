package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"recoverycast/db"
	"recoverycast/ml"
	"recoverycast/monitoring"
)

const maxBodyBytes = 1 << 16

const defaultTrainingLogLimit = 20

const datasetMissingMessage = "Dataset file not found. Please contact administrator."

// EventPublisher receives prediction events for live subscribers.
type EventPublisher interface {
	Publish(topic monitoring.MessageType, data any) error
}

type API struct {
	predictor *ml.DualPredictor
	records   db.RecordStore
	dataset   ml.DatasetSource
	events    EventPublisher
	logger    *zap.Logger

	training sync.Mutex
}

type APIOption func(*API)

func WithEvents(events EventPublisher) APIOption {
	return func(a *API) { a.events = events }
}

func WithAPILogger(logger *zap.Logger) APIOption {
	return func(a *API) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAPI(predictor *ml.DualPredictor, records db.RecordStore, dataset ml.DatasetSource, opts ...APIOption) *API {
	a := &API{
		predictor: predictor,
		records:   records,
		dataset:   dataset,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /api/programs", a.handlePrograms)
	mux.HandleFunc("POST /api/predict", a.handlePredict)
	mux.HandleFunc("GET /api/predictions", a.handleListPredictions)
	mux.HandleFunc("GET /api/predictions/{id}", a.handleGetPrediction)
	mux.HandleFunc("GET /api/model/status", a.handleModelStatus)
	mux.HandleFunc("POST /api/model/train", a.handleTrain)
	mux.HandleFunc("GET /api/model/training-log", a.handleTrainingLog)
}

type recordView struct {
	*db.PredictionRecord
	Summary string `json:"summary"`
}

func newRecordView(record *db.PredictionRecord) recordView {
	return recordView{PredictionRecord: record, Summary: record.Summary()}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"model_ready": a.predictor.Ready(),
	})
}

func (a *API) handlePrograms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, Programs)
}

func (a *API) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		monitoring.RecordPredictionError("bad_request")
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateStruct(req); err != nil {
		monitoring.RecordPredictionError("validation")
		var verr *ValidationError
		errors.As(err, &verr)
		respondJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
		return
	}

	// Training on first use must not be aborted by one client hanging up;
	// other requests may be waiting on the same run. The record is stored
	// under the same context so a timed-out request still keeps its result.
	ctx := context.WithoutCancel(r.Context())
	if err := a.predictor.EnsureReady(ctx, a.dataset); err != nil {
		a.predictionFailed(w, err)
		return
	}

	start := time.Now()
	sample := req.Sample()
	result, err := a.predictor.Predict(sample)
	if err != nil {
		a.predictionFailed(w, err)
		return
	}
	monitoring.RecordPrediction(result.Class, time.Since(start))

	record := db.NewPredictionRecord(sample, result)
	if err := a.records.Save(ctx, record); err != nil {
		a.logger.Error("save prediction", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to store prediction")
		return
	}
	view := newRecordView(record)
	if a.events != nil {
		if err := a.events.Publish(monitoring.PredictionEvent, view); err != nil {
			a.logger.Warn("publish prediction", zap.Error(err))
		}
	}

	a.logger.Info("prediction stored",
		zap.String("id", record.ID),
		zap.String("class", result.Class.String()),
		zap.Float64("months", result.Months),
		zap.String("request_id", GetRequestID(r.Context())),
	)
	w.Header().Set("Location", "/api/predictions/"+record.ID)
	respondJSON(w, http.StatusCreated, view)
}

func (a *API) predictionFailed(w http.ResponseWriter, err error) {
	var unknown *ml.UnknownCategoryError
	switch {
	case errors.As(err, &unknown):
		monitoring.RecordPredictionError("unknown_category")
		respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  err.Error(),
			"column": unknown.Column,
			"value":  unknown.Value,
		})
	case errors.Is(err, ml.ErrUnknownCategory):
		monitoring.RecordPredictionError("unknown_category")
		respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ml.ErrDatasetMissing):
		monitoring.RecordPredictionError("dataset_missing")
		a.logger.Error("model unavailable", zap.Error(err))
		respondError(w, http.StatusServiceUnavailable, datasetMissingMessage)
	case errors.Is(err, ml.ErrModelNotReady):
		monitoring.RecordPredictionError("not_ready")
		respondError(w, http.StatusServiceUnavailable, "model is not ready")
	default:
		monitoring.RecordPredictionError("internal")
		a.logger.Error("prediction failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "prediction failed")
	}
}

func (a *API) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := db.RecordFilter{
		DrugType: q.Get("drug_type"),
		Gender:   q.Get("gender"),
	}
	limit, ok := parseLimit(w, r, db.DefaultRecentLimit)
	if !ok {
		return
	}
	filter.Limit = limit
	if raw := q.Get("class"); raw != "" {
		class, ok := parseRecoveryClass(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, "class must be short, medium, long or 0-2")
			return
		}
		code := int(class)
		filter.Class = &code
	}

	records, err := a.records.List(r.Context(), filter)
	if err != nil {
		a.logger.Error("list predictions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list predictions")
		return
	}
	views := make([]recordView, len(records))
	for i, record := range records {
		views[i] = newRecordView(record)
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":       len(views),
		"predictions": views,
	})
}

func (a *API) handleGetPrediction(w http.ResponseWriter, r *http.Request) {
	record, err := a.records.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		respondError(w, http.StatusNotFound, "prediction not found")
		return
	}
	if err != nil {
		a.logger.Error("get prediction", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load prediction")
		return
	}
	respondJSON(w, http.StatusOK, newRecordView(record))
}

type modelStatus struct {
	Ready           bool                `json:"ready"`
	TrainedAt       *time.Time          `json:"trained_at,omitempty"`
	ClassifierTrees int                 `json:"classifier_trees,omitempty"`
	RegressorTrees  int                 `json:"regressor_trees,omitempty"`
	Vocabularies    map[string][]string `json:"vocabularies,omitempty"`
}

func (a *API) handleModelStatus(w http.ResponseWriter, r *http.Request) {
	set := a.predictor.Artifacts()
	if set == nil {
		respondJSON(w, http.StatusOK, modelStatus{})
		return
	}
	trainedAt := set.TrainedAt
	respondJSON(w, http.StatusOK, modelStatus{
		Ready:           true,
		TrainedAt:       &trainedAt,
		ClassifierTrees: len(set.Classifier.Trees),
		RegressorTrees:  len(set.Regressor.Trees),
		Vocabularies:    set.Preprocessor.Vocabularies(),
	})
}

func (a *API) handleTrain(w http.ResponseWriter, r *http.Request) {
	if !a.training.TryLock() {
		respondError(w, http.StatusConflict, "training already in progress")
		return
	}
	defer a.training.Unlock()

	ctx := context.WithoutCancel(r.Context())
	dataset, err := a.dataset(ctx)
	if err != nil {
		monitoring.RecordTrainingFailure()
		if errors.Is(err, ml.ErrDatasetMissing) {
			respondError(w, http.StatusServiceUnavailable, datasetMissingMessage)
			return
		}
		a.logger.Error("load dataset", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load dataset")
		return
	}
	// Failed runs are counted by the predictor's failure hook.
	report, err := a.predictor.Train(ctx, dataset)
	if err != nil {
		a.logger.Error("training failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "training failed")
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (a *API) handleTrainingLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, defaultTrainingLogLimit)
	if !ok {
		return
	}
	logs, err := a.records.TrainingLogs(r.Context(), limit)
	if err != nil {
		a.logger.Error("list training log", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load training log")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"runs": logs})
}

// parseLimit reads the optional limit query parameter, answering 400 itself
// when it is not a positive integer.
func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		respondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return limit, true
}

func parseRecoveryClass(raw string) (ml.RecoveryClass, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "0", "short":
		return ml.RecoveryShort, true
	case "1", "medium":
		return ml.RecoveryMedium, true
	case "2", "long":
		return ml.RecoveryLong, true
	}
	return 0, false
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
