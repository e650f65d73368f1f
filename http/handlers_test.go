package http

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recoverycast/db"
	"recoverycast/ml"
)

type predictionBody struct {
	ID              string  `json:"id"`
	Gender          string  `json:"gender"`
	DrugType        string  `json:"drug_type"`
	RecoveryClass   int     `json:"recovery_class"`
	PredictedLabel  string  `json:"predicted_label"`
	PredictedMonths float64 `json:"predicted_months"`
	ProbShort       float64 `json:"prob_short"`
	ProbMedium      float64 `json:"prob_medium"`
	ProbLong        float64 `json:"prob_long"`
	Summary         string  `json:"summary"`
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(120)))

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decodeBody(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, false, body["model_ready"])
}

func TestPrograms(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/programs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var programs []Program
	decodeBody(t, rec, &programs)
	require.Len(t, programs, 8)
	for i, p := range programs {
		assert.Equal(t, i, p.Code)
		assert.NotEmpty(t, p.Name)
	}
}

func TestPredict_TrainsOnFirstUseAndStoresRecord(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(150)))

	rec := env.do(t, http.MethodPost, "/api/predict", validRequest())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created predictionBody
	decodeBody(t, rec, &created)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "/api/predictions/"+created.ID, rec.Header().Get("Location"))
	assert.Contains(t, []string{
		"Short (0–6 months)", "Medium (6–12 months)", "Long (12+ months)",
	}, created.PredictedLabel)
	assert.InDelta(t, 100, created.ProbShort+created.ProbMedium+created.ProbLong, 0.1)
	assert.Contains(t, created.Summary, "Prediction for Male, Age 30 - ")
	assert.True(t, env.predictor.Ready())
	assert.Equal(t, 1, env.events.count())

	rec = env.do(t, http.MethodGet, "/api/predictions/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched predictionBody
	decodeBody(t, rec, &fetched)
	assert.Equal(t, created, fetched)
}

func TestPredict_ValidationErrors(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(120)))

	req := validRequest()
	req.Age = 12
	req.Gender = "Other"
	req.RecoveryProgram = 9

	rec := env.do(t, http.MethodPost, "/api/predict", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	decodeBody(t, rec, &body)
	fields := make(map[string]string)
	for _, f := range body.Fields {
		fields[f.Field] = f.Message
	}
	assert.Equal(t, "age must be at least 18", fields["age"])
	assert.Contains(t, fields["gender"], "gender must be one of")
	assert.Equal(t, "recovery_program must be at most 7", fields["recovery_program"])
	assert.False(t, env.predictor.Ready(), "validation failures must not trigger training")
}

func TestPredict_AcceptsMultiWordDrugType(t *testing.T) {
	req := validRequest()
	req.DrugType = "Prescription Opioids"
	assert.NoError(t, validateStruct(req))

	req.DrugType = "Opioids"
	assert.Error(t, validateStruct(req))
}

func TestPredict_MalformedJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/predict", "not an object")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredict_UnknownCategory(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(120)))

	req := validRequest()
	req.DrugType = "Cocaine"
	rec := env.do(t, http.MethodPost, "/api/predict", req)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, ml.ColumnDrugType, body["column"])
	assert.Equal(t, "Cocaine", body["value"])

	records, err := env.records.Recent(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPredict_DatasetMissing(t *testing.T) {
	source := func(context.Context) (*ml.Dataset, error) {
		return nil, fmt.Errorf("%w: data/missing.csv", ml.ErrDatasetMissing)
	}
	env := newTestEnv(t, source)

	rec := env.do(t, http.MethodPost, "/api/predict", validRequest())
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]string
	decodeBody(t, rec, &body)
	assert.Equal(t, datasetMissingMessage, body["error"])
}

func TestPredict_NoSource(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/predict", validRequest())
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetPrediction_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/predictions/does-not-exist", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPredictions(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(150)))

	for _, gender := range []string{"Male", "Female", "Female"} {
		req := validRequest()
		req.Gender = gender
		rec := env.do(t, http.MethodPost, "/api/predict", req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var body struct {
		Count       int              `json:"count"`
		Predictions []predictionBody `json:"predictions"`
	}
	rec := env.do(t, http.MethodGet, "/api/predictions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 3, body.Count)

	rec = env.do(t, http.MethodGet, "/api/predictions?gender=Male", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.Count)

	rec = env.do(t, http.MethodGet, "/api/predictions?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)
}

func TestListPredictions_BadQuery(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, target := range []string{
		"/api/predictions?limit=zero",
		"/api/predictions?limit=-1",
		"/api/predictions?class=eternal",
	} {
		rec := env.do(t, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListPredictions_ClassFilter(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	for _, class := range []ml.RecoveryClass{ml.RecoveryShort, ml.RecoveryLong, ml.RecoveryLong} {
		record := db.NewPredictionRecord(ml.RawSample{Age: 40, Gender: "Female", DrugType: "Heroin"}, &ml.PredictionResult{
			Class: class,
			Label: class.Label(),
		})
		require.NoError(t, env.records.Save(ctx, record))
	}

	var body struct {
		Count int `json:"count"`
	}
	rec := env.do(t, http.MethodGet, "/api/predictions?class=long", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 2, body.Count)

	rec = env.do(t, http.MethodGet, "/api/predictions?class=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &body)
	assert.Equal(t, 1, body.Count)
}

func TestModelStatusAndTrain(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(150)))

	var status modelStatus
	rec := env.do(t, http.MethodGet, "/api/model/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &status)
	assert.False(t, status.Ready)

	rec = env.do(t, http.MethodPost, "/api/model/train", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report ml.TrainingReport
	decodeBody(t, rec, &report)
	assert.Equal(t, 150, report.Rows)
	assert.Equal(t, 30, report.TestRows)

	rec = env.do(t, http.MethodGet, "/api/model/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &status)
	assert.True(t, status.Ready)
	assert.Equal(t, 10, status.ClassifierTrees)
	assert.Equal(t, 10, status.RegressorTrees)
	assert.ElementsMatch(t, trainedDrugTypes, status.Vocabularies[ml.ColumnDrugType])
}

func TestTrain_Conflict(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(60)))
	env.api.training.Lock()
	defer env.api.training.Unlock()

	rec := env.do(t, http.MethodPost, "/api/model/train", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTrainingLog(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, env.records.SaveTrainingLog(context.Background(), db.TrainingLog{
		Source:   "data/drug_recovery_dataset.csv",
		Rows:     500,
		Accuracy: 0.8,
	}))

	rec := env.do(t, http.MethodGet, "/api/model/training-log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Runs []db.TrainingLog `json:"runs"`
	}
	decodeBody(t, rec, &body)
	require.Len(t, body.Runs, 1)
	assert.Equal(t, 500, body.Runs[0].Rows)
}

func TestPredict_StoresRecordAfterClientGone(t *testing.T) {
	env := newTestEnv(t, staticSource(testDataset(120)))

	payload, err := json.Marshal(validRequest())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", bytes.NewReader(payload)).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var body predictionBody
	decodeBody(t, rec, &body)
	stored, err := env.records.Get(context.Background(), body.ID)
	require.NoError(t, err)
	assert.Equal(t, body.ID, stored.ID)
}

func TestTrainingLog_BadLimit(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, limit := range []string{"abc", "0", "-3"} {
		rec := env.do(t, http.MethodGet, "/api/model/training-log?limit="+limit, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}

	rec := env.do(t, http.MethodGet, "/api/model/training-log?limit=5", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
