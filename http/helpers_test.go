package http

import (
	"bytes"
	"context"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"recoverycast/db"
	"recoverycast/ml"
	"recoverycast/monitoring"
)

// Cocaine is deliberately absent so it exercises the unknown-category path.
var trainedDrugTypes = []string{"Alcohol", "Heroin", "Marijuana", "Methamphetamine", "Prescription Opioids"}

func testDataset(n int) *ml.Dataset {
	rng := rand.New(rand.NewSource(11))
	rows := make([]ml.DatasetRow, n)
	for i := range rows {
		gender := "Male"
		if i%2 == 1 {
			gender = "Female"
		}
		severity := 1 + rng.Intn(10)
		years := rng.Intn(21)
		rows[i] = ml.DatasetRow{
			Sample: ml.RawSample{
				Age:               18 + rng.Intn(60),
				Gender:            gender,
				DrugType:          trainedDrugTypes[i%len(trainedDrugTypes)],
				AddictionSeverity: severity,
				DailyUsage:        float64(rng.Intn(100)) / 10,
				YearsUsing:        years,
				MentalHealthScore: float64(rng.Intn(101)) / 10,
				RecoveryProgram:   rng.Intn(8),
			},
			RecoveryMonths: 2 + float64(severity)*1.2 + float64(years)*0.3 + rng.Float64(),
		}
	}
	return &ml.Dataset{Source: "test", Rows: rows}
}

type recordedEvent struct {
	topic monitoring.MessageType
	data  any
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *fakePublisher) Publish(topic monitoring.MessageType, data any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{topic: topic, data: data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type testEnv struct {
	api       *API
	mux       *http.ServeMux
	predictor *ml.DualPredictor
	records   db.RecordStore
	events    *fakePublisher
}

func newTestEnv(t *testing.T, source ml.DatasetSource) *testEnv {
	t.Helper()
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := ml.DefaultPredictorConfig()
	cfg.ClassifierTrees = 10
	cfg.RegressorTrees = 10
	cfg.Workers = 4
	predictor := ml.NewDualPredictor(cfg, ml.NewArtifactStore(filepath.Join(t.TempDir(), "models")))

	events := &fakePublisher{}
	api := NewAPI(predictor, store, source, WithEvents(events))
	mux := http.NewServeMux()
	api.Register(mux)
	return &testEnv{api: api, mux: mux, predictor: predictor, records: store, events: events}
}

func staticSource(dataset *ml.Dataset) ml.DatasetSource {
	return func(context.Context) (*ml.Dataset, error) { return dataset, nil }
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func validRequest() PredictRequest {
	return PredictRequest{
		Age:               30,
		Gender:            "Male",
		DrugType:          "Alcohol",
		AddictionSeverity: 5,
		DailyUsage:        2.0,
		YearsUsing:        5,
		MentalHealthScore: 6.0,
		RecoveryProgram:   1,
	}
}
