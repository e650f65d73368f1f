package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recoverycast/config"
	"recoverycast/db"
	"recoverycast/ml"
	"recoverycast/monitoring"
)

const csvHeader = "Age,Gender,Drug_Type,Addiction_Severity,Daily_Usage,Years_Using,Mental_Health_Score,Recovery_Program,Recovery_Time_Months\n"

func writeDataset(t *testing.T, extra string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString(csvHeader)
	drugs := []string{"Alcohol", "Heroin", "Marijuana"}
	for i := 0; i < 90; i++ {
		gender := "Male"
		if i%2 == 1 {
			gender = "Female"
		}
		severity := 1 + i%10
		months := 1.5 + float64(severity)*1.4
		fmt.Fprintf(&b, "%d,%s,%s,%d,%.1f,%d,%.1f,%d,%.2f\n",
			20+i%50, gender, drugs[i%3], severity, float64(i%8), i%15, float64(i%11), i%8, months)
	}
	b.WriteString(extra)
	path := filepath.Join(t.TempDir(), "dataset.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func testConfig(t *testing.T, datasetPath string) *config.Config {
	t.Helper()
	cfg := config.Default()
	dir := t.TempDir()
	cfg.HTTP.Port = 18080
	cfg.HTTP.RateLimit = 0
	cfg.Database.Path = filepath.Join(dir, "records.db")
	cfg.ML.ArtifactDir = filepath.Join(dir, "models")
	cfg.ML.DatasetPath = datasetPath
	cfg.ML.ClassifierTrees = 8
	cfg.ML.RegressorTrees = 8
	cfg.ML.Workers = 2
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestLoadTrainingData_Cleaning(t *testing.T) {
	path := writeDataset(t, "25,Male,Alcohol,3,1.0,2,5.0,1,-4\n")
	cfg := testConfig(t, path)

	raw, err := LoadTrainingData(cfg.ML, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, raw.Rows, 91)

	cfg.ML.CleanDataset = true
	cleaned, err := LoadTrainingData(cfg.ML, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, cleaned.Rows, 90)
}

func TestLoadTrainingData_Missing(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "absent.csv"))
	_, err := LoadTrainingData(cfg.ML, zap.NewNop())
	assert.ErrorIs(t, err, ml.ErrDatasetMissing)
}

func TestTrainingRecorder_WritesLog(t *testing.T) {
	store, err := db.NewSQLiteStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer store.Close()

	record := TrainingRecorder(store, nil, zap.NewNop())
	record(ml.TrainingReport{
		Source:     "dataset.csv",
		Rows:       90,
		Evaluation: ml.Evaluation{Accuracy: 0.9, MAE: 1.1},
		Duration:   1500 * time.Millisecond,
		TrainedAt:  time.Now(),
	})

	logs, err := store.TrainingLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "dataset.csv", logs[0].Source)
	assert.Equal(t, int64(1500), logs[0].DurationMS)
}

func TestApp_PredictEndToEnd(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, ""))
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.False(t, a.Predictor().Ready())

	body := `{"age":30,"gender":"Male","drug_type":"Alcohol","addiction_severity":5,"daily_usage":2.0,"years_using":5,"mental_health_score":6.0,"recovery_program":1}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	a.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, a.Predictor().Ready())

	_, err = os.Stat(filepath.Join(cfg.ML.ArtifactDir, ml.ClassifierFile))
	assert.NoError(t, err, "first prediction should persist artifacts")

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model/training-log", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":90`)
}

func TestApp_FirstUseTrainingFailureCounted(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "absent.csv"))
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	failures := monitoring.TrainingRunsTotal.WithLabelValues("failure")
	before := testutil.ToFloat64(failures)

	body := `{"age":30,"gender":"Male","drug_type":"Alcohol","addiction_severity":5,"daily_usage":2.0,"years_using":5,"mental_health_score":6.0,"recovery_program":1}`
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body)))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code, rec.Body.String())
	assert.Equal(t, before+1, testutil.ToFloat64(failures))
}

func TestApp_LoadsSavedArtifacts(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, ""))

	dataset, err := LoadTrainingData(cfg.ML, zap.NewNop())
	require.NoError(t, err)
	trainer := ml.NewDualPredictor(PredictorConfig(cfg.ML), ml.NewArtifactStore(cfg.ML.ArtifactDir))
	_, err = trainer.Train(context.Background(), dataset)
	require.NoError(t, err)

	cfg.ML.DatasetPath = filepath.Join(t.TempDir(), "gone.csv")
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.True(t, a.Predictor().Ready())
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t, writeDataset(t, ""))
	cfg.HTTP.Port = 0
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
