package ml

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"
)

var testDrugTypes = []string{
	"Alcohol",
	"Cocaine",
	"Heroin",
	"Marijuana",
	"Methamphetamine",
	"Prescription Opioids",
}

// syntheticDataset builds a reproducible dataset whose recovery time grows
// with severity and years of use, so all three buckets are populated.
func syntheticDataset(n int) *Dataset {
	rng := rand.New(rand.NewSource(7))
	rows := make([]DatasetRow, n)
	for i := range rows {
		gender := "Male"
		if i%2 == 1 {
			gender = "Female"
		}
		severity := 1 + rng.Intn(10)
		years := rng.Intn(21)
		program := rng.Intn(8)
		months := 2 + float64(severity)*1.2 + float64(years)*0.3 - float64(program)*0.2 + rng.Float64()
		rows[i] = DatasetRow{
			Sample: RawSample{
				Age:               18 + rng.Intn(60),
				Gender:            gender,
				DrugType:          testDrugTypes[i%len(testDrugTypes)],
				AddictionSeverity: severity,
				DailyUsage:        float64(rng.Intn(100)) / 10,
				YearsUsing:        years,
				MentalHealthScore: float64(rng.Intn(101)) / 10,
				RecoveryProgram:   program,
			},
			RecoveryMonths: months,
		}
	}
	return &Dataset{Source: "synthetic", Rows: rows}
}

func testPredictorConfig() PredictorConfig {
	cfg := DefaultPredictorConfig()
	cfg.ClassifierTrees = 15
	cfg.RegressorTrees = 20
	cfg.Workers = 4
	return cfg
}

func newTestStore(t *testing.T) *ArtifactStore {
	t.Helper()
	return NewArtifactStore(filepath.Join(t.TempDir(), "artifacts"))
}

func referenceSample() RawSample {
	return RawSample{
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

// trainedSet trains an in-memory set with the given forest sizes.
func trainedSet(t *testing.T, classifierTrees, regressorTrees int) *ArtifactSet {
	t.Helper()
	cfg := testPredictorConfig()
	cfg.ClassifierTrees = classifierTrees
	cfg.RegressorTrees = regressorTrees
	p := NewDualPredictor(cfg, nil)
	if _, err := p.Train(context.Background(), syntheticDataset(60)); err != nil {
		t.Fatalf("train: %v", err)
	}
	return p.Artifacts()
}
