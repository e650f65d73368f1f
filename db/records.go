package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"recoverycast/ml"
)

var ErrNotFound = errors.New("record not found")

const (
	DefaultRecentLimit = 5
	MaxListLimit       = 100
)

// PredictionRecord is one persisted prediction. Records are written once and
// never updated.
type PredictionRecord struct {
	ID                string    `json:"id"`
	Age               int       `json:"age"`
	Gender            string    `json:"gender"`
	DrugType          string    `json:"drug_type"`
	AddictionSeverity int       `json:"addiction_severity"`
	DailyUsage        float64   `json:"daily_usage"`
	YearsUsing        int       `json:"years_using"`
	MentalHealthScore float64   `json:"mental_health_score"`
	RecoveryProgram   int       `json:"recovery_program"`
	RecoveryClass     int       `json:"recovery_class"`
	PredictedLabel    string    `json:"predicted_label"`
	PredictedMonths   float64   `json:"predicted_months"`
	ProbShort         float64   `json:"prob_short"`
	ProbMedium        float64   `json:"prob_medium"`
	ProbLong          float64   `json:"prob_long"`
	CreatedAt         time.Time `json:"created_at"`
}

func NewPredictionRecord(sample ml.RawSample, result *ml.PredictionResult) *PredictionRecord {
	return &PredictionRecord{
		ID:                uuid.New().String(),
		Age:               sample.Age,
		Gender:            sample.Gender,
		DrugType:          sample.DrugType,
		AddictionSeverity: sample.AddictionSeverity,
		DailyUsage:        sample.DailyUsage,
		YearsUsing:        sample.YearsUsing,
		MentalHealthScore: sample.MentalHealthScore,
		RecoveryProgram:   sample.RecoveryProgram,
		RecoveryClass:     int(result.Class),
		PredictedLabel:    result.Label,
		PredictedMonths:   result.Months,
		ProbShort:         result.ProbShort,
		ProbMedium:        result.ProbMedium,
		ProbLong:          result.ProbLong,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (r *PredictionRecord) Sample() ml.RawSample {
	return ml.RawSample{
		Age:               r.Age,
		Gender:            r.Gender,
		DrugType:          r.DrugType,
		AddictionSeverity: r.AddictionSeverity,
		DailyUsage:        r.DailyUsage,
		YearsUsing:        r.YearsUsing,
		MentalHealthScore: r.MentalHealthScore,
		RecoveryProgram:   r.RecoveryProgram,
	}
}

// Summary is the one-line description used in listings.
func (r *PredictionRecord) Summary() string {
	return fmt.Sprintf("Prediction for %s, Age %d - %s", r.Gender, r.Age, r.CreatedAt.Format("2006-01-02 15:04"))
}

// RecordFilter narrows List. Zero fields match everything; Class is a
// recovery class code when non-nil.
type RecordFilter struct {
	DrugType string
	Gender   string
	Class    *int
	Limit    int
}

func (f RecordFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultRecentLimit
	case f.Limit > MaxListLimit:
		return MaxListLimit
	default:
		return f.Limit
	}
}

type TrainingLog struct {
	ID         int64     `json:"id"`
	Source     string    `json:"source"`
	Rows       int       `json:"rows"`
	Accuracy   float64   `json:"accuracy"`
	MAE        float64   `json:"mae"`
	RMSE       float64   `json:"rmse"`
	R2         float64   `json:"r2"`
	DurationMS int64     `json:"duration_ms"`
	TrainedAt  time.Time `json:"trained_at"`
}

func TrainingLogFromReport(report ml.TrainingReport) TrainingLog {
	return TrainingLog{
		Source:     report.Source,
		Rows:       report.Rows,
		Accuracy:   report.Evaluation.Accuracy,
		MAE:        report.Evaluation.MAE,
		RMSE:       report.Evaluation.RMSE,
		R2:         report.Evaluation.R2,
		DurationMS: report.Duration.Milliseconds(),
		TrainedAt:  report.TrainedAt.UTC().Truncate(time.Microsecond),
	}
}

// RecordStore persists prediction records and the training history.
type RecordStore interface {
	Save(ctx context.Context, record *PredictionRecord) error
	Get(ctx context.Context, id string) (*PredictionRecord, error)
	Recent(ctx context.Context, n int) ([]*PredictionRecord, error)
	List(ctx context.Context, filter RecordFilter) ([]*PredictionRecord, error)
	SaveTrainingLog(ctx context.Context, log TrainingLog) error
	TrainingLogs(ctx context.Context, limit int) ([]TrainingLog, error)
	Close() error
}
