package pipeline

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"recoverycast/ml"
)

// CleaningRule inspects one dataset row. It returns the (possibly corrected)
// row, or an error to reject it.
type CleaningRule interface {
	Apply(row ml.DatasetRow) (ml.DatasetRow, error)
	Name() string
}

type QualityIssue struct {
	Rule     string `json:"rule"`
	Severity string `json:"severity"` // low, high
	Message  string `json:"message"`
	Line     int    `json:"line"`
}

type CleaningStats struct {
	TotalProcessed int64            `json:"total_processed"`
	Passed         int64            `json:"passed"`
	Rejected       int64            `json:"rejected"`
	Corrected      int64            `json:"corrected"`
	Issues         map[string]int64 `json:"issues"`
	LastClean      time.Time        `json:"last_clean"`
}

// DataCleaner filters a training dataset before it reaches the predictor.
type DataCleaner struct {
	rules  []CleaningRule
	logger *zap.Logger

	mu    sync.RWMutex
	stats CleaningStats
}

func NewDataCleaner(logger *zap.Logger) *DataCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleaner := &DataCleaner{
		logger: logger,
		stats:  CleaningStats{Issues: make(map[string]int64)},
	}
	cleaner.AddRule(NewCategoryRule())
	cleaner.AddRule(NewFiniteValueRule())
	cleaner.AddRule(NewRangeRule())
	return cleaner
}

func (dc *DataCleaner) AddRule(rule CleaningRule) {
	dc.rules = append(dc.rules, rule)
	dc.logger.Debug("added cleaning rule", zap.String("rule", rule.Name()))
}

// Clean returns a new dataset holding the rows every rule accepted. Line
// numbers in issues count the CSV header as line 1.
func (dc *DataCleaner) Clean(dataset *ml.Dataset) (*ml.Dataset, []QualityIssue) {
	cleaned := &ml.Dataset{Source: dataset.Source, Rows: make([]ml.DatasetRow, 0, len(dataset.Rows))}
	var issues []QualityIssue

	dc.mu.Lock()
	defer dc.mu.Unlock()

	for i, original := range dataset.Rows {
		dc.stats.TotalProcessed++
		row := original
		rejected := false
		for _, rule := range dc.rules {
			next, err := rule.Apply(row)
			if err != nil {
				issues = append(issues, QualityIssue{
					Rule:     rule.Name(),
					Severity: "high",
					Message:  err.Error(),
					Line:     i + 2,
				})
				dc.stats.Issues[rule.Name()]++
				rejected = true
				break
			}
			row = next
		}
		if rejected {
			dc.stats.Rejected++
			continue
		}
		if row != original {
			dc.stats.Corrected++
		}
		dc.stats.Passed++
		cleaned.Rows = append(cleaned.Rows, row)
	}
	dc.stats.LastClean = time.Now()

	if len(issues) > 0 {
		dc.logger.Warn("dataset rows rejected",
			zap.String("source", dataset.Source),
			zap.Int("rejected", len(dataset.Rows)-len(cleaned.Rows)),
			zap.Int("kept", len(cleaned.Rows)),
		)
	}
	return cleaned, issues
}

func (dc *DataCleaner) GetStats() CleaningStats {
	dc.mu.RLock()
	defer dc.mu.RUnlock()

	stats := dc.stats
	stats.Issues = make(map[string]int64, len(dc.stats.Issues))
	for k, v := range dc.stats.Issues {
		stats.Issues[k] = v
	}
	return stats
}

// CategoryRule trims surrounding whitespace from categorical values and
// rejects rows where one is empty.
type CategoryRule struct{}

func NewCategoryRule() *CategoryRule { return &CategoryRule{} }

func (r *CategoryRule) Name() string { return "category_presence" }

func (r *CategoryRule) Apply(row ml.DatasetRow) (ml.DatasetRow, error) {
	row.Sample.Gender = strings.TrimSpace(row.Sample.Gender)
	row.Sample.DrugType = strings.TrimSpace(row.Sample.DrugType)
	if row.Sample.Gender == "" {
		return row, fmt.Errorf("%s is empty", ml.ColumnGender)
	}
	if row.Sample.DrugType == "" {
		return row, fmt.Errorf("%s is empty", ml.ColumnDrugType)
	}
	return row, nil
}

type FiniteValueRule struct{}

func NewFiniteValueRule() *FiniteValueRule { return &FiniteValueRule{} }

func (r *FiniteValueRule) Name() string { return "finite_values" }

func (r *FiniteValueRule) Apply(row ml.DatasetRow) (ml.DatasetRow, error) {
	values := map[string]float64{
		ml.ColumnDailyUsage:        row.Sample.DailyUsage,
		ml.ColumnMentalHealthScore: row.Sample.MentalHealthScore,
		ml.ColumnRecoveryMonths:    row.RecoveryMonths,
	}
	for column, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return row, fmt.Errorf("%s is not a finite number", column)
		}
	}
	return row, nil
}

// RangeRule rejects values that cannot describe a real patient.
type RangeRule struct {
	MaxAge    int
	MaxMonths float64
}

func NewRangeRule() *RangeRule {
	return &RangeRule{MaxAge: 120, MaxMonths: 240}
}

func (r *RangeRule) Name() string { return "value_range" }

func (r *RangeRule) Apply(row ml.DatasetRow) (ml.DatasetRow, error) {
	s := row.Sample
	switch {
	case row.RecoveryMonths < 0 || row.RecoveryMonths > r.MaxMonths:
		return row, fmt.Errorf("%s %.2f out of range [0, %.0f]", ml.ColumnRecoveryMonths, row.RecoveryMonths, r.MaxMonths)
	case s.Age < 0 || s.Age > r.MaxAge:
		return row, fmt.Errorf("%s %d out of range [0, %d]", ml.ColumnAge, s.Age, r.MaxAge)
	case s.DailyUsage < 0:
		return row, fmt.Errorf("%s %.2f is negative", ml.ColumnDailyUsage, s.DailyUsage)
	case s.YearsUsing < 0:
		return row, fmt.Errorf("%s %d is negative", ml.ColumnYearsUsing, s.YearsUsing)
	case s.AddictionSeverity < 0:
		return row, fmt.Errorf("%s %d is negative", ml.ColumnAddictionSeverity, s.AddictionSeverity)
	}
	return row, nil
}
