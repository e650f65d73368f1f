package db

import (
	"strconv"
	"strings"
)

const recordColumns = `id, age, gender, drug_type, addiction_severity, daily_usage, years_using,
        mental_health_score, recovery_program, recovery_class, predicted_label, predicted_months,
        prob_short, prob_medium, prob_long, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*PredictionRecord, error) {
	var r PredictionRecord
	err := row.Scan(
		&r.ID, &r.Age, &r.Gender, &r.DrugType, &r.AddictionSeverity, &r.DailyUsage, &r.YearsUsing,
		&r.MentalHealthScore, &r.RecoveryProgram, &r.RecoveryClass, &r.PredictedLabel, &r.PredictedMonths,
		&r.ProbShort, &r.ProbMedium, &r.ProbLong, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func recordArgs(r *PredictionRecord) []any {
	return []any{
		r.ID, r.Age, r.Gender, r.DrugType, r.AddictionSeverity, r.DailyUsage, r.YearsUsing,
		r.MentalHealthScore, r.RecoveryProgram, r.RecoveryClass, r.PredictedLabel, r.PredictedMonths,
		r.ProbShort, r.ProbMedium, r.ProbLong, r.CreatedAt,
	}
}

// listQuery renders the filtered listing. placeholder returns the bind
// marker for the n-th argument, starting at 1.
func listQuery(filter RecordFilter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, clause+" = "+placeholder(len(args)))
	}
	if filter.DrugType != "" {
		add("drug_type", filter.DrugType)
	}
	if filter.Gender != "" {
		add("gender", filter.Gender)
	}
	if filter.Class != nil {
		add("recovery_class", *filter.Class)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(recordColumns)
	b.WriteString(" FROM predictions")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, filter.limit())
	b.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ")
	b.WriteString(placeholder(len(args)))
	return b.String(), args
}

func questionMark(int) string { return "?" }

func dollar(n int) string { return "$" + strconv.Itoa(n) }
