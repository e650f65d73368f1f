package ml

const (
	ColumnAge               = "Age"
	ColumnGender            = "Gender"
	ColumnDrugType          = "Drug_Type"
	ColumnAddictionSeverity = "Addiction_Severity"
	ColumnDailyUsage        = "Daily_Usage"
	ColumnYearsUsing        = "Years_Using"
	ColumnMentalHealthScore = "Mental_Health_Score"
	ColumnRecoveryProgram   = "Recovery_Program"
	ColumnRecoveryMonths    = "Recovery_Time_Months"
)

type RawSample struct {
	Age               int     `json:"age"`
	Gender            string  `json:"gender"`
	DrugType          string  `json:"drug_type"`
	AddictionSeverity int     `json:"addiction_severity"`
	DailyUsage        float64 `json:"daily_usage"`
	YearsUsing        int     `json:"years_using"`
	MentalHealthScore float64 `json:"mental_health_score"`
	RecoveryProgram   int     `json:"recovery_program"`
}

// FeatureNames is the column order of every encoded feature vector. The
// encoders, the scaler and both forests are fitted against this order.
func FeatureNames() []string {
	return []string{
		ColumnAge,
		ColumnGender,
		ColumnDrugType,
		ColumnAddictionSeverity,
		ColumnDailyUsage,
		ColumnYearsUsing,
		ColumnMentalHealthScore,
		ColumnRecoveryProgram,
	}
}

func CategoricalColumns() []string {
	return []string{ColumnGender, ColumnDrugType}
}

func categoricalValue(sample RawSample, column string) string {
	switch column {
	case ColumnGender:
		return sample.Gender
	case ColumnDrugType:
		return sample.DrugType
	default:
		return ""
	}
}

// FeatureVector lays out a sample in FeatureNames order, taking categorical
// slots from codes.
func FeatureVector(sample RawSample, codes map[string]int) []float64 {
	return []float64{
		float64(sample.Age),
		float64(codes[ColumnGender]),
		float64(codes[ColumnDrugType]),
		float64(sample.AddictionSeverity),
		sample.DailyUsage,
		float64(sample.YearsUsing),
		sample.MentalHealthScore,
		float64(sample.RecoveryProgram),
	}
}
