package db

import (
	"time"

	"recoverycast/ml"
)

func sampleRecord(gender, drug string, class ml.RecoveryClass, created time.Time) *PredictionRecord {
	record := NewPredictionRecord(ml.RawSample{
		Age:               34,
		Gender:            gender,
		DrugType:          drug,
		AddictionSeverity: 6,
		DailyUsage:        2.5,
		YearsUsing:        8,
		MentalHealthScore: 5.5,
		RecoveryProgram:   3,
	}, &ml.PredictionResult{
		Class:      class,
		Label:      class.Label(),
		Months:     9.25,
		ProbShort:  10,
		ProbMedium: 70,
		ProbLong:   20,
	})
	record.CreatedAt = created
	return record
}
