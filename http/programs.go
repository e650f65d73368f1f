package http

type Program struct {
	Code        int    `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Programs is the catalog behind the recovery_program feature codes.
var Programs = []Program{
	{0, "No Program", "Not enrolled in any recovery program"},
	{1, "Outpatient Program", "Regular counseling and therapy sessions"},
	{2, "Intensive Outpatient", "Multiple sessions per week"},
	{3, "Partial Hospitalization", "Day treatment program"},
	{4, "Residential/Inpatient", "24/7 supervised care facility"},
	{5, "12-Step Program", "AA/NA meetings and peer support"},
	{6, "Medication-Assisted Treatment", "MAT with counseling"},
	{7, "Holistic/Alternative", "Yoga, meditation, acupuncture"},
}
