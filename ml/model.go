package ml

type ClassificationModel interface {
	Fit(features [][]float64, labels []int) error
	Predict(features []float64) (int, []float64, error)
	ClassLabels() []int
}

type RegressionModel interface {
	Fit(features [][]float64, targets []float64) error
	Predict(features []float64) (float64, error)
}

var (
	_ ClassificationModel = (*RandomForestClassifier)(nil)
	_ RegressionModel     = (*RandomForestRegressor)(nil)
)
