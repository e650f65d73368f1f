package ml

import "math"

type Evaluation struct {
	Accuracy  float64 `json:"accuracy"`
	MAE       float64 `json:"mae"`
	RMSE      float64 `json:"rmse"`
	R2        float64 `json:"r2"`
	TestCount int     `json:"test_count"`
}

func evaluateClassifier(model ClassificationModel, testX [][]float64, testY []int) float64 {
	if len(testX) == 0 {
		return 0
	}
	var correct int
	for i, feature := range testX {
		label, _, err := model.Predict(feature)
		if err != nil {
			continue
		}
		if label == testY[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(testX))
}

func evaluateRegressor(model RegressionModel, testX [][]float64, testY []float64) (mae, rmse, r2 float64) {
	if len(testX) == 0 {
		return 0, 0, 0
	}
	mean := 0.0
	for _, y := range testY {
		mean += y
	}
	mean /= float64(len(testY))

	var absSum, sqSum, totSum float64
	var n int
	for i, feature := range testX {
		pred, err := model.Predict(feature)
		if err != nil {
			continue
		}
		diff := pred - testY[i]
		absSum += math.Abs(diff)
		sqSum += diff * diff
		dev := testY[i] - mean
		totSum += dev * dev
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mae = absSum / float64(n)
	rmse = math.Sqrt(sqSum / float64(n))
	if totSum > 0 {
		r2 = 1 - sqSum/totSum
	}
	return mae, rmse, r2
}
