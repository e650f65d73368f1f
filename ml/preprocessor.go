package ml

import (
	"errors"
	"fmt"
)

// DataPreprocessor is the encoder/scaler pipeline. Once fitted it is only
// read, so one instance may serve concurrent Transform calls.
type DataPreprocessor struct {
	encoders map[string]*LabelEncoder
	scaler   *StandardScaler
}

func NewDataPreprocessor(encoders map[string]*LabelEncoder, scaler *StandardScaler) (*DataPreprocessor, error) {
	if scaler == nil || len(scaler.Mean) != len(FeatureNames()) {
		return nil, errors.New("scaler does not match feature layout")
	}
	for _, column := range CategoricalColumns() {
		if encoders[column] == nil {
			return nil, fmt.Errorf("missing encoder for %s", column)
		}
	}
	return &DataPreprocessor{encoders: encoders, scaler: scaler}, nil
}

// Fit learns the vocabularies and the scaler from rows, discarding any
// previous state, and returns the scaled training matrix.
func (p *DataPreprocessor) Fit(rows []DatasetRow) ([][]float64, error) {
	if len(rows) == 0 {
		return nil, errors.New("rows is empty")
	}

	encoders := make(map[string]*LabelEncoder, len(CategoricalColumns()))
	for _, column := range CategoricalColumns() {
		values := make([]string, len(rows))
		for i, row := range rows {
			values[i] = categoricalValue(row.Sample, column)
		}
		encoder := &LabelEncoder{}
		if err := encoder.Fit(values); err != nil {
			return nil, fmt.Errorf("fit %s encoder: %w", column, err)
		}
		encoders[column] = encoder
	}

	raw := make([][]float64, len(rows))
	for i, row := range rows {
		vector, err := encodeSample(encoders, row.Sample)
		if err != nil {
			return nil, err
		}
		raw[i] = vector
	}

	scaler := &StandardScaler{}
	if err := scaler.Fit(raw); err != nil {
		return nil, err
	}

	scaled := make([][]float64, len(raw))
	for i, vector := range raw {
		normalized, err := scaler.Transform(vector)
		if err != nil {
			return nil, err
		}
		scaled[i] = normalized
	}

	p.encoders = encoders
	p.scaler = scaler
	return scaled, nil
}

func (p *DataPreprocessor) Transform(sample RawSample) ([]float64, error) {
	if p.scaler == nil || p.encoders == nil {
		return nil, errors.New("preprocessor not fitted")
	}
	vector, err := encodeSample(p.encoders, sample)
	if err != nil {
		return nil, err
	}
	return p.scaler.Transform(vector)
}

func (p *DataPreprocessor) Scaler() *StandardScaler {
	return p.scaler
}

func (p *DataPreprocessor) Encoders() map[string]*LabelEncoder {
	return p.encoders
}

// Vocabularies returns each categorical column's classes in code order.
func (p *DataPreprocessor) Vocabularies() map[string][]string {
	if p.encoders == nil {
		return nil
	}
	vocab := make(map[string][]string, len(p.encoders))
	for key, encoder := range p.encoders {
		vocab[key] = encoder.Classes()
	}
	return vocab
}

func encodeSample(encoders map[string]*LabelEncoder, sample RawSample) ([]float64, error) {
	codes := make(map[string]int, len(encoders))
	for _, column := range CategoricalColumns() {
		value := categoricalValue(sample, column)
		code, ok := encoders[column].Transform(value)
		if !ok {
			return nil, &UnknownCategoryError{Column: column, Value: value}
		}
		codes[column] = code
	}
	return FeatureVector(sample, codes), nil
}
