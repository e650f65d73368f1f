package ml

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
)

const (
	ModelTypeRandomForestClassifier = "random_forest_classifier"
	ModelTypeRandomForestRegressor  = "random_forest_regressor"
)

// LoadModel reads a persisted forest of the given type.
func LoadModel(modelType, path string) (any, error) {
	switch modelType {
	case ModelTypeRandomForestClassifier:
		model := &RandomForestClassifier{}
		if err := readJSONFile(path, model); err != nil {
			return nil, err
		}
		if err := model.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return model, nil
	case ModelTypeRandomForestRegressor:
		model := &RandomForestRegressor{}
		if err := readJSONFile(path, model); err != nil {
			return nil, err
		}
		if err := model.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return model, nil
	default:
		return nil, errors.New("unsupported model type")
	}
}

func readJSONFile(path string, v any) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func writeJSONFile(path string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := file.Write(payload); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
