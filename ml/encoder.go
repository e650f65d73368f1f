package ml

import (
	"errors"

	"github.com/goccy/go-json"
)

// LabelEncoder maps raw category strings to dense integer codes. Codes are
// assigned in the order values are first seen during Fit.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

func (e *LabelEncoder) Fit(values []string) error {
	if len(values) == 0 {
		return errors.New("values is empty")
	}
	classes := make([]string, 0)
	index := make(map[string]int)
	for _, value := range values {
		if _, ok := index[value]; ok {
			continue
		}
		index[value] = len(classes)
		classes = append(classes, value)
	}
	e.classes = classes
	e.index = index
	return nil
}

func (e *LabelEncoder) Transform(value string) (int, bool) {
	code, ok := e.index[value]
	return code, ok
}

func (e *LabelEncoder) Inverse(code int) (string, bool) {
	if code < 0 || code >= len(e.classes) {
		return "", false
	}
	return e.classes[code], true
}

func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}

func (e *LabelEncoder) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Classes []string `json:"classes"`
	}{Classes: e.classes})
}

func (e *LabelEncoder) UnmarshalJSON(data []byte) error {
	var payload struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return err
	}
	index := make(map[string]int, len(payload.Classes))
	for i, value := range payload.Classes {
		if _, dup := index[value]; dup {
			return errors.New("duplicate class in encoder")
		}
		index[value] = i
	}
	e.classes = payload.Classes
	e.index = index
	return nil
}
