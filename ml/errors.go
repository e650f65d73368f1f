package ml

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCategory  = errors.New("unknown category")
	ErrModelNotReady    = errors.New("model not ready")
	ErrArtifactsMissing = errors.New("artifacts missing")
	ErrDatasetMissing   = errors.New("dataset missing")
)

// UnknownCategoryError reports a categorical value that was never seen while
// fitting the encoders. It matches ErrUnknownCategory with errors.Is.
type UnknownCategoryError struct {
	Column string
	Value  string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category %q for column %s", e.Value, e.Column)
}

func (e *UnknownCategoryError) Is(target error) bool {
	return target == ErrUnknownCategory
}
