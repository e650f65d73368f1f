package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"recoverycast/ml"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// Report fields by their JSON names.
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	Age               int     `json:"age" validate:"min=18,max=100"`
	Gender            string  `json:"gender" validate:"required,oneof=Male Female"`
	DrugType          string  `json:"drug_type" validate:"required,oneof=Alcohol Cocaine Heroin Marijuana Methamphetamine 'Prescription Opioids'"`
	AddictionSeverity int     `json:"addiction_severity" validate:"min=1,max=10"`
	DailyUsage        float64 `json:"daily_usage" validate:"min=0"`
	YearsUsing        int     `json:"years_using" validate:"min=0,max=50"`
	MentalHealthScore float64 `json:"mental_health_score" validate:"min=0,max=10"`
	RecoveryProgram   int     `json:"recovery_program" validate:"min=0,max=7"`
}

func (r PredictRequest) Sample() ml.RawSample {
	return ml.RawSample{
		Age:               r.Age,
		Gender:            r.Gender,
		DrugType:          r.DrugType,
		AddictionSeverity: r.AddictionSeverity,
		DailyUsage:        r.DailyUsage,
		YearsUsing:        r.YearsUsing,
		MentalHealthScore: r.MentalHealthScore,
		RecoveryProgram:   r.RecoveryProgram,
	}
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		messages[i] = f.Message
	}
	return strings.Join(messages, "; ")
}

func validateStruct(v any) error {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: []FieldError{{Field: "unknown", Message: err.Error()}}}
	}
	out := &ValidationError{Fields: make([]FieldError, len(fieldErrs))}
	for i, fe := range fieldErrs {
		out.Fields[i] = FieldError{Field: fe.Field(), Message: translateError(fe)}
	}
	return out
}

func translateError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, "'", ""))
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
