package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jszwec/csvutil"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type RecoveryClass int

const (
	RecoveryShort RecoveryClass = iota
	RecoveryMedium
	RecoveryLong
)

const numRecoveryClasses = 3

func (c RecoveryClass) String() string {
	switch c {
	case RecoveryShort:
		return "short"
	case RecoveryMedium:
		return "medium"
	case RecoveryLong:
		return "long"
	default:
		return fmt.Sprintf("RecoveryClass(%d)", int(c))
	}
}

// Label is the human-readable bucket shown to clinicians.
func (c RecoveryClass) Label() string {
	switch c {
	case RecoveryShort:
		return "Short (0–6 months)"
	case RecoveryMedium:
		return "Medium (6–12 months)"
	case RecoveryLong:
		return "Long (12+ months)"
	default:
		return ""
	}
}

// BucketRecoveryClass buckets a recovery duration; boundaries belong to the
// lower bucket.
func BucketRecoveryClass(months float64) RecoveryClass {
	switch {
	case months <= 6:
		return RecoveryShort
	case months <= 12:
		return RecoveryMedium
	default:
		return RecoveryLong
	}
}

type DatasetRow struct {
	Sample         RawSample
	RecoveryMonths float64
}

type Dataset struct {
	Source string
	Rows   []DatasetRow
}

func GenerateLabels(rows []DatasetRow) ([]int, error) {
	if len(rows) == 0 {
		return nil, errors.New("rows is empty")
	}
	labels := make([]int, len(rows))
	for i, row := range rows {
		labels[i] = int(BucketRecoveryClass(row.RecoveryMonths))
	}
	return labels, nil
}

func RecoveryTargets(rows []DatasetRow) []float64 {
	targets := make([]float64, len(rows))
	for i, row := range rows {
		targets[i] = row.RecoveryMonths
	}
	return targets
}

type datasetRecord struct {
	Age               int     `csv:"Age"`
	Gender            string  `csv:"Gender"`
	DrugType          string  `csv:"Drug_Type"`
	AddictionSeverity int     `csv:"Addiction_Severity"`
	DailyUsage        float64 `csv:"Daily_Usage"`
	YearsUsing        int     `csv:"Years_Using"`
	MentalHealthScore float64 `csv:"Mental_Health_Score"`
	RecoveryProgram   int     `csv:"Recovery_Program"`
	RecoveryMonths    float64 `csv:"Recovery_Time_Months"`
}

// LoadDataset reads a training CSV. A missing file yields ErrDatasetMissing.
// charset names follow the WHATWG encoding labels ("utf-8", "gbk", "latin1").
func LoadDataset(path, charset string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDatasetMissing, path)
		}
		return nil, err
	}
	defer file.Close()

	reader, err := decodeCharset(file, charset)
	if err != nil {
		return nil, err
	}
	dataset, err := ReadDataset(reader)
	if err != nil {
		return nil, fmt.Errorf("read dataset %s: %w", path, err)
	}
	dataset.Source = path
	return dataset, nil
}

// ReadDataset decodes CSV rows by header name; column order in the file is
// free but every feature column and the target must be present.
func ReadDataset(r io.Reader) (*Dataset, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true

	dec, err := csvutil.NewDecoder(csvReader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("dataset is empty")
		}
		return nil, err
	}
	dec.DisallowMissingColumns = true

	rows := make([]DatasetRow, 0)
	for {
		var record datasetRecord
		if err := dec.Decode(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("line %d: %w", len(rows)+2, err)
		}
		rows = append(rows, DatasetRow{
			Sample: RawSample{
				Age:               record.Age,
				Gender:            record.Gender,
				DrugType:          record.DrugType,
				AddictionSeverity: record.AddictionSeverity,
				DailyUsage:        record.DailyUsage,
				YearsUsing:        record.YearsUsing,
				MentalHealthScore: record.MentalHealthScore,
				RecoveryProgram:   record.RecoveryProgram,
			},
			RecoveryMonths: record.RecoveryMonths,
		})
	}
	if len(rows) == 0 {
		return nil, errors.New("dataset has no rows")
	}
	return &Dataset{Rows: rows}, nil
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	name := strings.TrimSpace(charset)
	if name == "" {
		name = "utf-8"
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unsupported dataset encoding %q: %w", charset, err)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}
