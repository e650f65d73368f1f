package ml

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type PredictorConfig struct {
	ClassifierTrees int
	RegressorTrees  int
	MaxDepth        int
	MinSamplesLeaf  int
	TestRatio       float64
	Seed            int64
	Workers         int
}

func DefaultPredictorConfig() PredictorConfig {
	return PredictorConfig{
		ClassifierTrees: DefaultClassifierTrees,
		RegressorTrees:  DefaultRegressorTrees,
		MinSamplesLeaf:  1,
		TestRatio:       0.2,
		Seed:            DefaultSeed,
	}
}

type PredictionResult struct {
	Class      RecoveryClass `json:"recovery_class"`
	Label      string        `json:"class"`
	Months     float64       `json:"months"`
	ProbShort  float64       `json:"prob_short"`
	ProbMedium float64       `json:"prob_medium"`
	ProbLong   float64       `json:"prob_long"`
}

type TrainingReport struct {
	Source       string              `json:"source"`
	Rows         int                 `json:"rows"`
	TrainRows    int                 `json:"train_rows"`
	TestRows     int                 `json:"test_rows"`
	ClassCounts  map[string]int      `json:"class_counts"`
	Vocabularies map[string][]string `json:"vocabularies"`
	Evaluation   Evaluation          `json:"evaluation"`
	Duration     time.Duration       `json:"duration"`
	TrainedAt    time.Time           `json:"trained_at"`
}

// DatasetSource supplies the labeled dataset when EnsureReady has to train.
type DatasetSource func(ctx context.Context) (*Dataset, error)

// DualPredictor owns the active artifact set. Predict runs under the read
// lock; installing a new set takes the write lock only for the swap.
type DualPredictor struct {
	cfg    PredictorConfig
	store  *ArtifactStore
	logger *zap.Logger
	hooks  []func(TrainingReport)
	failed []func(error)

	mu        sync.RWMutex
	artifacts *ArtifactSet

	init singleflight.Group
}

type Option func(*DualPredictor)

func WithLogger(logger *zap.Logger) Option {
	return func(p *DualPredictor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithTrainingHook registers fn to run after every successful Train.
func WithTrainingHook(fn func(TrainingReport)) Option {
	return func(p *DualPredictor) {
		if fn != nil {
			p.hooks = append(p.hooks, fn)
		}
	}
}

// WithTrainingFailureHook registers fn to run when a training run fails,
// including a first-use run whose dataset could not be read.
func WithTrainingFailureHook(fn func(error)) Option {
	return func(p *DualPredictor) {
		if fn != nil {
			p.failed = append(p.failed, fn)
		}
	}
}

func NewDualPredictor(cfg PredictorConfig, store *ArtifactStore, opts ...Option) *DualPredictor {
	if cfg.ClassifierTrees <= 0 {
		cfg.ClassifierTrees = DefaultClassifierTrees
	}
	if cfg.RegressorTrees <= 0 {
		cfg.RegressorTrees = DefaultRegressorTrees
	}
	p := &DualPredictor{
		cfg:    cfg,
		store:  store,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *DualPredictor) Ready() bool {
	return p.Artifacts() != nil
}

func (p *DualPredictor) Artifacts() *ArtifactSet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.artifacts
}

func (p *DualPredictor) swap(set *ArtifactSet) {
	p.mu.Lock()
	p.artifacts = set
	p.mu.Unlock()
}

// Train fits a new artifact set on dataset, persists it when a store is
// configured and only then makes it the active set.
func (p *DualPredictor) Train(ctx context.Context, dataset *Dataset) (*TrainingReport, error) {
	report, err := p.train(ctx, dataset)
	if err != nil {
		p.trainingFailed(err)
		return nil, err
	}
	for _, hook := range p.hooks {
		hook(*report)
	}
	return report, nil
}

func (p *DualPredictor) trainingFailed(err error) {
	for _, hook := range p.failed {
		hook(err)
	}
}

func (p *DualPredictor) train(ctx context.Context, dataset *Dataset) (*TrainingReport, error) {
	if dataset == nil || len(dataset.Rows) == 0 {
		return nil, errors.New("dataset is empty")
	}
	start := time.Now()
	rows := dataset.Rows

	labels, err := GenerateLabels(rows)
	if err != nil {
		return nil, err
	}
	targets := RecoveryTargets(rows)

	preprocessor := &DataPreprocessor{}
	features, err := preprocessor.Fit(rows)
	if err != nil {
		return nil, fmt.Errorf("fit preprocessor: %w", err)
	}

	trainIdx, testIdx := TrainTestSplit(len(rows), p.cfg.TestRatio, p.cfg.Seed)
	trainX := selectRows(features, trainIdx)
	testX := selectRows(features, testIdx)

	classifier := NewRandomForestClassifier(ForestConfig{
		NEstimators:    p.cfg.ClassifierTrees,
		MaxDepth:       p.cfg.MaxDepth,
		MinSamplesLeaf: p.cfg.MinSamplesLeaf,
		Seed:           p.cfg.Seed,
		Workers:        p.cfg.Workers,
	})
	if err := classifier.Fit(trainX, selectRows(labels, trainIdx)); err != nil {
		return nil, fmt.Errorf("fit classifier: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	regressor := NewRandomForestRegressor(ForestConfig{
		NEstimators:    p.cfg.RegressorTrees,
		MaxDepth:       p.cfg.MaxDepth,
		MinSamplesLeaf: p.cfg.MinSamplesLeaf,
		Seed:           p.cfg.Seed,
		Workers:        p.cfg.Workers,
	})
	if err := regressor.Fit(trainX, selectRows(targets, trainIdx)); err != nil {
		return nil, fmt.Errorf("fit regressor: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set := &ArtifactSet{
		Preprocessor: preprocessor,
		Classifier:   classifier,
		Regressor:    regressor,
		TrainedAt:    time.Now().UTC(),
	}
	if p.store != nil {
		if err := p.store.Save(set); err != nil {
			return nil, fmt.Errorf("save artifacts: %w", err)
		}
	}
	p.swap(set)

	mae, rmse, r2 := evaluateRegressor(regressor, testX, selectRows(targets, testIdx))
	report := TrainingReport{
		Source:       dataset.Source,
		Rows:         len(rows),
		TrainRows:    len(trainIdx),
		TestRows:     len(testIdx),
		ClassCounts:  classCounts(labels),
		Vocabularies: preprocessor.Vocabularies(),
		Evaluation: Evaluation{
			Accuracy:  evaluateClassifier(classifier, testX, selectRows(labels, testIdx)),
			MAE:       mae,
			RMSE:      rmse,
			R2:        r2,
			TestCount: len(testIdx),
		},
		Duration:  time.Since(start),
		TrainedAt: set.TrainedAt,
	}

	p.logger.Info("models trained",
		zap.String("source", report.Source),
		zap.Int("rows", report.Rows),
		zap.Float64("accuracy", report.Evaluation.Accuracy),
		zap.Float64("mae", report.Evaluation.MAE),
		zap.Float64("r2", report.Evaluation.R2),
		zap.Duration("duration", report.Duration),
	)
	return &report, nil
}

func (p *DualPredictor) Predict(sample RawSample) (*PredictionResult, error) {
	set := p.Artifacts()
	if set == nil {
		return nil, ErrModelNotReady
	}

	features, err := set.Preprocessor.Transform(sample)
	if err != nil {
		return nil, err
	}
	code, proba, err := set.Classifier.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	months, err := set.Regressor.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("regress: %w", err)
	}

	var byClass [numRecoveryClasses]float64
	for i, class := range set.Classifier.Classes {
		if class < 0 || class >= numRecoveryClasses {
			return nil, fmt.Errorf("classifier produced unexpected class %d", class)
		}
		byClass[class] = proba[i]
	}

	class := RecoveryClass(code)
	return &PredictionResult{
		Class:      class,
		Label:      class.Label(),
		Months:     round2(months),
		ProbShort:  round2(byClass[RecoveryShort] * 100),
		ProbMedium: round2(byClass[RecoveryMedium] * 100),
		ProbLong:   round2(byClass[RecoveryLong] * 100),
	}, nil
}

// Load installs the persisted artifact set. It reports false, without an
// error, when nothing has been saved yet.
func (p *DualPredictor) Load() (bool, error) {
	if p.store == nil {
		return false, nil
	}
	set, err := p.store.Load()
	if err != nil {
		if errors.Is(err, ErrArtifactsMissing) {
			return false, nil
		}
		return false, err
	}
	p.swap(set)
	p.logger.Info("artifacts loaded", zap.String("dir", p.store.Dir()), zap.Time("trained_at", set.TrainedAt))
	return true, nil
}

func (p *DualPredictor) Save() error {
	set := p.Artifacts()
	if set == nil {
		return ErrModelNotReady
	}
	if p.store == nil {
		return errors.New("no artifact store configured")
	}
	return p.store.Save(set)
}

// EnsureReady loads persisted artifacts or, failing that, trains from
// source. Unreadable artifacts are retrained over when source is set.
// Concurrent callers share a single load-or-train run.
func (p *DualPredictor) EnsureReady(ctx context.Context, source DatasetSource) error {
	if p.Ready() {
		return nil
	}
	_, err, _ := p.init.Do("ensure-ready", func() (any, error) {
		if p.Ready() {
			return nil, nil
		}
		found, err := p.Load()
		switch {
		case err != nil && source == nil:
			return nil, err
		case err != nil:
			p.logger.Warn("saved artifacts unreadable, retraining from dataset", zap.Error(err))
		case found:
			return nil, nil
		case source == nil:
			return nil, ErrModelNotReady
		default:
			p.logger.Info("no saved artifacts, training from dataset")
		}
		dataset, err := source(ctx)
		if err != nil {
			p.trainingFailed(err)
			return nil, err
		}
		_, err = p.Train(ctx, dataset)
		return nil, err
	})
	return err
}

func classCounts(labels []int) map[string]int {
	counts := make(map[string]int, numRecoveryClasses)
	for _, label := range labels {
		counts[RecoveryClass(label).String()]++
	}
	return counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
