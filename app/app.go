// Package app wires configuration, storage, the predictor and the HTTP
// server into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recoverycast/config"
	"recoverycast/db"
	qhttp "recoverycast/http"
	"recoverycast/ml"
	"recoverycast/monitoring"
	"recoverycast/pipeline"
)

const (
	shutdownTimeout   = 10 * time.Second
	trainingLogWrites = 5 * time.Second
)

type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	records   db.RecordStore
	predictor *ml.DualPredictor
	hub       *monitoring.Hub
	watcher   *ml.ArtifactWatcher
	server    *qhttp.Server
}

func PredictorConfig(cfg config.MLConfig) ml.PredictorConfig {
	return ml.PredictorConfig{
		ClassifierTrees: cfg.ClassifierTrees,
		RegressorTrees:  cfg.RegressorTrees,
		MaxDepth:        cfg.MaxDepth,
		MinSamplesLeaf:  cfg.MinSamplesLeaf,
		TestRatio:       cfg.TestRatio,
		Seed:            cfg.Seed,
		Workers:         cfg.Workers,
	}
}

func StoreOptions(cfg config.DatabaseConfig) db.Options {
	return db.Options{
		Driver:    cfg.Driver,
		Path:      cfg.Path,
		URL:       cfg.URL,
		CacheSize: cfg.CacheSize,
	}
}

// LoadTrainingData reads the configured dataset and, when enabled, drops
// rows the cleaning rules reject.
func LoadTrainingData(cfg config.MLConfig, logger *zap.Logger) (*ml.Dataset, error) {
	dataset, err := ml.LoadDataset(cfg.DatasetPath, cfg.DatasetEncoding)
	if err != nil {
		return nil, err
	}
	if !cfg.CleanDataset {
		return dataset, nil
	}
	cleaned, issues := pipeline.NewDataCleaner(logger).Clean(dataset)
	for _, issue := range issues {
		logger.Debug("dataset row rejected",
			zap.Int("line", issue.Line),
			zap.String("rule", issue.Rule),
			zap.String("reason", issue.Message),
		)
	}
	if len(cleaned.Rows) == 0 {
		return nil, fmt.Errorf("dataset %s: no rows left after cleaning", cfg.DatasetPath)
	}
	return cleaned, nil
}

// TrainingRecorder returns the hook that records every completed training
// run in the training log, the metrics and the live feed.
func TrainingRecorder(records db.RecordStore, events qhttp.EventPublisher, logger *zap.Logger) func(ml.TrainingReport) {
	return func(report ml.TrainingReport) {
		monitoring.RecordTraining(report)
		if records != nil {
			ctx, cancel := context.WithTimeout(context.Background(), trainingLogWrites)
			defer cancel()
			if err := records.SaveTrainingLog(ctx, db.TrainingLogFromReport(report)); err != nil {
				logger.Error("save training log", zap.Error(err))
			}
		}
		if events != nil {
			if err := events.Publish(monitoring.TrainingEvent, report); err != nil {
				logger.Warn("publish training event", zap.Error(err))
			}
		}
	}
}

// TrainingFailureRecorder returns the hook that counts failed training runs.
func TrainingFailureRecorder(logger *zap.Logger) func(error) {
	return func(err error) {
		monitoring.RecordTrainingFailure()
		logger.Warn("training run failed", zap.Error(err))
	}
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	records, err := db.Open(ctx, StoreOptions(cfg.Database))
	if err != nil {
		return nil, eris.Wrap(err, "app: open record store")
	}
	logger.Info("record store ready", zap.String("driver", cfg.Database.Driver))

	hub := monitoring.NewHub(logger.Named("ws"), cfg.HTTP.AllowedOrigins)
	store := ml.NewArtifactStore(cfg.ML.ArtifactDir)
	predictor := ml.NewDualPredictor(PredictorConfig(cfg.ML), store,
		ml.WithLogger(logger.Named("ml")),
		ml.WithTrainingHook(TrainingRecorder(records, hub, logger)),
		ml.WithTrainingFailureHook(TrainingFailureRecorder(logger)),
	)

	found, err := predictor.Load()
	if err != nil {
		logger.Warn("saved artifacts unreadable, retraining on first prediction", zap.Error(err))
	}
	monitoring.SetModelReady(found)
	if !found {
		logger.Info("no usable artifacts yet, training on first prediction", zap.String("dir", store.Dir()))
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		records:   records,
		predictor: predictor,
		hub:       hub,
	}
	if cfg.ML.WatchArtifacts {
		a.watcher = ml.NewArtifactWatcher(predictor, store, logger.Named("watcher"))
		a.watcher.OnReload(monitoring.RecordArtifactReload)
	}

	source := func(context.Context) (*ml.Dataset, error) {
		return LoadTrainingData(cfg.ML, logger)
	}
	api := qhttp.NewAPI(predictor, records, source,
		qhttp.WithEvents(hub),
		qhttp.WithAPILogger(logger.Named("api")),
	)
	a.server = qhttp.NewServer(qhttp.ServerConfig{
		Port:           cfg.HTTP.Port,
		Timeout:        cfg.HTTP.Timeout,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	}, api, http.HandlerFunc(hub.ServeWS), logger.Named("http"))
	return a, nil
}

func (a *App) Predictor() *ml.DualPredictor { return a.predictor }

func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves until ctx is cancelled, then shuts the server down.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	if a.watcher != nil {
		g.Go(func() error {
			if err := a.watcher.Run(ctx); err != nil {
				a.logger.Error("artifact watcher stopped", zap.Error(err))
			}
			return nil
		})
	}
	g.Go(func() error {
		return a.server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.server.Stop(shutdownCtx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Close() error {
	return a.records.Close()
}
