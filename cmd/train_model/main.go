package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"recoverycast/app"
	"recoverycast/config"
	"recoverycast/db"
	"recoverycast/logging"
	"recoverycast/ml"
)

var opts struct {
	configPath  string
	datasetPath string
	artifactDir string
	encoding    string
	clean       bool
	recordLog   bool
}

var rootCmd = &cobra.Command{
	Use:          "train_model",
	Short:        "Train the recovery classifier and regressor and publish the artifacts",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the YAML config file")
	f.StringVar(&opts.datasetPath, "dataset", "", "training CSV (overrides ml.dataset_path)")
	f.StringVar(&opts.artifactDir, "artifacts", "", "artifact directory (overrides ml.artifact_dir)")
	f.StringVar(&opts.encoding, "encoding", "", "dataset charset, e.g. utf-8, gbk, latin1")
	f.BoolVar(&opts.clean, "clean", false, "drop rows rejected by the cleaning rules")
	f.BoolVar(&opts.recordLog, "record", true, "append the run to the training log in the configured database")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.datasetPath != "" {
		cfg.ML.DatasetPath = opts.datasetPath
	}
	if opts.artifactDir != "" {
		cfg.ML.ArtifactDir = opts.artifactDir
	}
	if opts.encoding != "" {
		cfg.ML.DatasetEncoding = opts.encoding
	}
	if cmd.Flags().Changed("clean") {
		cfg.ML.CleanDataset = opts.clean
	}

	logger, err := logging.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	dataset, err := app.LoadTrainingData(cfg.ML, logger)
	if err != nil {
		return err
	}

	var hooks []ml.Option
	if opts.recordLog {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		records, err := db.Open(ctx, app.StoreOptions(cfg.Database))
		cancel()
		if err != nil {
			logger.Warn("training log unavailable", zap.Error(err))
		} else {
			defer records.Close()
			hooks = append(hooks, ml.WithTrainingHook(app.TrainingRecorder(records, nil, logger)))
		}
	}

	predictor := ml.NewDualPredictor(app.PredictorConfig(cfg.ML), ml.NewArtifactStore(cfg.ML.ArtifactDir),
		append(hooks, ml.WithLogger(logger))...)
	report, err := predictor.Train(context.Background(), dataset)
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(),
		"trained on %d rows (%d test): accuracy=%.3f mae=%.2f rmse=%.2f r2=%.3f in %s\nartifacts saved to %s\n",
		report.Rows, report.TestRows,
		report.Evaluation.Accuracy, report.Evaluation.MAE, report.Evaluation.RMSE, report.Evaluation.R2,
		report.Duration.Round(time.Millisecond), cfg.ML.ArtifactDir,
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
