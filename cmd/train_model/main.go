package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"diapredict/dataset"
	"diapredict/db"
	"diapredict/logger"
	"diapredict/ml"
	"diapredict/pipeline"
)

const maxLoggedIssues = 10

type options struct {
	dataPath     string
	charset      string
	modelType    string
	outPath      string
	codec        string
	maxDepth     int
	testRatio    float64
	seed         int64
	epochs       int
	learningRate float64
	l2           float64
	dbPath       string
}

func main() {
	var opts options
	flag.StringVar(&opts.dataPath, "data", "", "training CSV with the 8 feature columns and Outcome")
	flag.StringVar(&opts.charset, "charset", "utf-8", "CSV character set")
	flag.StringVar(&opts.modelType, "model_type", ml.KindLogisticRegression, "logistic_regression or decision_tree")
	flag.StringVar(&opts.outPath, "out", "./models/diabetes.model", "model output path")
	flag.StringVar(&opts.codec, "codec", ml.CodecMsgpack, "artifact codec: msgpack or json")
	flag.IntVar(&opts.maxDepth, "max_depth", 5, "max tree depth")
	flag.Float64Var(&opts.testRatio, "test_ratio", 0.2, "test ratio")
	flag.Int64Var(&opts.seed, "seed", 42, "shuffle seed")
	flag.IntVar(&opts.epochs, "epochs", 500, "gradient descent epochs")
	flag.Float64Var(&opts.learningRate, "lr", 0.1, "learning rate")
	flag.Float64Var(&opts.l2, "l2", 0, "L2 penalty")
	flag.StringVar(&opts.dbPath, "db", "", "record the run in this database")
	flag.Parse()

	log, err := logger.Init(logger.Config{Level: "info", Console: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if opts.dataPath == "" {
		log.Fatal("data is required")
	}

	metrics, err := run(opts, log)
	if err != nil {
		log.Fatal("training failed", zap.Error(err))
	}
	log.Info("model trained",
		zap.String("model_type", opts.modelType),
		zap.Float64("accuracy", metrics.Accuracy),
		zap.Float64("precision", metrics.Precision),
		zap.Float64("recall", metrics.Recall),
		zap.Int("test_samples", metrics.Samples),
	)
	fmt.Printf("model saved to %s\n", opts.outPath)
}

func run(opts options, log *zap.Logger) (ml.Metrics, error) {
	codec, err := ml.CodecByName(opts.codec)
	if err != nil {
		return ml.Metrics{}, err
	}
	model, err := newTrainer(opts)
	if err != nil {
		return ml.Metrics{}, err
	}

	features, labels, err := buildTrainingData(opts.dataPath, opts.charset, log)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("failed to build training data: %w", err)
	}

	trainX, trainY, testX, testY := ml.SplitDataset(features, labels, opts.testRatio, opts.seed)
	if err := model.Train(trainX, trainY); err != nil {
		return ml.Metrics{}, fmt.Errorf("failed to train model: %w", err)
	}

	metrics, err := ml.Evaluate(model, testX, testY)
	if err != nil {
		return ml.Metrics{}, fmt.Errorf("failed to evaluate model: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(opts.outPath), 0o755); err != nil {
		return ml.Metrics{}, fmt.Errorf("failed to create model dir: %w", err)
	}
	if err := ml.SaveArtifact(opts.outPath, codec, model); err != nil {
		return ml.Metrics{}, fmt.Errorf("failed to save model: %w", err)
	}

	if opts.dbPath != "" {
		if err := recordRun(opts, metrics, len(features)); err != nil {
			log.Warn("failed to record training run", zap.Error(err))
		}
	}
	return metrics, nil
}

func newTrainer(opts options) (ml.Trainer, error) {
	switch opts.modelType {
	case ml.KindLogisticRegression:
		return ml.NewLogisticRegression(opts.learningRate, opts.epochs, opts.l2), nil
	case ml.KindDecisionTree:
		return ml.NewDecisionTree(opts.maxDepth), nil
	default:
		return nil, fmt.Errorf("%w: %q", ml.ErrUnknownKind, opts.modelType)
	}
}

// buildTrainingData reads the CSV and runs it through the cleaning rules.
func buildTrainingData(path, charset string, log *zap.Logger) ([][]float64, []int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	table, err := dataset.Read(file, charset)
	if err != nil {
		return nil, nil, err
	}
	features, labels, err := table.Labelled(dataset.OutcomeColumn)
	if err != nil {
		return nil, nil, err
	}

	records, err := pipeline.Records(features, labels)
	if err != nil {
		return nil, nil, err
	}
	cleaner := pipeline.NewDataCleaner(log)
	cleaned, issues := cleaner.Clean(records)
	stats := cleaner.GetStats()
	log.Info("training data cleaned",
		zap.Int64("input", stats.TotalProcessed),
		zap.Int("kept", len(cleaned)),
		zap.Int("issues", len(issues)),
	)
	for _, issue := range cleaner.GetIssues(maxLoggedIssues) {
		log.Warn("training row rejected",
			zap.Int("row", issue.Row),
			zap.String("type", issue.Type),
			zap.String("message", issue.Message),
		)
	}
	if len(cleaned) == 0 {
		return nil, nil, fmt.Errorf("no usable rows in %s", path)
	}

	x, y := pipeline.Split(cleaned)
	return x, y, nil
}

func recordRun(opts options, metrics ml.Metrics, dataPoints int) error {
	if err := db.InitDB(opts.dbPath); err != nil {
		return err
	}
	defer db.Close()
	return db.SaveTrainingLog(db.TrainingLog{
		ModelName:  opts.modelType,
		Accuracy:   metrics.Accuracy,
		Precision:  metrics.Precision,
		Recall:     metrics.Recall,
		TrainedAt:  time.Now().UTC(),
		DataPoints: dataPoints,
	})
}
