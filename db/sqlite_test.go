package db

import (
	"path/filepath"
	"testing"
	"time"
)

func setupDB(t *testing.T) {
	t.Helper()
	if err := InitDB(filepath.Join(t.TempDir(), "test.db")); err != nil {
		t.Fatalf("init db: %v", err)
	}
	t.Cleanup(func() { Close() })
}

func TestSaveAndQueryPredictions(t *testing.T) {
	setupDB(t)

	conf := 0.82
	records := []PredictionRecord{
		{SessionID: "s1", Source: "single", RowIndex: 0, PatientName: "Ann", Features: []float64{1, 120, 70, 20, 80, 25.3, 0.5, 30}, Label: 1, Confidence: &conf, ModelChecksum: "abc"},
		{SessionID: "s1", Source: "batch", RowIndex: 0, Features: []float64{1, 2, 3}, Label: 0},
	}
	if err := SavePredictions(records); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := RecentPredictions(10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}

	var single, batch *PredictionRecord
	for i := range got {
		switch got[i].Source {
		case "single":
			single = &got[i]
		case "batch":
			batch = &got[i]
		}
	}
	if single == nil || batch == nil {
		t.Fatalf("missing records: %+v", got)
	}
	if single.Confidence == nil || *single.Confidence != conf {
		t.Fatalf("unexpected confidence: %v", single.Confidence)
	}
	if len(single.Features) != 8 || single.Features[1] != 120 {
		t.Fatalf("unexpected features: %v", single.Features)
	}
	if batch.Features != nil || batch.Confidence != nil {
		t.Fatalf("expected nil features and confidence, got %+v", batch)
	}

	stats, err := LoadPredictionStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.HighRisk != 1 || stats.HighRisk30d != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestSavePredictionsEmpty(t *testing.T) {
	setupDB(t)
	if err := SavePredictions(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTrainingLog(t *testing.T) {
	setupDB(t)

	entry := TrainingLog{ModelName: "logistic_regression", Accuracy: 0.78, Precision: 0.7, Recall: 0.6, TrainedAt: time.Now().UTC(), DataPoints: 768}
	if err := SaveTrainingLog(entry); err != nil {
		t.Fatalf("save: %v", err)
	}
	logs, err := LoadTrainingLog()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(logs) != 1 || logs[0].ModelName != "logistic_regression" || logs[0].DataPoints != 768 {
		t.Fatalf("unexpected logs: %+v", logs)
	}
}

func TestSaveModelRecord(t *testing.T) {
	setupDB(t)
	err := SaveModelRecord(ModelRecord{Checksum: "abc", Kind: "decision_tree", Codec: "json", NFeatures: 8, LoadedAt: time.Now().UTC()})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
}

func TestNotInitialized(t *testing.T) {
	Close()
	if err := SavePrediction(PredictionRecord{}); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := RecentPredictions(1); err != ErrNotInitialized {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
