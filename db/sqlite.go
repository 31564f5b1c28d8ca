package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"diapredict/ml"
)

var database *sql.DB

var ErrNotInitialized = errors.New("database not initialized")

// InitDB opens the SQLite database and creates the schema
func InitDB(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return err
	}

	query := `
    CREATE TABLE IF NOT EXISTS predictions (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        session_id TEXT NOT NULL,
        source TEXT NOT NULL,
        row_index INTEGER NOT NULL,
        patient_name TEXT,
        pregnancies REAL,
        glucose REAL,
        blood_pressure REAL,
        skin_thickness REAL,
        insulin REAL,
        bmi REAL,
        dpf REAL,
        age REAL,
        predicted_label INTEGER NOT NULL,
        confidence REAL,
        model_checksum TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS models (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        checksum TEXT NOT NULL,
        kind TEXT NOT NULL,
        codec TEXT NOT NULL,
        n_features INTEGER,
        session_id TEXT,
        loaded_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    `

	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	database = conn
	return nil
}

func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

// PredictionRecord is one logged prediction. Features may be nil for batch
// rows whose width did not match the canonical schema.
type PredictionRecord struct {
	SessionID     string    `json:"session_id"`
	Source        string    `json:"source"`
	RowIndex      int       `json:"row_index"`
	PatientName   string    `json:"patient_name,omitempty"`
	Features      []float64 `json:"features,omitempty"`
	Label         int       `json:"label"`
	Confidence    *float64  `json:"confidence,omitempty"`
	ModelChecksum string    `json:"model_checksum"`
	CreatedAt     time.Time `json:"created_at"`
}

func SavePrediction(record PredictionRecord) error {
	return SavePredictions([]PredictionRecord{record})
}

func SavePredictions(records []PredictionRecord) error {
	if database == nil {
		return ErrNotInitialized
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := database.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
        INSERT INTO predictions (
            session_id, source, row_index, patient_name,
            pregnancies, glucose, blood_pressure, skin_thickness, insulin, bmi, dpf, age,
            predicted_label, confidence, model_checksum, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		features := make([]interface{}, ml.NumFeatures)
		if len(r.Features) == ml.NumFeatures {
			for i, v := range r.Features {
				features[i] = v
			}
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		var confidence interface{}
		if r.Confidence != nil {
			confidence = *r.Confidence
		}
		args := []interface{}{r.SessionID, r.Source, r.RowIndex, r.PatientName}
		args = append(args, features...)
		args = append(args, r.Label, confidence, r.ModelChecksum, createdAt)
		if _, err := stmt.Exec(args...); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// RecentPredictions returns the newest predictions first
func RecentPredictions(limit int) ([]PredictionRecord, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := database.Query(`
        SELECT session_id, source, row_index, COALESCE(patient_name, ''),
               pregnancies, glucose, blood_pressure, skin_thickness, insulin, bmi, dpf, age,
               predicted_label, confidence, COALESCE(model_checksum, ''), created_at
        FROM predictions
        ORDER BY created_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]PredictionRecord, 0)
	for rows.Next() {
		var r PredictionRecord
		features := make([]sql.NullFloat64, ml.NumFeatures)
		var confidence sql.NullFloat64
		dest := []interface{}{&r.SessionID, &r.Source, &r.RowIndex, &r.PatientName}
		for i := range features {
			dest = append(dest, &features[i])
		}
		dest = append(dest, &r.Label, &confidence, &r.ModelChecksum, &r.CreatedAt)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		if features[0].Valid {
			r.Features = make([]float64, ml.NumFeatures)
			for i, f := range features {
				r.Features[i] = f.Float64
			}
		}
		if confidence.Valid {
			c := confidence.Float64
			r.Confidence = &c
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type PredictionStats struct {
	Total       int `json:"total"`
	HighRisk    int `json:"high_risk"`
	HighRisk30d int `json:"high_risk_30d"`
}

func LoadPredictionStats() (PredictionStats, error) {
	var stats PredictionStats
	if database == nil {
		return stats, ErrNotInitialized
	}
	since := time.Now().UTC().AddDate(0, 0, -30)
	err := database.QueryRow(`
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN predicted_label = 1 THEN 1 ELSE 0 END), 0),
               COALESCE(SUM(CASE WHEN predicted_label = 1 AND created_at >= ? THEN 1 ELSE 0 END), 0)
        FROM predictions`, since).Scan(&stats.Total, &stats.HighRisk, &stats.HighRisk30d)
	return stats, err
}

type ModelRecord struct {
	Checksum  string    `json:"checksum"`
	Kind      string    `json:"kind"`
	Codec     string    `json:"codec"`
	NFeatures int       `json:"n_features"`
	SessionID string    `json:"session_id"`
	LoadedAt  time.Time `json:"loaded_at"`
}

func SaveModelRecord(record ModelRecord) error {
	if database == nil {
		return ErrNotInitialized
	}
	_, err := database.Exec(`
        INSERT INTO models (checksum, kind, codec, n_features, session_id, loaded_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		record.Checksum, record.Kind, record.Codec, record.NFeatures, record.SessionID, record.LoadedAt)
	return err
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

func SaveTrainingLog(log TrainingLog) error {
	if database == nil {
		return ErrNotInitialized
	}
	_, err := database.Exec(`
        INSERT INTO training_log (model_name, accuracy, precision, recall, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?)`,
		log.ModelName, log.Accuracy, log.Precision, log.Recall, log.TrainedAt, log.DataPoints)
	return err
}

func LoadTrainingLog() ([]TrainingLog, error) {
	if database == nil {
		return nil, ErrNotInitialized
	}
	rows, err := database.Query(`
        SELECT model_name, accuracy, precision, recall, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Accuracy, &log.Precision, &log.Recall, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
