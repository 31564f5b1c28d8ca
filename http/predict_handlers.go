package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"diapredict/dataset"
	"diapredict/db"
	"diapredict/ml"
	"diapredict/monitoring"
)

const (
	modeSingle = "single"
	modeBatch  = "batch"

	batchFilename = "prediction_results.csv"
	historyLimit  = 50
	maxHistory    = 500
)

// predictRequest 单条预测请求
type predictRequest struct {
	ml.FeatureVector
	PatientName string `json:"patient_name,omitempty"`
}

// predictResponse 单条预测结果
type predictResponse struct {
	PatientName string   `json:"patient_name,omitempty"`
	Label       int      `json:"label"`
	RiskLabel   string   `json:"risk_label"`
	RiskLevel   string   `json:"risk_level"`
	Confidence  *float64 `json:"confidence,omitempty"`
	ModelSource string   `json:"model_source"`
}

func newPredictResponse(name string, res ml.PredictionResult, source string) predictResponse {
	return predictResponse{
		PatientName: name,
		Label:       res.Label,
		RiskLabel:   res.RiskLabel(),
		RiskLevel:   res.RiskLevel(),
		Confidence:  res.Confidence,
		ModelSource: source,
	}
}

// handlePredict 单条预测
func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		if isTooLarge(err) {
			s.respondPredictionError(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid input", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid input", err.Error())
		return
	}

	handle, id, source := s.activeModel(r)
	if handle == nil {
		respondError(w, http.StatusNotFound, msgNoModel, "upload a model first")
		return
	}

	start := time.Now()
	res, err := ml.Predict(handle.Model, req.FeatureVector)
	if err != nil {
		s.observePredictionError(modeSingle)
		s.logger.Warn("prediction failed", zap.String("session", id), zap.Error(err))
		s.respondPredictionError(w, r, err)
		return
	}
	s.observePrediction(modeSingle, []int{res.Label}, time.Since(start))

	record := db.PredictionRecord{
		SessionID:     id,
		Source:        modeSingle,
		RowIndex:      0,
		PatientName:   req.PatientName,
		Features:      req.Values(),
		Label:         res.Label,
		Confidence:    res.Confidence,
		ModelChecksum: handle.Checksum,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.SavePrediction(record); err != nil {
		s.logger.Warn("failed to save prediction", zap.Error(err))
	}

	resp := newPredictResponse(req.PatientName, res, source)
	s.publish(monitoring.PredictionEvent, resp)
	respondJSON(w, http.StatusOK, resp)
}

// batchRow JSON 格式的批量结果行
type batchRow struct {
	Row        int      `json:"row"`
	Label      int      `json:"label"`
	RiskLabel  string   `json:"risk_label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// batchSummary 批量预测汇总
type batchSummary struct {
	Rows        int        `json:"rows"`
	HighRisk    int        `json:"high_risk"`
	ModelSource string     `json:"model_source"`
	Predictions []batchRow `json:"predictions,omitempty"`
}

// handlePredictBatch 批量预测，保持行顺序
func (s *Server) handlePredictBatch(w http.ResponseWriter, r *http.Request) {
	handle, id, source := s.activeModel(r)
	if handle == nil {
		respondError(w, http.StatusNotFound, msgNoModel, "upload a model first")
		return
	}

	body, declaredCharset, err := uploadReader(r, batchFormField)
	if err != nil {
		if isTooLarge(err) {
			s.respondPredictionError(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}
	defer body.Close()

	charset := r.URL.Query().Get("charset")
	if charset == "" {
		charset = declaredCharset
	}
	table, err := dataset.Read(body, charset)
	if err != nil {
		if isTooLarge(err) {
			s.respondPredictionError(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid table", err.Error())
		return
	}
	if s.config.MaxBatchRows > 0 && table.Len() > s.config.MaxBatchRows {
		respondError(w, http.StatusRequestEntityTooLarge, "too many rows",
			fmt.Sprintf("%d rows exceeds the limit of %d", table.Len(), s.config.MaxBatchRows))
		return
	}
	if s.config.StrictColumns {
		if err := table.CheckHeader(ml.FeatureNames()); err != nil {
			s.respondPredictionError(w, r, err)
			return
		}
	}

	rows, err := table.Float64Rows()
	if err != nil {
		s.observePredictionError(modeBatch)
		s.respondPredictionError(w, r, err)
		return
	}

	start := time.Now()
	results, err := ml.PredictBatch(handle.Model, rows)
	if err != nil {
		s.observePredictionError(modeBatch)
		s.logger.Warn("batch prediction failed", zap.String("session", id), zap.Int("rows", len(rows)), zap.Error(err))
		s.respondPredictionError(w, r, err)
		return
	}

	labels := make([]int, len(results))
	summary := batchSummary{Rows: len(results), ModelSource: source}
	for i, res := range results {
		labels[i] = res.Label
		if res.HighRisk() {
			summary.HighRisk++
		}
	}
	s.observePrediction(modeBatch, labels, time.Since(start))
	s.saveBatch(id, handle, rows, results)
	s.publish(monitoring.BatchEvent, summary)

	if r.URL.Query().Get("format") == "json" {
		summary.Predictions = make([]batchRow, len(results))
		for i, res := range results {
			summary.Predictions[i] = batchRow{Row: i, Label: res.Label, RiskLabel: res.RiskLabel(), Confidence: res.Confidence}
		}
		respondJSON(w, http.StatusOK, summary)
		return
	}

	if err := table.AppendPredictions(results); err != nil {
		s.respondPredictionError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := table.Write(&buf); err != nil {
		s.respondPredictionError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", batchFilename))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) saveBatch(id string, handle *ml.Handle, rows [][]float64, results []ml.PredictionResult) {
	now := time.Now().UTC()
	records := make([]db.PredictionRecord, len(results))
	for i, res := range results {
		record := db.PredictionRecord{
			SessionID:     id,
			Source:        modeBatch,
			RowIndex:      i,
			Label:         res.Label,
			Confidence:    res.Confidence,
			ModelChecksum: handle.Checksum,
			CreatedAt:     now,
		}
		if len(rows[i]) == ml.NumFeatures {
			record.Features = rows[i]
		}
		records[i] = record
	}
	if err := db.SavePredictions(records); err != nil {
		s.logger.Warn("failed to save batch predictions", zap.Int("rows", len(records)), zap.Error(err))
	}
}

// statsResponse 首页统计
type statsResponse struct {
	Accuracy    *float64 `json:"accuracy"`
	Total       int      `json:"total"`
	HighRisk    int      `json:"high_risk"`
	HighRisk30d int      `json:"high_risk_30d"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := db.LoadPredictionStats()
	if err != nil {
		s.respondPredictionError(w, r, fmt.Errorf("load stats: %w", err))
		return
	}
	resp := statsResponse{Total: stats.Total, HighRisk: stats.HighRisk, HighRisk30d: stats.HighRisk30d}

	// 准确率取最近一次训练记录
	if logs, err := db.LoadTrainingLog(); err == nil && len(logs) > 0 {
		accuracy := logs[0].Accuracy
		resp.Accuracy = &accuracy
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := historyLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > maxHistory {
		limit = maxHistory
	}

	records, err := db.RecentPredictions(limit)
	if err != nil {
		s.respondPredictionError(w, r, fmt.Errorf("load history: %w", err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(records),
		"predictions": records,
	})
}

func (s *Server) observePrediction(mode string, labels []int, elapsed time.Duration) {
	if s.metrics != nil {
		s.metrics.ObservePrediction(mode, labels, elapsed)
	}
}

func (s *Server) observePredictionError(mode string) {
	if s.metrics != nil {
		s.metrics.ObservePredictionError(mode)
	}
}
