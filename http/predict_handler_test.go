package http

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"diapredict/db"
	"diapredict/ml"
)

const examplePatient = `{"pregnancies":1,"glucose":120,"blood_pressure":70,"skin_thickness":20,"insulin":80,"bmi":25.3,"diabetes_pedigree_function":0.5,"age":30}`

func predict(t *testing.T, s *Server, id, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if id != "" {
		req.Header.Set(sessionHeader, id)
	}
	return do(t, s, req)
}

func TestHandlePredict(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	rr := predict(t, s, id, examplePatient)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Label != ml.LabelNegative || payload.RiskLevel != "LOW RISK" {
		t.Fatalf("unexpected prediction: %+v", payload)
	}
	if payload.Confidence == nil || *payload.Confidence < 0 || *payload.Confidence > 1 {
		t.Fatalf("expected confidence in [0,1], got %v", payload.Confidence)
	}

	high := strings.Replace(examplePatient, `"glucose":120`, `"glucose":190`, 1)
	high = strings.Replace(high, `{`, `{"patient_name":"A. Patient",`, 1)
	rr = predict(t, s, id, high)
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Label != ml.LabelPositive || payload.RiskLabel != "Diabetic" || payload.PatientName != "A. Patient" {
		t.Fatalf("unexpected prediction: %+v", payload)
	}
}

func TestHandlePredictTreeConfidence(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	tree := ml.NewDecisionTree(2)
	features := [][]float64{
		{1, 100, 70, 20, 80, 25, 0.5, 30},
		{1, 180, 70, 20, 80, 25, 0.5, 30},
		{2, 110, 70, 20, 80, 25, 0.5, 40},
		{2, 190, 70, 20, 80, 25, 0.5, 40},
	}
	if err := tree.Train(features, []int{0, 1, 0, 1}); err != nil {
		t.Fatalf("train: %v", err)
	}
	id := uploadModel(t, s, modelBlob(t, ml.JSONCodec, tree))

	rr := predict(t, s, id, examplePatient)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var payload predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Confidence == nil || *payload.Confidence != 0 {
		t.Fatalf("expected confidence 0 from a pure negative leaf, got %v", payload.Confidence)
	}
}

func TestHandlePredictWithoutConfidence(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	// 旧格式的树没有叶子计数
	legacy := `[{"feature_idx":1,"threshold":140,"left_child":1,"right_child":2},` +
		`{"feature_idx":-1,"left_child":-1,"right_child":-1,"class_label":0,"is_leaf":true},` +
		`{"feature_idx":-1,"left_child":-1,"right_child":-1,"class_label":1,"is_leaf":true}]`
	id := uploadModel(t, s, []byte(legacy))

	rr := predict(t, s, id, examplePatient)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if strings.Contains(rr.Body.String(), "confidence") {
		t.Errorf("trees without class counts must not report confidence: %s", rr.Body.String())
	}
}

func TestUploadTreeWithBadFeatureIndex(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	blob := `{"version":1,"kind":"decision_tree","decision_tree":{"nodes":[{"feature_idx":4000000000000,"left_child":1,"right_child":1},{"is_leaf":true}]}}`

	rr := do(t, s, httptest.NewRequest(http.MethodPost, "/api/model", strings.NewReader(blob)))
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}

	rr = do(t, s, httptest.NewRequest(http.MethodGet, "/api/insights", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "placeholder") {
		t.Fatalf("expected placeholder insights, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestHandlePredictErrors(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())

	rr := predict(t, s, "", examplePatient)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a model, got %d", rr.Code)
	}

	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))
	cases := map[string]string{
		"malformed":      `{"glucose":`,
		"negative":       strings.Replace(examplePatient, `"insulin":80`, `"insulin":-1`, 1),
		"fractional int": strings.Replace(examplePatient, `"pregnancies":1`, `"pregnancies":1.5`, 1),
		"age zero":       strings.Replace(examplePatient, `"age":30`, `"age":0`, 1),
		"unknown field":  strings.Replace(examplePatient, `{`, `{"weight":80,`, 1),
	}
	for name, body := range cases {
		if rr := predict(t, s, id, body); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rr.Code)
		}
	}
}

func TestHandlePredictArityMismatch(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	narrow := &ml.LogisticRegression{Weights: []float64{0.1, 0.1}, Bias: -1}
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, narrow))

	rr := predict(t, s, id, examplePatient)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	var payload errorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.Error != msgPredictionFailed {
		t.Errorf("unexpected error message: %q", payload.Error)
	}

	// 服务仍然可用
	if rr := do(t, s, httptest.NewRequest(http.MethodGet, "/api/health", nil)); rr.Code != http.StatusOK {
		t.Fatalf("server unhealthy after failed prediction: %d", rr.Code)
	}
}

func TestDefaultModelFallback(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	handle, err := ml.Load(modelBlob(t, ml.MsgpackCodec, glucoseModel()))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	s.SetDefaultModel(handle)

	sess := s.sessions.Create()
	rr := predict(t, s, sess.ID, examplePatient)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var payload predictResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if payload.ModelSource != modelSourceDefault {
		t.Errorf("expected default model, got %q", payload.ModelSource)
	}
}

const batchCSV = "Pregnancies,Glucose,BloodPressure,SkinThickness,Insulin,BMI,DiabetesPedigreeFunction,Age\n" +
	"1,120,70,20,80,25.3,0.5,30\n" +
	"2,190,80,30,100,35.1,0.8,50\n" +
	"0,90,60,10,0,22.0,0.2,25\n"

func TestHandlePredictBatchCSV(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader(batchCSV))
	req.Header.Set("Content-Type", "text/csv")
	req.Header.Set(sessionHeader, id)
	rr := do(t, s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), batchFilename) {
		t.Errorf("unexpected disposition: %q", rr.Header().Get("Content-Disposition"))
	}

	records, err := csv.NewReader(rr.Body).ReadAll()
	if err != nil {
		t.Fatalf("invalid csv: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(records))
	}
	header := records[0]
	if header[8] != "Prediction" || header[9] != "Confidence" {
		t.Fatalf("unexpected header: %v", header)
	}
	want := []string{"Non-Diabetic", "Diabetic", "Non-Diabetic"}
	for i, label := range want {
		if records[i+1][8] != label {
			t.Errorf("row %d: expected %s, got %s", i, label, records[i+1][8])
		}
		if records[i+1][1] != strings.Split(strings.Split(batchCSV, "\n")[i+1], ",")[1] {
			t.Errorf("row %d: input columns reordered", i)
		}
	}
}

func TestHandlePredictBatchMultipartJSON(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(batchFormField, "patients.csv")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(batchCSV))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch?format=json", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(sessionHeader, id)
	rr := do(t, s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var summary batchSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if summary.Rows != 3 || summary.HighRisk != 1 || len(summary.Predictions) != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for i, row := range summary.Predictions {
		if row.Row != i {
			t.Errorf("row order not preserved: %+v", summary.Predictions)
		}
	}
}

func TestHandlePredictBatchEmpty(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	header := strings.Split(batchCSV, "\n")[0] + "\n"
	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch?format=json", strings.NewReader(header))
	req.Header.Set(sessionHeader, id)
	rr := do(t, s, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var summary batchSummary
	if err := json.Unmarshal(rr.Body.Bytes(), &summary); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if summary.Rows != 0 {
		t.Fatalf("expected empty result, got %+v", summary)
	}
}

func TestHandlePredictBatchErrors(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxBatchRows = 2
	s := newTestServer(t, cfg)
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	post := func(body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader(body))
		req.Header.Set(sessionHeader, id)
		return do(t, s, req).Code
	}

	if code := post(batchCSV); code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 for too many rows, got %d", code)
	}
	if code := post("a,b\n1,x\n"); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for non-numeric cell, got %d", code)
	}
	if code := post("a,b\n1,2\n"); code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for wrong column count, got %d", code)
	}
}

func TestHandlePredictBatchStrictColumns(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.StrictColumns = true
	s := newTestServer(t, cfg)
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	swapped := strings.Replace(batchCSV, "Pregnancies,Glucose", "Glucose,Pregnancies", 1)
	req := httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader(swapped))
	req.Header.Set(sessionHeader, id)
	if rr := do(t, s, req); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for reordered columns, got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/predict/batch", strings.NewReader(batchCSV))
	req.Header.Set(sessionHeader, id)
	if rr := do(t, s, req); rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for canonical columns, got %d", rr.Code)
	}
}

func TestStatsAndHistory(t *testing.T) {
	s := newTestServer(t, DefaultServerConfig())
	id := uploadModel(t, s, modelBlob(t, ml.MsgpackCodec, glucoseModel()))

	before, err := db.LoadPredictionStats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}

	high := strings.Replace(examplePatient, `"glucose":120`, `"glucose":190`, 1)
	if rr := predict(t, s, id, high); rr.Code != http.StatusOK {
		t.Fatalf("predict failed: %d", rr.Code)
	}

	rr := do(t, s, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var stats statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if stats.Total != before.Total+1 || stats.HighRisk != before.HighRisk+1 || stats.HighRisk30d != before.HighRisk30d+1 {
		t.Fatalf("unexpected stats: before %+v after %+v", before, stats)
	}

	rr = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history?limit=1", nil))
	var history struct {
		Count       int                   `json:"count"`
		Predictions []db.PredictionRecord `json:"predictions"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &history); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if history.Count != 1 || history.Predictions[0].Label != ml.LabelPositive {
		t.Fatalf("unexpected history: %+v", history)
	}
}
