package http

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"diapredict/db"
	"diapredict/ml"
	"diapredict/monitoring"
)

const (
	modelSourceSession = "session"
	modelSourceDefault = "default"

	modelFormField = "model"
	batchFormField = "file"
)

// modelInfo 模型元数据
type modelInfo struct {
	Kind        string    `json:"kind"`
	Codec       string    `json:"codec"`
	NFeatures   int       `json:"n_features"`
	Probability bool      `json:"probability"`
	Checksum    string    `json:"checksum"`
	LoadedAt    time.Time `json:"loaded_at"`
	Source      string    `json:"source"`
	SessionID   string    `json:"session_id,omitempty"`
}

func newModelInfo(h *ml.Handle, source string) modelInfo {
	return modelInfo{
		Kind:        h.Kind,
		Codec:       h.Codec,
		NFeatures:   h.NFeaturesIn,
		Probability: h.SupportsProbability(),
		Checksum:    h.Checksum,
		LoadedAt:    h.LoadedAt,
		Source:      source,
	}
}

// handleUploadModel 加载上传的模型并替换会话当前模型
func (s *Server) handleUploadModel(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(r, modelFormField)
	if err != nil {
		if isTooLarge(err) {
			s.respondPredictionError(w, r, err)
			return
		}
		respondError(w, http.StatusBadRequest, "invalid upload", err.Error())
		return
	}
	if len(data) == 0 {
		respondError(w, http.StatusBadRequest, "invalid upload", "model file is empty")
		return
	}

	handle, err := ml.Load(data)
	if err != nil {
		s.observeModelLoad("", false)
		s.logger.Warn("model upload rejected", zap.Error(err))
		s.respondPredictionError(w, r, err)
		return
	}
	s.observeModelLoad(handle.Codec, true)

	id := sessionID(r)
	sess, err := s.sessions.SetModel(id, handle)
	if err != nil {
		// 未知或缺失的会话：创建新会话
		sess = s.sessions.Create()
		if sess, err = s.sessions.SetModel(sess.ID, handle); err != nil {
			s.respondPredictionError(w, r, err)
			return
		}
	}
	setSessionID(w, sess.ID)

	if err := db.SaveModelRecord(db.ModelRecord{
		Checksum:  handle.Checksum,
		Kind:      handle.Kind,
		Codec:     handle.Codec,
		NFeatures: handle.NFeaturesIn,
		SessionID: sess.ID,
		LoadedAt:  handle.LoadedAt,
	}); err != nil {
		s.logger.Warn("failed to record model", zap.Error(err))
	}

	info := newModelInfo(handle, modelSourceSession)
	info.SessionID = sess.ID
	s.publish(monitoring.ModelLoadedEvent, info)

	s.logger.Info("model loaded",
		zap.String("session", sess.ID),
		zap.String("kind", handle.Kind),
		zap.String("codec", handle.Codec),
		zap.String("checksum", handle.Checksum),
	)
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleModelInfo(w http.ResponseWriter, r *http.Request) {
	handle, id, source := s.activeModel(r)
	if handle == nil {
		respondError(w, http.StatusNotFound, msgNoModel, "upload a model first")
		return
	}
	info := newModelInfo(handle, source)
	info.SessionID = id
	respondJSON(w, http.StatusOK, info)
}

// featureImportance 单个特征的重要性
type featureImportance struct {
	Feature    string  `json:"feature"`
	Importance float64 `json:"importance"`
}

// placeholderImportance 模型不提供重要性时展示的静态占位值
var placeholderImportance = []featureImportance{
	{Feature: "Glucose", Importance: 40},
	{Feature: "BloodPressure", Importance: 10},
	{Feature: "BMI", Importance: 30},
	{Feature: "Age", Importance: 20},
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	handle, _, _ := s.activeModel(r)
	if handle != nil {
		if weights, ok := handle.Importance(); ok && len(weights) > 0 {
			names := ml.FeatureNames()
			features := make([]featureImportance, len(weights))
			for i, weight := range weights {
				name := fmt.Sprintf("feature_%d", i)
				if len(weights) == len(names) {
					name = names[i]
				}
				features[i] = featureImportance{Feature: name, Importance: weight}
			}
			respondJSON(w, http.StatusOK, map[string]interface{}{
				"source":   "model",
				"kind":     handle.Kind,
				"features": features,
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"source":   "placeholder",
		"features": placeholderImportance,
	})
}

// readUpload 读取 multipart 字段或原始请求体
func readUpload(r *http.Request, field string) ([]byte, error) {
	rc, _, err := uploadReader(r, field)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// uploadReader 返回上传内容及其声明的字符集
func uploadReader(r *http.Request, field string) (io.ReadCloser, string, error) {
	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return r.Body, params["charset"], nil
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", fmt.Errorf("multipart field %q: %w", field, err)
	}
	charset := ""
	if _, partParams, err := mime.ParseMediaType(header.Header.Get("Content-Type")); err == nil {
		charset = partParams["charset"]
	}
	return file, charset, nil
}

func (s *Server) observeModelLoad(codec string, ok bool) {
	if s.metrics != nil {
		s.metrics.ObserveModelLoad(codec, ok)
	}
}

func (s *Server) publish(eventType monitoring.EventType, payload interface{}) {
	if s.hub != nil {
		s.hub.Publish(eventType, payload)
	}
}
