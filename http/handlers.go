package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"diapredict/ml"
	"diapredict/session"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "session_id"

	msgPredictionFailed = "prediction could not complete"
	msgNoModel          = "no model loaded"
)

func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/model", s.handleUploadModel)
	mux.HandleFunc("GET /api/model", s.handleModelInfo)
	mux.HandleFunc("POST /api/predict", s.handlePredict)
	mux.HandleFunc("POST /api/predict/batch", s.handlePredictBatch)
	mux.HandleFunc("GET /api/insights", s.handleInsights)
	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/history", s.handleHistory)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.Create()
	setSessionID(w, sess.ID)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": sess.ID,
		"created_at": sess.CreatedAt,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.sessions.Delete(id) {
		respondError(w, http.StatusNotFound, session.ErrNotFound.Error(), "")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

// sessionID 从请求头或 cookie 中读取会话ID
func sessionID(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}

func setSessionID(w http.ResponseWriter, id string) {
	w.Header().Set(sessionHeader, id)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// activeModel 返回会话模型，没有时回退到默认模型
func (s *Server) activeModel(r *http.Request) (*ml.Handle, string, string) {
	id := sessionID(r)
	if id != "" {
		if handle, ok := s.sessions.Model(id); ok {
			return handle, id, modelSourceSession
		}
	}
	if handle := s.defaultModel.Load(); handle != nil {
		return handle, id, modelSourceDefault
	}
	return nil, id, ""
}

// errorResponse 统一错误响应
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode JSON", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, message, detail string) {
	respondJSON(w, status, errorResponse{Error: message, Detail: detail})
}

// respondPredictionError 将推理相关错误映射为状态码，进程不会因此退出
func (s *Server) respondPredictionError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		loadErr *ml.LoadError
		predErr *ml.PredictionError
	)
	switch {
	case isTooLarge(err):
		respondError(w, http.StatusRequestEntityTooLarge, "request body too large", err.Error())
	case errors.As(err, &loadErr):
		respondError(w, http.StatusUnprocessableEntity, "model could not be loaded", err.Error())
	case errors.As(err, &predErr), errors.Is(err, ml.ErrSchemaMismatch):
		respondError(w, http.StatusUnprocessableEntity, msgPredictionFailed, err.Error())
	case errors.Is(err, ml.ErrInvalidFeature):
		respondError(w, http.StatusBadRequest, "invalid input", err.Error())
	default:
		s.logger.Error("request failed", zap.String("request_id", GetRequestID(r.Context())), zap.Error(err))
		respondError(w, http.StatusInternalServerError, msgPredictionFailed, "")
	}
}
