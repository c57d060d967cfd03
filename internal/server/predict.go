package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/recognizer"
)

// maxPredictBody bounds a predict request: one encoded frame plus envelope.
const maxPredictBody = frame.MaxPayloadSize + 1024

type predictRequest struct {
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
}

type predictResponse struct {
	recognizer.Result
	Error string `json:"error,omitempty"`
}

func newPredictResponse(res recognizer.Result) predictResponse {
	resp := predictResponse{Result: res}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	return resp
}

// PredictHandler runs single frames posted over HTTP through the engine.
type PredictHandler struct {
	engine *recognizer.Engine
	logger *slog.Logger
}

func newPredictHandler(engine *recognizer.Engine, logger *slog.Logger) *PredictHandler {
	return &PredictHandler{engine: engine, logger: logger}
}

// ServeHTTP handles POST /api/predict.
func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxPredictBody)

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON"})
		return
	}
	if req.Image == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No image provided"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}

	res := h.engine.Predict(r.Context(), req.Image, sessionID)

	status := http.StatusOK
	switch {
	case res.Kind != recognizer.KindError:
	case errors.Is(res.Err, recognizer.ErrDecode):
		status = http.StatusBadRequest
	case errors.Is(res.Err, recognizer.ErrDetect):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, newPredictResponse(res))
}
