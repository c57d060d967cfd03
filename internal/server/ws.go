package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ayusman/mudra/internal/frame"
	"github.com/ayusman/mudra/internal/recognizer"
)

const wsWriteTimeout = 5 * time.Second

// StreamHandler runs frames received over a WebSocket through the engine.
// Each connection is bound to one session and its frames are processed in
// arrival order.
type StreamHandler struct {
	engine   *recognizer.Engine
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func newStreamHandler(engine *recognizer.Engine, origins []string, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		engine: engine,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// Non-browser clients send no Origin.
				if origin == "" || sameOrigin(r, origin) {
					return true
				}
				return originAllowed(origins, origin)
			},
		},
	}
}

// ServeHTTP handles WebSocket upgrade requests on /api/predict/ws.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(frame.MaxPayloadSize)

	h.logger.Debug("stream opened", "session", sessionID)
	defer h.logger.Debug("stream closed", "session", sessionID)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("stream read failed", "session", sessionID, "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		res := h.engine.Predict(r.Context(), string(data), sessionID)

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(newPredictResponse(res)); err != nil {
			h.logger.Warn("stream write failed", "session", sessionID, "error", err)
			return
		}
	}
}

// sameOrigin reports whether origin names the host the request was sent to.
func sameOrigin(r *http.Request, origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
