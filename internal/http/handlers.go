// Package httpapi is the agent's local control surface. The device UI (or
// curl, during development) drives the session through it; it never faces
// the public internet.
package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/courier-dispatch/internal/engine"
	"github.com/example/courier-dispatch/internal/models"
	"github.com/example/courier-dispatch/internal/rest"
	"github.com/example/courier-dispatch/internal/socket"
	"github.com/example/courier-dispatch/internal/telemetry"
)

type Server struct {
	Engine  *engine.Engine
	Samples *telemetry.SampleCache

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, eng *engine.Engine, samples *telemetry.SampleCache) *Server {
	s := &Server{Engine: eng, Samples: samples, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/session", s.handleSession).Methods("GET")
	api.HandleFunc("/session/login", s.handleLogin).Methods("POST")
	api.HandleFunc("/session/logout", s.handleLogout).Methods("POST")
	api.HandleFunc("/session/online", s.handleOnline).Methods("POST")
	api.HandleFunc("/session/password", s.handlePassword).Methods("POST")
	api.HandleFunc("/session/reconnect", s.handleReconnect).Methods("POST")
	api.HandleFunc("/orders/available", s.handleAvailable).Methods("GET")
	api.HandleFunc("/orders/active", s.handleActive).Methods("GET")
	api.HandleFunc("/orders/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/orders/{id}/accept", s.handleAccept).Methods("POST")
	api.HandleFunc("/orders/{id}/advance", s.handleAdvance).Methods("POST")
	api.HandleFunc("/orders/{id}/verify", s.handleVerify).Methods("POST")
	api.HandleFunc("/alarm/ack", s.handleAlarmAck).Methods("POST")
	api.HandleFunc("/location", s.handleLocation).Methods("POST")
	api.HandleFunc("/chat", s.handleChat).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Engine.Session())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	res, err := s.Engine.Login(r.Context(), req.Phone, req.Password)
	if err != nil {
		writeRESTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Engine.Logout()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new password required")
		return
	}
	if err := s.Engine.ChangePassword(r.Context(), req.OldPassword, req.NewPassword); err != nil {
		writeRESTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleOnline(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	s.Engine.SetOnline(r.Context(), req.Online)
	writeJSON(w, http.StatusOK, s.Engine.Session())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	ok := s.Engine.Reconnect()
	writeJSON(w, http.StatusOK, map[string]any{"connected": ok})
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.Engine.RefreshAvailable(r.Context()); err != nil {
			s.logger.Warn("available refresh failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  s.Engine.Directory().AvailableCount(),
		"orders": s.Engine.Directory().SnapshotAvailable(),
	})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := s.Engine.RefreshActive(r.Context()); err != nil {
			s.logger.Warn("active refresh failed", "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": s.Engine.Directory().Active()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	deliveries, err := s.Engine.History(r.Context(), limit)
	if err != nil {
		writeRESTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": deliveries})
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	o, err := s.Engine.Accept(r.Context(), orderID)
	if err != nil {
		var ae *socket.AcceptError
		if errors.As(err, &ae) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":     ae.UserMessage(),
				"code":      string(ae.Reason),
				"retryable": ae.Retryable(),
			})
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "total": o.Total()})
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	to := models.NormalizeStatus(req.Status)
	if to != models.StatusPickedUp && to != models.StatusInTransit {
		writeError(w, http.StatusBadRequest, "status must be picked_up or in_transit")
		return
	}
	o, err := s.Engine.AdvanceOrder(orderID, to)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "verification code required")
		return
	}
	if err := s.Engine.VerifyDelivery(r.Context(), orderID, req.Code); err != nil {
		writeRESTError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"delivered": true})
}

func (s *Server) handleAlarmAck(w http.ResponseWriter, r *http.Request) {
	s.Engine.AcknowledgeAlarm()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	var sample models.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if sample.Lat < -90 || sample.Lat > 90 || sample.Lon < -180 || sample.Lon > 180 {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}
	if sample.At.IsZero() {
		sample.At = time.Now()
	}
	s.Samples.Update(sample)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.Engine.Chats()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRESTError maps backend client errors onto local statuses: auth
// problems are 401, backend rejections keep their status, transport
// failures surface as 502.
func writeRESTError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rest.ErrAuthRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		var se *rest.StatusError
		if errors.As(err, &se) {
			writeError(w, se.Code, se.Message)
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
