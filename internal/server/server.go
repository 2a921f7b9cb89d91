// Package server is a small net/http surface exposing the runtime API
// (snapshot, set_settings, set_mode, set_cooling, set_asic_ip) as JSON
// endpoints for the external touchscreen/UI process.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/andreyvalerr/CONTROLLER/internal/supervisor"
)

// Core is the subset of *supervisor.Supervisor this package needs, so it
// can be unit-tested without constructing a real Supervisor.
type Core interface {
	GetSystemSnapshot() supervisor.Snapshot
	SetSettings(partial supervisor.SettingsPartial) error
	SetMode(raw string) error
	SetCooling(on bool) error
	SetAsicIP(ip string) error
}

// Server exposes the runtime API.
type Server struct {
	core Core
	log  *slog.Logger
	mux  *http.ServeMux
}

// New constructs a Server with routes configured.
func New(core Core, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		core: core,
		log:  logger.With("component", "http"),
		mux:  http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler exposes the configured mux for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.Handle("/api/snapshot", http.HandlerFunc(s.handleSnapshot))
	s.mux.Handle("/api/settings", http.HandlerFunc(s.handleSettings))
	s.mux.Handle("/api/mode", http.HandlerFunc(s.handleMode))
	s.mux.Handle("/api/cooling", http.HandlerFunc(s.handleCooling))
	s.mux.Handle("/api/asic-ip", http.HandlerFunc(s.handleAsicIP))
}

type snapshotResponse struct {
	Temperature *temperatureResponse `json:"temperature"`
	Settings    settingsResponse     `json:"settings"`
	Mode        string               `json:"mode"`
	Cooling     bool                 `json:"cooling"`
	AsicIP      string               `json:"asic_ip"`
	ValveState  valveStateResponse   `json:"valve_state"`
	UptimeS     float64              `json:"uptime_s"`
	LastError   *string              `json:"last_error"`
}

type temperatureResponse struct {
	LiquidC *float64 `json:"liquid_c"`
	PSUC    *float64 `json:"psu_c"`
	FanRPM  *uint32  `json:"fan_rpm"`
	Status  string   `json:"status"`
	Source  string   `json:"source"`
}

type settingsResponse struct {
	MinC        float64 `json:"min_c"`
	MaxC        float64 `json:"max_c"`
	HysteresisC float64 `json:"hysteresis_c"`
}

type valveStateResponse struct {
	Upper bool `json:"upper"`
	Lower bool `json:"lower"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	snap := s.core.GetSystemSnapshot()
	resp := snapshotResponse{
		Settings: settingsResponse{MinC: snap.Settings.MinC, MaxC: snap.Settings.MaxC, HysteresisC: snap.Settings.HysteresisC},
		Mode:     string(snap.Mode),
		Cooling:  snap.Cooling,
		AsicIP:   snap.AsicIP,
		ValveState: valveStateResponse{
			Upper: snap.ValveState.Upper,
			Lower: snap.ValveState.Lower,
		},
		UptimeS:   snap.UptimeS,
		LastError: snap.LastError,
	}
	if snap.Temperature != nil {
		resp.Temperature = &temperatureResponse{
			LiquidC: snap.Temperature.LiquidC,
			PSUC:    snap.Temperature.PSUC,
			FanRPM:  snap.Temperature.FanRPM,
			Status:  string(snap.Temperature.Status),
			Source:  string(snap.Temperature.Source),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type setSettingsRequest struct {
	MinC *float64 `json:"min_c"`
	MaxC *float64 `json:"max_c"`
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req setSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.core.SetSettings(supervisor.SettingsPartial{MinC: req.MinC, MaxC: req.MaxC})
	s.respondToValidated(w, err)
}

type setModeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req setModeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.core.SetMode(req.Mode)
	s.respondToValidated(w, err)
}

type setCoolingRequest struct {
	On bool `json:"on"`
}

func (s *Server) handleCooling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req setCoolingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := s.core.SetCooling(req.On); err != nil {
		s.log.Error("set cooling failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

type setAsicIPRequest struct {
	IP string `json:"ip"`
}

func (s *Server) handleAsicIP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req setAsicIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	err := s.core.SetAsicIP(req.IP)
	s.respondToValidated(w, err)
}

func (s *Server) respondToValidated(w http.ResponseWriter, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	var ve *supervisor.ValidationError
	if errors.As(err, &ve) {
		writeError(w, http.StatusUnprocessableEntity, ve.Error())
		return
	}

	s.log.Error("request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	type errorResponse struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errorResponse{Error: message})
}
