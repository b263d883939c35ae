package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/cuemby/sentinel/pkg/types"
)

// Query bounds
const (
	DefaultHistoryHours = 24
	MaxHistoryHours     = 720
	DefaultEventLimit   = 50
	MaxEventLimit       = 1000

	maxBodyBytes = 64 << 10
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NodeStatus is one node in the status response
type NodeStatus struct {
	IP   string `json:"ip"`
	Name string `json:"name"`
	types.NodeSnapshot
}

// VIPStatus describes the virtual IP
type VIPStatus struct {
	Address  string            `json:"address"`
	Location types.VIPLocation `json:"location"`

	// Assumed is the last definite location while Location is unknown
	Assumed types.VIPLocation `json:"assumed_location,omitempty"`
}

// StatusResponse is returned by GET /api/status
type StatusResponse struct {
	Timestamp         time.Time  `json:"timestamp"`
	Primary           NodeStatus `json:"primary"`
	Secondary         NodeStatus `json:"secondary"`
	VIP               VIPStatus  `json:"vip"`
	DHCPLeases        int        `json:"dhcp_leases"`
	DHCPMisconfigured bool       `json:"dhcp_misconfigured"`
}

// TestRequest is the body of POST /api/notifications/test
type TestRequest struct {
	Service  string       `json:"service"`
	Settings notify.Patch `json:"settings,omitempty"`
}

// TestResponse reports a successful test send
type TestResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Message string `json:"message"`
}

// SnoozeRequest is the body of POST /api/notifications/snooze
type SnoozeRequest struct {
	Minutes int `json:"minutes"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, ErrorResponse{Detail: detail})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("request body is empty")
		}
		return fmt.Errorf("malformed request body: %w", err)
	}
	return nil
}

// intParam parses an optional integer query parameter within [lo, hi]
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", name, lo, hi)
	}
	return n, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.status.Last()
	if !ok {
		// After a restart the tracker may not have ticked yet
		latest, err := s.store.LatestSnapshot()
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "No status data available yet")
			return
		case err != nil:
			s.logger.Error().Err(err).Msg("Failed to read latest snapshot")
			writeError(w, http.StatusInternalServerError, "failed to read status")
			return
		}
		snap = latest
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Timestamp: snap.Timestamp,
		Primary: NodeStatus{
			IP:           s.cfg.Primary.Address,
			Name:         s.cfg.Primary.Name,
			NodeSnapshot: snap.Primary,
		},
		Secondary: NodeStatus{
			IP:           s.cfg.Secondary.Address,
			Name:         s.cfg.Secondary.Name,
			NodeSnapshot: snap.Secondary,
		},
		VIP:               VIPStatus{Address: s.cfg.VIP, Location: snap.VIP, Assumed: snap.AssumedVIP},
		DHCPLeases:        snap.DHCPLeases,
		DHCPMisconfigured: snap.DHCPMisconfigured,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	hours, err := intParam(r, "hours", DefaultHistoryHours, 1, MaxHistoryHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	snaps, err := s.store.ListSnapshots(since, 0)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list snapshots")
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}

	// Stored newest first; charts want oldest first
	slices.Reverse(snaps)
	if snaps == nil {
		snaps = []*types.HealthSnapshot{}
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", DefaultEventLimit, 1, MaxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	category := types.EventCategory(r.URL.Query().Get("category"))
	if category != "" && !category.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown event category %q", category))
		return
	}

	evs, err := s.store.ListEvents(storage.EventQuery{Limit: limit, Category: category})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list events")
		writeError(w, http.StatusInternalServerError, "failed to read events")
		return
	}
	if evs == nil {
		evs = []*types.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Get().Masked())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch notify.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := s.settings.Update(patch)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidSettings) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to save notification settings")
		writeError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	s.logger.Info().Msg("Notification settings updated")
	writeJSON(w, http.StatusOK, updated.Masked())
}

func (s *Server) handleTestNotification(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}

	err := s.notifier.SendTest(r.Context(), clientIP(r), req.Service, req.Settings)

	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, TestResponse{
			Status:  "success",
			Service: req.Service,
			Message: "Test notification sent via " + req.Service,
		})
	case errors.Is(err, notify.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, notify.ErrUnknownChannel),
		errors.Is(err, notify.ErrChannelNotConfigured),
		errors.Is(err, notify.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError,
			fmt.Sprintf("Failed to send test notification via %s: %v", req.Service, err))
	}
}

func (s *Server) handleResetTemplates(w http.ResponseWriter, r *http.Request) {
	updated, err := s.settings.ResetTemplates()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset templates")
		writeError(w, http.StatusInternalServerError, "failed to reset templates")
		return
	}
	writeJSON(w, http.StatusOK, updated.Masked())
}

func (s *Server) handleGetSnooze(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.notifier.SnoozeStatus(time.Now()))
}

func (s *Server) handleSetSnooze(w http.ResponseWriter, r *http.Request) {
	var req SnoozeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	status, err := s.notifier.Snooze(req.Minutes)
	if err != nil {
		if errors.Is(err, notify.ErrInvalidSnooze) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to snooze notifications")
		writeError(w, http.StatusInternalServerError, "failed to snooze notifications")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleCancelSnooze(w http.ResponseWriter, r *http.Request) {
	if err := s.notifier.CancelSnooze(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to cancel snooze")
		writeError(w, http.StatusInternalServerError, "failed to cancel snooze")
		return
	}
	writeJSON(w, http.StatusOK, s.notifier.SnoozeStatus(time.Now()))
}
