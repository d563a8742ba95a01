package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/portenta/image-processing-ioc/internal/alarms"
	"github.com/portenta/image-processing-ioc/internal/ioc"
	"github.com/portenta/image-processing-ioc/internal/pv"
)

const maxBodyBytes = 4096

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	db     *pv.DB
	ioc    *ioc.IOC
	alarms *alarms.Engine
	mux    *http.ServeMux
}

// New creates a Handler and registers all routes. eng may be nil when no
// alarm engine is running.
func New(db *pv.DB, c *ioc.IOC, eng *alarms.Engine) http.Handler {
	h := &Handler{db: db, ioc: c, alarms: eng, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/pvs", h.listPVs)
	h.mux.HandleFunc("/api/v1/pvs/", h.pv) // subtree, extracts {name}
	h.mux.HandleFunc("/api/v1/alarms", h.listAlarms)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := HealthResponse{
		PVCount:  h.db.Count(),
		Channels: channelStatus(h.ioc),
		State:    "unknown",
	}
	if h.alarms != nil {
		for _, a := range h.alarms.Active() {
			if a.State == "firing" {
				resp.AlarmCount++
			}
		}
	}

	seen := 0
	for _, st := range resp.Channels {
		switch st.Status {
		case string(ioc.StatusSkipped):
			resp.State = "degraded"
		case string(ioc.StatusAnalyzed):
			seen++
		}
	}
	if resp.State != "degraded" && seen > 0 {
		resp.State = "ok"
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listPVs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.db.List())
}

func (h *Handler) pv(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/v1/pvs/")
	if name == "" {
		h.listPVs(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, ok := h.db.Get(name)
		if !ok {
			jsonErr(w, http.StatusNotFound, "pv not found")
			return
		}
		jsonResp(w, http.StatusOK, rec)

	case http.MethodPut:
		v, err := decodeValue(r.Body)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		rec, err := h.db.Put(r.Context(), name, v)
		if err != nil {
			jsonErr(w, putStatus(err), err.Error())
			return
		}
		jsonResp(w, http.StatusOK, rec)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) listAlarms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.alarms == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.alarms.Active())
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, BuildSnapshot(h.db, h.ioc))
}

// BuildSnapshot collects every PV and the per-channel status.
func BuildSnapshot(db *pv.DB, c *ioc.IOC) SnapshotResponse {
	return SnapshotResponse{
		PVs:         db.List(),
		Channels:    channelStatus(c),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func channelStatus(c *ioc.IOC) map[string]ChannelStatus {
	out := make(map[string]ChannelStatus, len(ioc.Channels))
	for _, ch := range ioc.Channels {
		out[string(ch)] = ChannelStatus{Status: "idle"}
	}
	if c == nil {
		return out
	}
	for _, ch := range ioc.Channels {
		last, ok := c.Last(ch)
		if !ok {
			continue
		}
		out[string(ch)] = ChannelStatus{
			Status:    string(last.Status),
			Path:      last.Path,
			Reason:    last.Reason,
			EventID:   last.ID,
			UpdatedAt: last.At.UTC().Format(time.RFC3339),
		}
	}
	return out
}

// decodeValue reads {"value": ...}. Numbers stay json.Number so integer PVs
// accept them without a float round trip.
func decodeValue(body io.Reader) (any, error) {
	var req PutRequest
	if err := json.NewDecoder(io.LimitReader(body, maxBodyBytes)).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}
	if len(req.Value) == 0 {
		return nil, errors.New(`body must contain "value"`)
	}
	dec := json.NewDecoder(bytes.NewReader(req.Value))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errors.New("invalid value")
	}
	return v, nil
}

func putStatus(err error) int {
	switch {
	case errors.Is(err, pv.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, pv.ErrReadOnly):
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
