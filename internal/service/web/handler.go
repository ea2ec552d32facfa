package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"proxyhive/proxypool"
	"proxyhive/proxypool/model"
	"proxyhive/proxypool/monitor"
	"proxyhive/proxypool/provider"
)

// Handler exposes the proxy manager over a small JSON API.
type Handler struct {
	manager *proxypool.Manager
}

func NewHandler(manager *proxypool.Manager) *Handler {
	return &Handler{manager: manager}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, proxypool.ErrNotInitialized):
		return http.StatusServiceUnavailable
	case errors.Is(err, proxypool.ErrProxyNotFound), errors.Is(err, proxypool.ErrProviderNotFound):
		return http.StatusNotFound
	case errors.Is(err, provider.ErrUnsupportedProvider), errors.Is(err, provider.ErrInvalidProxyConfig):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// HandleProxies serves GET /api/proxies and POST /api/proxies.
func (h *Handler) HandleProxies(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		proxies, statuses, err := h.manager.Proxies()
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		type entry struct {
			Proxy  *model.Proxy       `json:"proxy"`
			Status *model.ProxyStatus `json:"status"`
		}
		out := make([]entry, 0, len(proxies))
		for _, p := range proxies {
			out = append(out, entry{Proxy: p, Status: statuses[p.ID]})
		}
		writeJSON(w, http.StatusOK, out)

	case http.MethodPost:
		var p model.Proxy
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		registered, err := h.manager.AddCustomProxy(r.Context(), &p)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, registered)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleProxyActions serves DELETE /api/proxies/{id} and
// POST /api/proxies/{id}/test.
func (h *Handler) HandleProxyActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/proxies/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodDelete && len(parts) == 1:
		if err := h.manager.RemoveProxy(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": id})

	case r.Method == http.MethodPost && len(parts) == 2 && parts[1] == "test":
		result, err := h.manager.TestProxy(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, result)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleImport serves POST /api/proxies/import with a newline-separated
// body.
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.manager.ImportProxies(r.Context(), string(body))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleProviders serves POST /api/providers and DELETE
// /api/providers/{type}.
func (h *Handler) HandleProviders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var pc model.ProviderConfig
		if err := json.NewDecoder(r.Body).Decode(&pc); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.manager.AddProvider(r.Context(), &pc); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, pc)

	case http.MethodDelete:
		typ := strings.TrimPrefix(r.URL.Path, "/api/providers/")
		if typ == "" || typ == r.URL.Path {
			http.NotFound(w, r)
			return
		}
		if err := h.manager.RemoveProvider(r.Context(), model.ProviderType(typ)); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": typ})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleStats serves GET /api/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.manager.GetProxyStats(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// HandleHealthCheck serves POST /api/healthcheck, triggering an
// out-of-cycle sweep.
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.manager.ForceHealthCheck(r.Context()); err != nil {
		if errors.Is(err, monitor.ErrSweepInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}
