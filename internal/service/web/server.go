package web

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"proxyhive/internal/shared/logger"
	"proxyhive/internal/shared/types"
	"proxyhive/proxypool"
)

// basicAuthMiddleware enforces HTTP Basic Authentication when a web user
// and password are configured; otherwise the handler is served as-is.
func basicAuthMiddleware(next http.Handler, user, pass string) http.Handler {
	if user == "" || pass == "" {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte("Unauthorized.\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartServer exposes the manager API and the event stream. The server
// is disabled when web_port is unset.
func StartServer(wg *sync.WaitGroup, cfg *types.Config, manager *proxypool.Manager, hub *Hub) {
	if cfg.LocalConf.WebPort <= 0 {
		logger.Info().Msg("Web API is disabled (web_port is 0 or not set).")
		return
	}

	handler := NewHandler(manager)
	mux := http.NewServeMux()

	webUser := cfg.LocalConf.WebUser
	webPassword := cfg.LocalConf.WebPassword
	protect := func(h http.HandlerFunc) http.Handler {
		return basicAuthMiddleware(h, webUser, webPassword)
	}

	mux.Handle("/api/proxies", protect(handler.HandleProxies))
	mux.Handle("/api/proxies/import", protect(handler.HandleImport))
	mux.Handle("/api/proxies/", protect(handler.HandleProxyActions))
	mux.Handle("/api/providers", protect(handler.HandleProviders))
	mux.Handle("/api/providers/", protect(handler.HandleProviders))
	mux.Handle("/api/stats", protect(handler.HandleStats))
	mux.Handle("/api/healthcheck", protect(handler.HandleHealthCheck))

	// Event stream for observers.
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.LocalConf.WebPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error().Err(err).Str("addr", addr).Msg("Failed to start web API.")
		return
	}

	logger.Info().Msgf("Web API is listening on http://%s", addr)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := http.Serve(listener, mux); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("Web server error.")
		}
		logger.Info().Msg("Web server stopped.")
	}()
}
