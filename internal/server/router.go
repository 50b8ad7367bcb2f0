package server

import (
	"net/http"
	"strings"
)

// ChatHTTP is the surface the router needs from the answer pipeline. Routing
// stays here so the pipeline never parses URLs.
type ChatHTTP interface {
	ServeChat(http.ResponseWriter, *http.Request)
	ServeHealth(http.ResponseWriter, *http.Request)
	ServeCacheStats(http.ResponseWriter, *http.Request)
	ServeCacheInvalidate(http.ResponseWriter, *http.Request)
	WriteError(http.ResponseWriter, int, string)
}

// NewHandler dispatches the service's routes onto the pipeline plus the
// metrics handler. metricsHandler may be nil, which disables the endpoint.
func NewHandler(p ChatHTTP, metricsHandler http.Handler) http.Handler {
	if p == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "pipeline unavailable", http.StatusServiceUnavailable)
		})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch normalizePath(r.URL.Path) {
		case "chat":
			p.ServeChat(w, r)
		case "healthz":
			p.ServeHealth(w, r)
		case "cache":
			p.ServeCacheInvalidate(w, r)
		case "cache/stats":
			p.ServeCacheStats(w, r)
		case "metrics":
			if metricsHandler == nil {
				p.WriteError(w, http.StatusNotFound, "metrics disabled")
				return
			}
			metricsHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

func normalizePath(path string) string {
	trimmed := strings.ToLower(strings.Trim(path, "/"))
	if trimmed == "health" {
		return "healthz"
	}
	return trimmed
}
