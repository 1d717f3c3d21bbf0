package api

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/ratnathegod/cloud-cost-router/internal/providers"
)

var (
	startTime = time.Now()

	// Overridden at link time with -ldflags "-X".
	Version = "dev"
	Commit  = "unknown"
)

type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// AdminStatusResponse represents the admin status endpoint response
type AdminStatusResponse struct {
	BuildInfo BuildInfo        `json:"build_info"`
	Uptime    string           `json:"uptime"`
	Providers []ProviderStatus `json:"providers"`
}

// AdminAuth rejects requests without "Authorization: Bearer <token>".
func AdminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandleAdminStatus reports build info, uptime and which providers have
// working credentials.
func HandleAdminStatus(set *providers.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := AdminStatusResponse{
			BuildInfo: BuildInfo{Version: Version, Commit: Commit},
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			Providers: []ProviderStatus{},
		}
		for _, p := range set.All() {
			resp.Providers = append(resp.Providers, ProviderStatus{Name: p.Name(), Configured: providers.Configured(p)})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleReady is ready while at least one provider is configured.
func HandleReady(set *providers.Set) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		for _, p := range set.All() {
			if providers.Configured(p) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ready"))
				return
			}
		}
		http.Error(w, "no providers configured", http.StatusServiceUnavailable)
	}
}
