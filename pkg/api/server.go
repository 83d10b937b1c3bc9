// Package api serves the local introspection API: host health, loaded
// plugins, dispatch counters and the current grant table. Read-only.
package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/umino-bot/umino/pkg/channels"
	"github.com/umino-bot/umino/pkg/dispatch"
	"github.com/umino-bot/umino/pkg/logger"
	"github.com/umino-bot/umino/pkg/permission"
	"github.com/umino-bot/umino/pkg/plugin"
)

// Server is the HTTP introspection server.
type Server struct {
	addr     string
	apiKey   string
	registry *plugin.Registry
	perms    *permission.Store
	stats    func() dispatch.StatsSnapshot
	manager  *channels.Manager

	startTime time.Time
	server    *http.Server
	log       *logrus.Entry
}

// NewServer creates the introspection server. When no key is configured a
// random session key is generated and printed once at startup, so the API
// is never reachable unauthenticated.
func NewServer(addr, apiKey string, registry *plugin.Registry, perms *permission.Store, stats func() dispatch.StatsSnapshot, manager *channels.Manager) *Server {
	if apiKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			apiKey = hex.EncodeToString(raw)
			fmt.Printf("api session key: %s (set api.key in config for a persistent key)\n", apiKey)
		}
	}
	return &Server{
		addr:      addr,
		apiKey:    apiKey,
		registry:  registry,
		perms:     perms,
		stats:     stats,
		manager:   manager,
		startTime: time.Now(),
		log:       logger.New("api"),
	}
}

// Start begins listening. Non-blocking.
func (s *Server) Start(_ context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/system/info", s.handleSystemInfo)
	mux.HandleFunc("/api/plugins", s.handlePlugins)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/grants", s.handleGrants)
	mux.HandleFunc("/api/channels", s.handleChannels)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      authMiddleware(s.apiKey, mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.WithField("addr", s.addr).Info("introspection API listening")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithField("error", err.Error()).Error("api server failed")
		}
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, _ *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":   hostname,
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  float64(m.Alloc) / 1024 / 1024,
	})
}

func (s *Server) handlePlugins(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Plugins())
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleGrants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.perms.Grants())
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.manager != nil {
		names = s.manager.Names()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"channels": names})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
