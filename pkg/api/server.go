// Diagnostics API server — REST endpoints + WebSocket for live events.
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
	"strings"
	"sync"
	"time"

	"github.com/laundmo/gh-linker-bot/pkg/bus"
	"github.com/laundmo/gh-linker-bot/pkg/channels"
	"github.com/laundmo/gh-linker-bot/pkg/cron"
	"github.com/laundmo/gh-linker-bot/pkg/github"
	"github.com/laundmo/gh-linker-bot/pkg/logger"
	"github.com/laundmo/gh-linker-bot/pkg/settings"
	"github.com/laundmo/gh-linker-bot/pkg/store"
)

// Config holds the server's listen address and API key.
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Server is the HTTP diagnostics server.
type Server struct {
	config         Config
	channelManager *channels.Manager
	cronService    *cron.Service
	store          *store.Store
	settings       *settings.Repository
	gh             *github.Client
	messageBus     *bus.MessageBus
	wsHub          *WSHub
	eventBridge    *EventBridge
	startTime      time.Time
	server         *http.Server
	mu             sync.RWMutex
}

// NewServer creates a new API server instance.
func NewServer(
	cfg Config,
	channelMgr *channels.Manager,
	cronSvc *cron.Service,
	st *store.Store,
	repo *settings.Repository,
	gh *github.Client,
	msgBus *bus.MessageBus,
) *Server {
	// Secure by default: auto-generate an API key if none is configured.
	// Random key per session, printed once at startup.
	if cfg.APIKey == "" {
		raw := make([]byte, 24)
		if _, err := rand.Read(raw); err == nil {
			cfg.APIKey = hex.EncodeToString(raw)
			fmt.Printf("\nAPI key for this session: %s\nSet gateway.api_key to make it permanent.\n\n", cfg.APIKey)
		}
	}
	s := &Server{
		config:         cfg,
		channelManager: channelMgr,
		cronService:    cronSvc,
		store:          st,
		settings:       repo,
		gh:             gh,
		messageBus:     msgBus,
		startTime:      time.Now(),
	}
	s.wsHub = NewWSHub(s)
	s.eventBridge = NewEventBridge(msgBus, s.wsHub)
	return s
}

// Start begins listening on the configured host:port.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/system/status", s.handleSystemStatus)
	mux.HandleFunc("/api/system/info", s.handleSystemInfo)

	mux.HandleFunc("/api/channels", s.handleChannels)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/cron/status", s.handleCronStatus)

	mux.HandleFunc("/api/guilds", s.handleGuilds)
	mux.HandleFunc("/api/guilds/", s.handleGuildDetail)

	// WebSocket for live events
	mux.HandleFunc("/api/ws", s.wsHub.HandleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(authMiddleware(s.config.APIKey, mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.InfoCF("api", "Diagnostics API server starting", map[string]interface{}{
		"addr": addr,
	})

	go s.wsHub.Run(ctx)
	go s.eventBridge.Run(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "Server error", map[string]interface{}{
				"error": err.Error(),
			})
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

// --- Middleware ---

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "http://localhost")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isAllowedOrigin checks if the origin is a trusted localhost address.
func isAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startTime)

	channelStatus := make(map[string]interface{})
	if s.channelManager != nil {
		channelStatus = s.channelManager.GetStatus()
	}

	var cronStatus []cron.JobStatus
	if s.cronService != nil {
		cronStatus = s.cronService.Status()
	}

	snippetCache := 0
	if s.gh != nil {
		snippetCache = s.gh.CacheSize()
	}

	guilds := 0
	if s.settings != nil {
		guilds = s.settings.Count()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"uptime_seconds": int(uptime.Seconds()),
		"uptime_human":   formatDuration(uptime),
		"channels":       channelStatus,
		"cron":           cronStatus,
		"snippet_cache":  snippetCache,
		"guild_overrides": guilds,
	})
}

func (s *Server) handleSystemInfo(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hostname, _ := os.Hostname()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":     hostname,
		"go_version":   runtime.Version(),
		"os":           runtime.GOOS,
		"arch":         runtime.GOARCH,
		"cpus":         runtime.NumCPU(),
		"goroutines":   runtime.NumGoroutine(),
		"memory_mb":    float64(m.Alloc) / 1024 / 1024,
		"sys_mb":       float64(m.Sys) / 1024 / 1024,
		"gc_cycles":    m.NumGC,
		"gateway_host": s.config.Host,
		"gateway_port": s.config.Port,
	})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	if s.channelManager == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.channelManager.GetStatus())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	stats, err := s.store.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCronStatus(w http.ResponseWriter, r *http.Request) {
	if s.cronService == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.cronService.Status())
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeJSON(w, http.StatusOK, []interface{}{})
		return
	}
	writeJSON(w, http.StatusOK, s.settings.All())
}

// handleGuildDetail serves /api/guilds/{id}: GET reads, PUT replaces,
// DELETE reverts the guild to defaults.
func (s *Server) handleGuildDetail(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/guilds/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "guild id required"})
		return
	}
	if s.settings == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.FindOrDefault(id))

	case http.MethodPut:
		var gs settings.GuildSettings
		if err := json.NewDecoder(r.Body).Decode(&gs); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		gs.GuildID = id
		if err := s.settings.Save(&gs); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, &gs)

	case http.MethodDelete:
		if err := s.settings.Delete(id); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no overrides for guild"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
