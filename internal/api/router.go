// Package api exposes the HTTP surface: the WebSocket entry point, health
// probes, Prometheus metrics, and a small read-only JSON API over the room
// state.
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roundtable-ai/roundtable/internal/database"
	"github.com/roundtable-ai/roundtable/internal/events"
	"github.com/roundtable-ai/roundtable/internal/history"
	mw "github.com/roundtable-ai/roundtable/internal/middleware"
	"github.com/roundtable-ai/roundtable/internal/roster"
	"github.com/roundtable-ai/roundtable/internal/scheduler"
	"github.com/roundtable-ai/roundtable/internal/transcript"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	CORSAllowedOrigins []string
	WSRateLimiter      func(http.Handler) http.Handler
}

// Deps are the room components the read-only API exposes. Pool, Events and
// Transcript may be nil on single-node file-backed deployments.
type Deps struct {
	WS         http.HandlerFunc
	Roster     *roster.Roster
	History    *history.Store
	Scheduler  *scheduler.Scheduler
	Transcript transcript.Repository
	Pool       *pgxpool.Pool
	Events     *events.Client
}

type participantView struct {
	Name    string `json:"name"`
	IsAgent bool   `json:"is_agent"`
	Role    string `json:"role,omitempty"`
}

type roomView struct {
	TopicSummary  string `json:"topic_summary"`
	FullLength    int    `json:"full_length"`
	ContextLength int    `json:"context_length"`
	QueueDepth    int    `json:"queue_depth"`
	Paused        bool   `json:"paused"`
}

func NewRouter(cfg RouterConfig, d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(mw.RequestID)
	r.Use(mw.SecurityHeaders)
	r.Use(mw.Logging)
	r.Use(mw.Recovery)
	r.Use(mw.Metrics)
	r.Use(cors.Handler(mw.CORS(cfg.CORSAllowedOrigins)))

	// Liveness probe, always 200, no dependency checks.
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		JSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	readinessHandler := func(w http.ResponseWriter, r *http.Request) {
		health := map[string]string{
			"status":   "healthy",
			"database": "healthy",
			"nats":     "healthy",
		}
		status := http.StatusOK

		if d.Pool != nil {
			if err := database.HealthCheck(r.Context(), d.Pool); err != nil {
				health["database"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["database"] = "not configured"
		}

		if d.Events != nil {
			if !d.Events.Healthy() {
				health["nats"] = "unhealthy"
				health["status"] = "degraded"
				status = http.StatusServiceUnavailable
			}
		} else {
			health["nats"] = "not configured"
		}

		JSON(w, status, health)
	}
	r.Get("/health/ready", readinessHandler)
	r.Get("/health", readinessHandler)

	r.Handle("/metrics", promhttp.Handler())

	if cfg.WSRateLimiter != nil {
		r.With(cfg.WSRateLimiter).Get("/ws", d.WS)
	} else {
		r.Get("/ws", d.WS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/participants", listParticipants(d.Roster))
		r.Get("/transcript", listTranscript(d.Transcript, d.History))
		r.Get("/room", roomStatus(d.History, d.Scheduler))
	})

	return r
}

func listParticipants(ros *roster.Roster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		names := ros.ListNames()
		out := make([]participantView, 0, len(names))
		for _, name := range names {
			p, ok := ros.Get(name)
			if !ok {
				continue
			}
			out = append(out, participantView{
				Name:    p.Name,
				IsAgent: p.IsAgent,
				Role:    string(ros.RoleOf(p.Name)),
			})
		}
		JSON(w, http.StatusOK, out)
	}
}

// listTranscript serves the durable record when a repository is wired, and
// falls back to the in-memory full history otherwise.
func listTranscript(repo transcript.Repository, hist *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 100)
		offset := queryInt(r, "offset", 0)
		if limit < 1 || limit > 1000 {
			JSONErrorMessage(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		if offset < 0 {
			JSONErrorMessage(w, http.StatusBadRequest, "offset must not be negative")
			return
		}

		if repo != nil {
			msgs, err := repo.List(r.Context(), limit, offset)
			if err != nil {
				JSONError(w, http.StatusInternalServerError, err)
				return
			}
			total, err := repo.Count(r.Context())
			if err != nil {
				JSONError(w, http.StatusInternalServerError, err)
				return
			}
			JSONPaginated(w, http.StatusOK, msgs, total, limit, offset)
			return
		}

		full := hist.SnapshotFull()
		total := int64(len(full))
		if offset >= len(full) {
			full = nil
		} else {
			full = full[offset:]
		}
		if len(full) > limit {
			full = full[:limit]
		}
		JSONPaginated(w, http.StatusOK, full, total, limit, offset)
	}
}

func roomStatus(hist *history.Store, sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		full, contextual := hist.Lengths()
		JSON(w, http.StatusOK, roomView{
			TopicSummary:  hist.TopicSummary(),
			FullLength:    full,
			ContextLength: contextual,
			QueueDepth:    sched.Len(),
			Paused:        sched.Paused(),
		})
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
