// cmd/ironstar/main.go
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ironstar-dev/ironstar/internal/search"
	"github.com/ironstar-dev/ironstar/internal/session"
	"github.com/ironstar-dev/ironstar/internal/todo"
	"github.com/ironstar-dev/ironstar/pkg/aggregate"
	"github.com/ironstar-dev/ironstar/pkg/bus"
	"github.com/ironstar-dev/ironstar/pkg/config"
	"github.com/ironstar-dev/ironstar/pkg/eventstore"
	"github.com/ironstar-dev/ironstar/pkg/ironerr"
	"github.com/ironstar-dev/ironstar/pkg/materialized"
	"github.com/ironstar-dev/ironstar/pkg/sse"
	"github.com/ironstar-dev/ironstar/pkg/telemetry"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.ServiceVersion,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		SampleRate:     cfg.TraceSampleRate,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		os.Exit(1)
	}
	defer tel.Shutdown(context.Background())

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := eventstore.NewPostgresStore(db)
	eventBus := bus.New()

	todoService := todo.NewService(store, eventBus, cfg.MaxConflictRetries)

	todoView := materialized.New[todo.ListModel, todo.Event](store, eventBus, todo.View(), todo.DecodeForView)
	if err := todoView.Run(ctx); err != nil {
		logger.Error("warm up todo view", "error", err)
		os.Exit(1)
	}

	sessionStore := session.NewStore(db)
	sessionService := session.NewService(sessionStore, cfg.JWTSigningKey, cfg.SessionTTL, cfg.RateLimitPerMin)
	sessionHandler := session.NewHandler(sessionService)

	searchService := search.NewService(search.Config{
		MeiliHost:        cfg.MeiliURL,
		MeiliAPIKey:      cfg.MeiliAPIKey,
		FailureThreshold: cfg.SearchCircuitBreakerThreshold,
	}, sqlx.NewDb(db, "postgres"))
	go runSearchIndexer(ctx, todoView, searchService, logger)

	sseHandler := &sse.Handler{
		Store:              store,
		Bus:                eventBus,
		Render:             renderTodoEvent,
		HeartbeatInterval:  cfg.SSEHeartbeatInterval,
		DefaultReplayFrom:  replayFromConfig(cfg.SSEDefaultReplayFrom),
		SubscriberCapacity: cfg.BusSubscriberCapacity,
		Logger:             logger,
	}

	router := buildRouter(todoService, todoView, sessionHandler, searchService, sseHandler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("ironstar listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildRouter(
	todoService todo.Service,
	todoView *materialized.View[todo.ListModel, todo.Event],
	sessionHandler *session.Handler,
	searchService *search.Service,
	sseHandler *sse.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Post("/auth/register", sessionHandler.HandleRegister)
	r.Post("/auth/login", sessionHandler.HandleLogin)

	r.Group(func(r chi.Router) {
		r.Use(sessionHandler.Middleware)

		r.Route("/todos", func(r chi.Router) {
			r.Post("/", handleCreateTodo(todoService, logger))
			r.Post("/{id}/complete", handleCompleteTodo(todoService, logger))
			r.Get("/", handleListTodos(todoView))
		})

		r.Get("/events/todos", sseHandler.ServeHTTP)
	})

	r.Get("/search", handleSearch(searchService))

	return r
}

func handleCreateTodo(svc todo.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		id, err := svc.Create(r.Context(), req.Title)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		logCommandPrincipal(r.Context(), logger, "todo.create", id)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"id": id.String()})
	}
}

func handleCompleteTodo(svc todo.Service, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}
		if err := svc.Complete(r.Context(), id); err != nil {
			writeDomainError(w, err)
			return
		}
		logCommandPrincipal(r.Context(), logger, "todo.complete", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

// logCommandPrincipal resolves the request's authenticated Principal (set
// by session.Handler.Middleware, see buildRouter) and logs it against the
// command it issued, per SPEC_FULL.md §4.1's "command-intake contract
// accepts an already-resolved principal" framing.
func logCommandPrincipal(ctx context.Context, logger *slog.Logger, command string, todoID uuid.UUID) {
	principal, ok := session.PrincipalFromContext(ctx)
	if !ok {
		return
	}
	logger.Info("command issued", "command", command, "todo_id", todoID, "user_id", principal.UserID)
}

func handleListTodos(v *materialized.View[todo.ListModel, todo.Event]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		model := v.Snapshot()
		items := make([]todo.Summary, 0, len(model.Order))
		for _, id := range model.Order {
			items = append(items, model.Items[id])
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(items)
	}
}

func handleSearch(svc *search.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		hits, err := svc.Search(r.Context(), q, 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(hits)
	}
}

// runSearchIndexer periodically re-indexes the Todo read model's current
// snapshot into the search collaborator. A polling loop rather than an
// event-per-event hook keeps internal/search decoupled from the bus: it
// only ever needs the materialized view's Snapshot.
func runSearchIndexer(ctx context.Context, v *materialized.View[todo.ListModel, todo.Event], svc *search.Service, logger *slog.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			docs := search.DocumentsFromTodos(v.Snapshot())
			if len(docs) == 0 {
				continue
			}
			if err := svc.Index(ctx, docs); err != nil {
				logger.Warn("search index refresh failed", "error", err)
			}
		}
	}
}

func renderTodoEvent(ev eventstore.Event) (string, string, bool) {
	return ev.EventType, string(ev.Payload), true
}

func replayFromConfig(v string) sse.ReplayFrom {
	if v == "tip" {
		return sse.ReplayFromTip
	}
	return sse.ReplayFromBeginning
}

// writeDomainError maps the core's error taxonomy (spec.md §7) onto HTTP
// status codes: DecisionRejected and an exhausted OptimisticConflict are
// the two user-visible categories; everything else is an infrastructure
// failure.
func writeDomainError(w http.ResponseWriter, err error) {
	var rejected *ironerr.DecisionRejectedError
	switch {
	case errors.As(err, &rejected):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, ironerr.ErrOptimisticConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, ironerr.ErrStreamFinalized):
		http.Error(w, err.Error(), http.StatusGone)
	case errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
