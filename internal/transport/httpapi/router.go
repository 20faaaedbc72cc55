package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Freeeeeet/visitor_gate/internal/model"
	"github.com/Freeeeeet/visitor_gate/internal/realtime"
	"github.com/Freeeeeet/visitor_gate/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Visits операции жизненного цикла визита
type Visits interface {
	Create(ctx context.Context, p service.CreateVisitParams) (*model.Visit, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	Update(ctx context.Context, id uuid.UUID, patch service.VisitPatch) (*model.Visit, error)
	CheckIn(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	CheckOut(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.Visit, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, raw string) (*model.Visit, error)
}

type Access interface {
	ValidateAccess(ctx context.Context, identifier string, kind service.CredentialKind) (*service.AccessDecision, error)
}

// Sessions сессии согласования с резидентом
type Sessions interface {
	StartSession(ctx context.Context) (*service.StartedSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*model.ApprovalSession, error)
	ExecuteTool(ctx context.Context, id uuid.UUID, name string, params json.RawMessage) (*service.ToolResult, error)
	IsSessionActive(ctx context.Context, id uuid.UUID) (*service.SessionActivity, error)
	RespondToVisitor(ctx context.Context, id uuid.UUID, approved bool, residentID *uuid.UUID) (*service.RespondResult, error)
	EndSession(ctx context.Context, id uuid.UUID, finalStatus *model.SessionStatus) (*model.ApprovalSession, error)
}

type Handler struct {
	visits   Visits
	access   Access
	sessions Sessions
	hub      *realtime.Hub
	logger   *zap.Logger
}

func NewHandler(visits Visits, access Access, sessions Sessions, hub *realtime.Hub, logger *zap.Logger) *Handler {
	return &Handler{
		visits:   visits,
		access:   access,
		sessions: sessions,
		hub:      hub,
		logger:   logger,
	}
}

// Router собирает chi-роутер со всеми маршрутами
func (h *Handler) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&requestLogger{logger: h.logger}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.healthz)

	r.Route("/visits", func(r chi.Router) {
		r.Post("/", h.createVisit)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getVisit)
			r.Patch("/", h.updateVisit)
			r.Post("/check-in", h.checkIn)
			r.Post("/check-out", h.checkOut)
			r.Post("/cancel", h.cancelVisit)
			r.Put("/status", h.updateStatus)
		})
	})

	r.Post("/access/validate", h.validateAccess)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.startSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getSession)
			r.Get("/active", h.sessionActive)
			r.Get("/events", h.sessionEvents)
			r.Post("/tools/{name}", h.executeTool)
			r.Post("/respond", h.respond)
			r.Post("/end", h.endSession)
		})
	})

	return r
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger пишет access-лог через zap
type requestLogger struct {
	logger *zap.Logger
}

func (l *requestLogger) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &requestLogEntry{logger: l.logger, request: r}
}

type requestLogEntry struct {
	logger  *zap.Logger
	request *http.Request
}

func (e *requestLogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	e.logger.Info("HTTP request completed",
		zap.String("method", e.request.Method),
		zap.String("path", e.request.URL.Path),
		zap.Int("status", status),
		zap.Int("bytes", bytes),
		zap.Duration("elapsed", elapsed),
		zap.String("request_id", middleware.GetReqID(e.request.Context())),
	)
}

func (e *requestLogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("HTTP request panic",
		zap.Any("panic", v),
		zap.ByteString("stack", stack),
		zap.String("method", e.request.Method),
		zap.String("path", e.request.URL.Path),
	)
}
