package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/NordCoder/Pulsewatch/internal/domain/monitor"
	"github.com/NordCoder/Pulsewatch/internal/domain/notification"
	engine "github.com/NordCoder/Pulsewatch/internal/services/monitor-engine"
)

// Engine is the part of the runner manager the control API drives.
type Engine interface {
	Upsert(ctx context.Context, m *monitor.Monitor, channelIDs []string) (*monitor.Monitor, error)
	Delete(ctx context.Context, workspaceID, id string) error
	Trigger(ctx context.Context, workspaceID, id string) error
	SetActive(ctx context.Context, workspaceID, id string, active bool) (*monitor.Monitor, error)
	Info(ctx context.Context, workspaceID, id string) (*engine.RunnerInfo, error)
}

type Pusher interface {
	Push(ctx context.Context, req engine.PushRequest) error
}

type Server struct {
	log      *zap.Logger
	engine   Engine
	push     Pusher
	monitors monitor.Repo
	channels notification.Repo
	data     monitor.DataRepo
	events   monitor.EventRepo
}

func NewServer(
	log *zap.Logger,
	eng Engine,
	push Pusher,
	monitors monitor.Repo,
	channels notification.Repo,
	data monitor.DataRepo,
	events monitor.EventRepo,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		log:      log.With(zap.String("component", "engine.api")),
		engine:   eng,
		push:     push,
		monitors: monitors,
		channels: channels,
		data:     data,
		events:   events,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, s.accessLog)

	r.Get("/push/{token}", s.handlePush)
	r.Post("/push/{token}", s.handlePush)

	r.Route("/v1/workspaces/{workspaceID}", func(r chi.Router) {
		r.Route("/monitors", func(r chi.Router) {
			r.Post("/", s.handleUpsertMonitor)
			r.Route("/{monitorID}", func(r chi.Router) {
				r.Get("/", s.handleGetMonitor)
				r.Put("/", s.handleUpsertMonitor)
				r.Delete("/", s.handleDeleteMonitor)
				r.Post("/trigger", s.handleTrigger)
				r.Patch("/active", s.handleSetActive)
				r.Get("/runner", s.handleRunnerInfo)
				r.Get("/data", s.handleRecentData)
				r.Get("/summary", s.handleDailySummary)
				r.Get("/events", s.handleEvents)
			})
		})
		r.Route("/channels", func(r chi.Router) {
			r.Get("/", s.handleListChannels)
			r.Post("/", s.handleUpsertChannel)
			r.Put("/{channelID}", s.handleUpsertChannel)
			r.Delete("/{channelID}", s.handleDeleteChannel)
		})
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
