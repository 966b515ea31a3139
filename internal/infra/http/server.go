package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	srv *http.Server
}

// Deps are the collaborators the API is built on.
type Deps struct {
	Log       *slog.Logger
	Materials MaterialStore
	Logs      LogReader
	Recorder  Recorder
	Reports   Reports
	Roles     RoleResolver
	Location  *time.Location
	Signatory SignatoryFunc

	// AllowedOrigins enables CORS for the browser front end; empty disables it.
	AllowedOrigins []string
	// ReportsPerMinute caps workbook downloads per caller; 0 means 10.
	ReportsPerMinute int
}

func New(addr string, exposeMetrics bool, deps Deps) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(exposeMetrics, NewHandler(deps)),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

func NewRouter(exposeMetrics bool, h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", callerHeader},
			ExposedHeaders: []string{"Content-Disposition"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	if exposeMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(h.withCaller)

		r.Get("/stats", h.Stats)

		r.Route("/materials", func(r chi.Router) {
			r.Get("/", h.ListMaterials)
			r.Post("/", h.CreateMaterial)
			r.Get("/options", h.MaterialOptions)
			r.Get("/{id}", h.GetMaterial)
			r.Put("/{id}", h.UpdateMaterial)
			r.Delete("/{id}", h.DeleteMaterial)
		})

		r.Route("/logs/{type}", func(r chi.Router) {
			r.Get("/", h.ListLogs)
			r.Post("/", h.CreateLog)
			r.Put("/{id}", h.UpdateLog)
			r.Delete("/{id}", h.DeleteLog)
		})

		r.Route("/reports/{date}", func(r chi.Router) {
			r.Get("/", h.PreviewReport)
			r.With(httprate.Limit(h.reportsPerMinute, time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					return callerFrom(r.Context()).Email, nil
				}),
			)).Get("/xlsx", h.DownloadReport)
		})
	})
	return r
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

type Handler struct {
	log       *slog.Logger
	materials MaterialStore
	logs      LogReader
	recorder  Recorder
	reports   Reports
	roles     RoleResolver
	loc       *time.Location
	signatory SignatoryFunc
	validator *validator.Validate

	origins          []string
	reportsPerMinute int
}

func NewHandler(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	perMinute := d.ReportsPerMinute
	if perMinute <= 0 {
		perMinute = 10
	}
	return &Handler{
		log:       log,
		materials: d.Materials,
		logs:      d.Logs,
		recorder:  d.Recorder,
		reports:   d.Reports,
		roles:     d.Roles,
		loc:       loc,
		signatory: d.Signatory,
		validator: validator.New(),

		origins:          d.AllowedOrigins,
		reportsPerMinute: perMinute,
	}
}
