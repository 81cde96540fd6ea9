// Package mockserver is a fake segmentation backend. It serves the REST and
// duplex surface the client consumes, stores uploads in memory and answers
// segmentation requests with deterministic placeholder results.
package mockserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const serviceName = "segmock"

// Server bundles the backend, the duplex hub and the router.
type Server struct {
	opts    Options
	backend *Backend
	hub     *Hub
	mux     http.Handler
}

// New builds a server with an empty backend.
func New(opts Options) *Server {
	opts = opts.withDefaults()
	s := &Server{opts: opts, backend: NewBackend(opts)}
	s.hub = NewHub(s.backend, opts.CORSOrigins)
	s.mux = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }
func (s *Server) Backend() *Backend     { return s.backend }
func (s *Server) Hub() *Hub             { return s.hub }

// Close drops duplex connections and waits for their requests to finish.
func (s *Server) Close() { s.hub.Close() }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if len(s.opts.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id", "X-Log-Level", "traceparent", "tracestate"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// The duplex routes stay outside the compressor so upgrades see the
	// raw writer. promhttp compresses on its own.
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/api/v1/ws", s.hub.ServeWS)
	r.Get("/api/v1/ws/{connectionId}", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Compress(5))

		r.Get("/health", s.health)
		r.Get("/static/uploads/{file}", s.staticUpload)
		r.Get("/static/results/{file}", s.staticResult)

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/images/upload", s.uploadImage)
			r.Get("/images/info/{id}", s.imageInfo)

			r.Route("/segmentation", func(r chi.Router) {
				r.Get("/algorithms", s.listAlgorithms)
				r.Get("/algorithms/{name}", s.getAlgorithm)
				r.Post("/segment", s.segment)
				r.Post("/batch", s.batch)
				r.Get("/results/history", s.resultsHistory)
				r.Get("/results/{id}", s.getResult)
				r.Get("/list", s.listImages)
			})
		})
		MountSwagger(r)
	})
	return r
}
