package api

import (
	"net/http"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/config"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors" // Import CORS package
)

// SetupRouter initializes the Chi router and defines the API endpoints.
func SetupRouter(api *API, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	})

	// --- Standard Middleware Stack ---
	r.Use(corsMiddleware.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(StructuredRequestLogger(api.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	// Basic health check endpoint, never behind auth
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TokenAuth(cfg.APIToken, api.Logger))

		// Catalog
		r.Route("/projects", func(r chi.Router) {
			r.Get("/", api.HandleListProjects)
			r.Post("/", api.HandleCreateProject)
			r.Route("/{projectID}", func(r chi.Router) {
				r.Get("/", api.HandleGetProject)
				r.Get("/suites", api.HandleListSuites)
				r.Post("/suites", api.HandleCreateSuite)
				r.Get("/sessions", api.HandleListSessions)
				r.Post("/sessions", api.HandleCreateSession)
				r.Get("/sessions/default-name", api.HandleDefaultSessionName)
				r.Get("/csv/export", api.HandleExportProjectCSV)
			})
		})
		r.Post("/suites/{suiteID}/cases", api.HandleCreateCase)
		r.Get("/cases/{caseID}", api.HandleGetCase)

		// Session execution
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/", api.HandleGetSession)
			r.Get("/progress", api.HandleGetProgress) // Completes the session when nothing is pending
			r.Get("/next", api.HandleGetNext)
			r.Get("/summary", api.HandleGetSummary)
			r.Post("/executions/{caseID}", api.HandleRecordExecution)
			r.Post("/executions/{caseID}/reset", api.HandleResetExecution)
			r.Post("/skip-all", api.HandleSkipAll)
			r.Post("/report", api.HandleSessionReport)
		})

		// Bulk catalog transfer
		r.Get("/csv/export", api.HandleExportCSV)
		r.Post("/csv/import", api.HandleImportCSV)
	})

	return r
}
