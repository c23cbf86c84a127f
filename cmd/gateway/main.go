package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	api "github.com/assessops/platform/internal/api/http"
	"github.com/assessops/platform/internal/config"
	"github.com/assessops/platform/internal/db"
	"github.com/assessops/platform/internal/logx"
	"github.com/assessops/platform/internal/pipeline"
)

func main() {
	cfg := config.FromEnv()
	logger := logx.New(cfg.LogLevel, cfg.LogFormat)

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	if err != nil {
		log.Fatalf("db open failed: %v", err)
	}
	store := pipeline.NewSQLStore(dbh)

	pipe := pipeline.New(store,
		pipeline.WithDedupWindow(cfg.DedupWindow),
		pipeline.WithSimilarityThreshold(cfg.SimilarityThreshold),
	)

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(logx.Middleware(logger))
	r.Use(middleware.Timeout(30 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Post("/api/ingest/attempts", api.IngestHandler(pipe))

	r.Route("/api/attempts", func(ar chi.Router) {
		ar.Get("/", api.ListAttemptsHandler(store))
		ar.Get("/{attemptID}", api.GetAttemptHandler(store))
		ar.Post("/{attemptID}/recompute", api.RecomputeScoreHandler(pipe))
		ar.Post("/{attemptID}/flag", api.FlagAttemptHandler(pipe))
		ar.Get("/{attemptID}/duplicates", api.DuplicateThreadHandler(pipe))
	})

	r.Get("/api/leaderboard", api.LeaderboardHandler(pipe))
	r.Get("/api/tests", api.ListTestsHandler(store))

	r.Post("/api/upload/analyze", api.UploadAnalyzeHandler())
	r.Post("/api/upload/ingest", api.UploadIngestHandler(pipe))

	r.Get("/api/data/stats", api.StatsHandler(store))
	r.Post("/api/data/reset", api.ResetHandler(store))
	r.Get("/api/health", api.HealthHandler())

	logger.Info("gateway listening", "addr", cfg.HTTPAddr, "db_driver", cfg.DBDriver)
	s := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Fatal(s.ListenAndServe())
}
