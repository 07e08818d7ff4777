package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"blogdesk/api/internal/ai"
	"blogdesk/api/internal/app"
	"blogdesk/api/internal/export"
	"blogdesk/api/internal/media"
	"blogdesk/api/internal/poll"
	"blogdesk/api/internal/revisions"
	"blogdesk/api/internal/search"
	"blogdesk/api/internal/store"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address, overrides API_ADDR")
}

func runServe(cmd *cobra.Command, args []string) error {
	if addrFlag != "" {
		cfg.Addr = addrFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{Logger: logger}

	var db *sql.DB
	if cfg.DatabaseURL == store.MemoryURL {
		logger.Warn("using the in-memory store, posts are lost on exit")
		deps.Posts = store.NewMemory()
	} else {
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer db.Close()
		if err := store.ApplyMigrationsFS(ctx, db, os.DirFS(cfg.MigrationsDir), logger); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		deps.Posts = store.NewCached(store.NewPostgresStore(db), cfg.PostCacheTTL)
	}

	var pgfts *search.PgFTS
	if db != nil {
		pgfts = search.NewPgFTS(db)
	}
	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, pgfts, logger)
	if pgfts != nil {
		go searchService.ReindexAll(ctx, pgfts)
	}
	defer searchService.Wait()
	deps.Search = searchService

	if err := os.MkdirAll(cfg.RevisionsDir, 0o755); err != nil {
		return fmt.Errorf("create revisions dir: %w", err)
	}
	deps.Revisions = revisions.New(cfg.RevisionsDir, logger)
	deps.PDF = &export.ChromeRenderer{Timeout: 30 * time.Second}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		images, err := media.NewMinioStore(ctx, media.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MediaPublicURL,
		}, logger)
		if err != nil {
			return fmt.Errorf("image storage: %w", err)
		}
		deps.Images = images
	} else {
		logger.Warn("MINIO_ENDPOINT is not set, image uploads are disabled")
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		model, err := ai.NewGenAI(ctx, cfg.GeminiAPIKey, cfg.AIModel)
		if err != nil {
			return fmt.Errorf("ai client: %w", err)
		}
		deps.Rewriter, deps.Enhancer = model, model
	} else {
		logger.Warn("GEMINI_API_KEY is not set, AI routes answer with NETWORK_ERROR")
	}

	if strings.TrimSpace(cfg.RedisURL) != "" {
		votes, err := poll.NewRedisStore(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer votes.Close()
		deps.Votes = func(voter string) poll.Store { return votes.ForVoter(voter) }
	}

	httpServer := app.NewHTTPServer(app.New(cfg, deps), logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.Addr).Info("blogdesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("shutdown")
	}
	logger.Info("stopped")
	return nil
}
