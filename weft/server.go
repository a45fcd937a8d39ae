package weft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v3"
	"weft.sh/weft/core/log"
	"weft.sh/weft/core/notifier"
	"weft.sh/weft/core/weft/artifact"
	"weft.sh/weft/core/weft/cache"
	"weft.sh/weft/core/weft/config"
	"weft.sh/weft/core/weft/db"
	"weft.sh/weft/core/weft/engine"
	"weft.sh/weft/core/weft/graph"
	"weft.sh/weft/core/weft/models"
	"weft.sh/weft/core/weft/publish"
	"weft.sh/weft/core/weft/quality"
	"weft.sh/weft/core/weft/queue"
	"weft.sh/weft/core/weft/secrets"
	"weft.sh/weft/core/workflow"
)

type Weft struct {
	db     *db.DB
	l      *slog.Logger
	n      *notifier.Notifier
	store  artifact.Store
	runner func(event workflow.Event) graph.Runner
	jq     *queue.Queue
	cfg    *config.Config
	reg    *workflow.Registry

	// runs outlive the requests that enqueue them
	ctx context.Context
}

func Command() *cli.Command {
	return &cli.Command{
		Name:   "server",
		Usage:  "run a weft server",
		Action: Run,
		Description: `
Environment variables:
	WEFT_SERVER_HOSTNAME            (required)
	WEFT_SERVER_OWNER               (required)
	WEFT_SERVER_LISTEN_ADDR         (default: 0.0.0.0:6580)
	WEFT_SERVER_DB_PATH             (default: weft.db)
	WEFT_SERVER_DEV                 (default: false)
	WEFT_RUNS_WORKSPACE_DIR         (default: /var/lib/weft/workspaces)
	WEFT_RUNS_LOG_DIR               (default: /var/log/weft)
	WEFT_RUNS_DEFAULT_IMAGE         (default: alpine:3.21)
	WEFT_RUNS_JOB_TIMEOUT           (default: 30m)
	WEFT_RUNS_QUEUE_SIZE            (default: 100)
	WEFT_RUNS_WORKERS               (default: 2)
	WEFT_CACHE_DIR                  (default: /var/lib/weft/cache)
	WEFT_CACHE_BUDGET               (default: 10GB)
	WEFT_ARTIFACTS_BACKEND          (fs or s3, default: fs)
	WEFT_ARTIFACTS_DIR              (default: /var/lib/weft/artifacts)
	WEFT_ARTIFACTS_S3_*             (ENDPOINT, ACCESS_KEY, SECRET_KEY, BUCKET, ...)
	WEFT_SECRETS_PROVIDER           (sqlite or openbao, default: sqlite)
	WEFT_SECRETS_OPENBAO_*          (ADDR, ROLE_ID, SECRET_ID, MOUNT)
	WEFT_PUBLISH_DOMAIN             (default: weft.page)
	WEFT_PUBLISH_S3_*               (publishing disabled when ENDPOINT is empty)
	WEFT_QUALITY_URL                (quality gates disabled when empty)
	WEFT_QUALITY_PROJECT
	WEFT_QUALITY_TOKEN_SECRET       (default: ANALYSIS_TOKEN)
`,
	}
}

func Run(ctx context.Context, cmd *cli.Command) error {
	logger := log.FromContext(ctx)

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	d, err := db.Make(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to setup db: %w", err)
	}

	n := notifier.New()

	budget, err := cfg.Cache.BudgetBytes()
	if err != nil {
		return fmt.Errorf("invalid cache budget: %w", err)
	}
	caches, err := cache.NewDiskStore(cfg.Cache.Dir, budget, logger.With("component", "cache"))
	if err != nil {
		return fmt.Errorf("failed to setup cache store: %w", err)
	}

	var store artifact.Store
	switch cfg.Artifacts.Backend {
	case "s3":
		store, err = artifact.NewS3Store(cfg.Artifacts.S3)
	default:
		store, err = artifact.NewFSStore(cfg.Artifacts.Dir)
	}
	if err != nil {
		return fmt.Errorf("failed to setup artifact store: %w", err)
	}

	var sm secrets.Manager
	switch cfg.Secrets.Provider {
	case "openbao":
		sm, err = secrets.NewOpenBaoManager(
			cfg.Secrets.OpenBao.Addr,
			cfg.Secrets.OpenBao.RoleID,
			cfg.Secrets.OpenBao.SecretID,
			logger.With("component", "secrets"),
			secrets.WithMountPath(cfg.Secrets.OpenBao.Mount),
		)
	default:
		sm, err = secrets.NewSQLiteManager(cfg.Server.DBPath)
	}
	if err != nil {
		return fmt.Errorf("failed to setup secrets manager: %w", err)
	}
	if stopper, ok := sm.(secrets.Stopper); ok {
		defer stopper.Stop()
	}

	var pub *publish.Publisher
	if cfg.Publish.S3.Endpoint != "" {
		pub, err = publish.NewPublisher(ctx, d, store, sm, cfg.Publish)
		if err != nil {
			return fmt.Errorf("failed to setup publisher: %w", err)
		}
	}

	var gate *quality.Client
	var annotator quality.Annotator
	if cfg.Quality.URL != "" {
		gate, err = quality.NewClient(ctx, cfg.Quality)
		if err != nil {
			return fmt.Errorf("failed to setup quality client: %w", err)
		}
		scheme := "https"
		if cfg.Server.Dev {
			scheme = "http"
		}
		annotator = quality.NewHTTPAnnotator(scheme+"://"+cfg.Server.Hostname, "")
	}

	eng, err := engine.New(ctx, cfg, caches, store, sm, pub, gate, annotator)
	if err != nil {
		return err
	}

	jq := queue.NewQueue(cfg.Runs.QueueSize, cfg.Runs.Workers)

	weft := Weft{
		db:    d,
		l:     logger,
		n:     &n,
		store: store,
		runner: func(event workflow.Event) graph.Runner {
			return eng.Runner(event)
		},
		jq:  jq,
		cfg: cfg,
		reg: BuiltinRegistry(),
		ctx: ctx,
	}
	logger.Info("owner set", "owner", cfg.Server.Owner)

	// starts run workers in the background
	jq.Start()
	defer jq.Stop()

	logger.Info("starting weft server", "address", cfg.Server.ListenAddr)
	logger.Error("server error", "error", http.ListenAndServe(cfg.Server.ListenAddr, weft.Router()))

	return nil
}

func (s *Weft) Router() http.Handler {
	mux := chi.NewRouter()

	mux.Use(s.RequestLogger)

	mux.Post("/events", s.Ingest)
	mux.Get("/events", s.Events)
	mux.Get("/runs/{run}", s.RunStatus)
	mux.Get("/logs/{run}/{job}", s.Logs)
	mux.Get("/owner", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(s.cfg.Server.Owner))
	})
	return mux
}

// RunStatus returns one run and its jobs.
func (s *Weft) RunStatus(w http.ResponseWriter, r *http.Request) {
	runId := models.RunId(chi.URLParam(r, "run"))

	run, err := s.db.GetRun(runId)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	jobs, err := s.db.GetJobs(runId)
	if err != nil {
		s.l.Error("failed to fetch jobs", "run", runId, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Run  db.Run   `json:"run"`
		Jobs []db.Job `json:"jobs"`
	}{run, jobs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// headers are out by now, an encode error has nowhere to go
	_ = json.NewEncoder(w).Encode(v)
}
