package config

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr string `env:"LISTEN_ADDR, default=0.0.0.0:6580"`
	DBPath     string `env:"DB_PATH, default=weft.db"`
	Hostname   string `env:"HOSTNAME, required"`
	Dev        bool   `env:"DEV, default=false"`
	Owner      string `env:"OWNER, required"`
}

type Runs struct {
	WorkspaceDir string        `env:"WORKSPACE_DIR, default=/var/lib/weft/workspaces"`
	LogDir       string        `env:"LOG_DIR, default=/var/log/weft"`
	DefaultImage string        `env:"DEFAULT_IMAGE, default=alpine:3.21"`
	JobTimeout   time.Duration `env:"JOB_TIMEOUT, default=30m"`
	QueueSize    int           `env:"QUEUE_SIZE, default=100"`
	Workers      int           `env:"WORKERS, default=2"`
}

type Cache struct {
	Dir    string `env:"DIR, default=/var/lib/weft/cache"`
	Budget string `env:"BUDGET, default=10GB"`
}

// BudgetBytes parses the human-readable budget ("10GB", "512MiB").
func (c Cache) BudgetBytes() (uint64, error) {
	return humanize.ParseBytes(c.Budget)
}

type Artifacts struct {
	Backend string   `env:"BACKEND, default=fs"` // fs | s3
	Dir     string   `env:"DIR, default=/var/lib/weft/artifacts"`
	S3      S3Config `env:",prefix=S3_"`
}

type S3Config struct {
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION, default=us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET, default=weft"`
	UseSSL    bool   `env:"USE_SSL, default=true"`
}

type Secrets struct {
	Provider string        `env:"PROVIDER, default=sqlite"`
	OpenBao  OpenBaoConfig `env:",prefix=OPENBAO_"`
}

type OpenBaoConfig struct {
	Addr     string `env:"ADDR"`
	RoleID   string `env:"ROLE_ID"`
	SecretID string `env:"SECRET_ID"`
	Mount    string `env:"MOUNT, default=weft"`
}

type Publish struct {
	Domain string   `env:"DOMAIN, default=weft.page"`
	S3     S3Config `env:",prefix=S3_"`
}

type Quality struct {
	URL     string `env:"URL"`
	Project string `env:"PROJECT"`
	// name of the secret holding the analysis service token,
	// resolved per-repo at execution time
	TokenSecret string `env:"TOKEN_SECRET, default=ANALYSIS_TOKEN"`
}

type Config struct {
	Server    Server    `env:",prefix=WEFT_SERVER_"`
	Runs      Runs      `env:",prefix=WEFT_RUNS_"`
	Cache     Cache     `env:",prefix=WEFT_CACHE_"`
	Artifacts Artifacts `env:",prefix=WEFT_ARTIFACTS_"`
	Secrets   Secrets   `env:",prefix=WEFT_SECRETS_"`
	Publish   Publish   `env:",prefix=WEFT_PUBLISH_"`
	Quality   Quality   `env:",prefix=WEFT_QUALITY_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
