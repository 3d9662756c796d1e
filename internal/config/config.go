package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"navsphere/api/internal/github"
	"navsphere/api/internal/navigation"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"

	// DevJWTSecret only signs sessions in development. Any other
	// environment must set NAVSPHERE_JWT_SECRET explicitly.
	DevJWTSecret = "navsphere-dev-secret"
)

const (
	StoreGit    = "git"
	StoreGitHub = "github"
	StoreRedis  = "redis"
)

type Config struct {
	Env            string `env:"NAVSPHERE_ENV" envDefault:"development"`
	Addr           string `env:"API_ADDR" envDefault:":8787"`
	Store          string `env:"NAVSPHERE_STORE" envDefault:"git"`
	NavigationPath string `env:"NAVSPHERE_NAVIGATION_PATH" envDefault:"navsphere/content/navigation.json"`
	ReposDir       string `env:"NAVSPHERE_REPOS_DIR" envDefault:"./data/site"`

	// GitHub coordinates. They feed both the GitHub store and icon resolution.
	GitHubOwner  string `env:"GITHUB_OWNER"`
	GitHubRepo   string `env:"GITHUB_REPO"`
	GitHubBranch string `env:"GITHUB_BRANCH" envDefault:"main"`
	GitHubToken  string `env:"GITHUB_TOKEN"`
	GitHubAPIURL string `env:"GITHUB_API_URL" envDefault:"https://api.github.com"`
	RawHost      string `env:"NAVSPHERE_RAW_HOST" envDefault:"raw.githubusercontent.com"`

	StoreTimeoutSeconds int `env:"NAVSPHERE_STORE_TIMEOUT_SECONDS" envDefault:"15"`

	// Redis - session storage, and the document itself when NAVSPHERE_STORE=redis
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	JWTSecret         string `env:"NAVSPHERE_JWT_SECRET" envDefault:"navsphere-dev-secret"`
	EditorSecret      string `env:"NAVSPHERE_EDITOR_SECRET"` // grants editor on git and redis stores
	AccessTTLSeconds  int    `env:"NAVSPHERE_ACCESS_TTL_SECONDS" envDefault:"28800"`
	CORSOrigin        string `env:"NAVSPHERE_CORS_ORIGIN" envDefault:"*"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat         string `env:"LOG_FORMAT" envDefault:"json"`
	OTLPEndpoint      string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	ServiceName       string `env:"OTEL_SERVICE_NAME" envDefault:"navsphere-api"`
	ShutdownTimeoutMS int    `env:"NAVSPHERE_SHUTDOWN_TIMEOUT_MS" envDefault:"10000"`
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreGit:
		if strings.TrimSpace(c.ReposDir) == "" {
			return errors.New("NAVSPHERE_REPOS_DIR is required for the git store")
		}
	case StoreGitHub:
		if strings.TrimSpace(c.GitHubOwner) == "" || strings.TrimSpace(c.GitHubRepo) == "" {
			return errors.New("GITHUB_OWNER and GITHUB_REPO are required for the github store")
		}
	case StoreRedis:
	default:
		return fmt.Errorf("unknown NAVSPHERE_STORE %q (want git, github or redis)", c.Store)
	}
	if strings.TrimSpace(c.NavigationPath) == "" {
		return errors.New("NAVSPHERE_NAVIGATION_PATH must not be empty")
	}
	if c.AccessTTLSeconds <= 0 {
		return errors.New("NAVSPHERE_ACCESS_TTL_SECONDS must be positive")
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("NAVSPHERE_JWT_SECRET must not be empty")
	}
	if c.JWTSecret == DevJWTSecret && !c.IsDevelopment() {
		return fmt.Errorf("NAVSPHERE_JWT_SECRET must be set when NAVSPHERE_ENV is %q", c.Env)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	return c.Env == "" || c.Env == EnvDevelopment
}

// Coordinates returns the repository coordinates icons resolve against.
func (c Config) Coordinates() navigation.Coordinates {
	return navigation.Coordinates{
		Owner:   c.GitHubOwner,
		Repo:    c.GitHubRepo,
		Branch:  c.GitHubBranch,
		RawHost: c.RawHost,
	}
}

func (c Config) GitHub() github.Config {
	return github.Config{
		APIURL:  c.GitHubAPIURL,
		Owner:   c.GitHubOwner,
		Repo:    c.GitHubRepo,
		Branch:  c.GitHubBranch,
		Token:   c.GitHubToken,
		Timeout: c.StoreTimeout(),
	}
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLSeconds) * time.Second
}

func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutMS) * time.Millisecond
}
