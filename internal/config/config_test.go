package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":8787" || cfg.Store != StoreGit || cfg.GitHubBranch != "main" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.NavigationPath != "navsphere/content/navigation.json" {
		t.Fatalf("NavigationPath = %q", cfg.NavigationPath)
	}
	if cfg.StoreTimeout() != 15*time.Second || cfg.AccessTTL() != 8*time.Hour {
		t.Fatalf("durations = %v, %v", cfg.StoreTimeout(), cfg.AccessTTL())
	}
	if !cfg.IsDevelopment() || cfg.JWTSecret != DevJWTSecret || cfg.EditorSecret != "" {
		t.Fatalf("unexpected secret defaults: env=%q editor secret set=%v", cfg.Env, cfg.EditorSecret != "")
	}
}

func TestLoadProductionWithExplicitSecrets(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NAVSPHERE_ENV", "Production")
	t.Setenv("NAVSPHERE_JWT_SECRET", "0c3f9d1e-signing")
	t.Setenv("NAVSPHERE_EDITOR_SECRET", "let-me-edit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.IsDevelopment() || cfg.Env != "production" {
		t.Fatalf("Env = %q", cfg.Env)
	}
	if cfg.EditorSecret != "let-me-edit" {
		t.Fatal("editor secret not loaded")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("NAVSPHERE_STORE", "GitHub")
	t.Setenv("GITHUB_OWNER", "acme")
	t.Setenv("GITHUB_REPO", "site")
	t.Setenv("GITHUB_BRANCH", "gh-pages")
	t.Setenv("NAVSPHERE_STORE_TIMEOUT_SECONDS", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Store != StoreGitHub {
		t.Fatalf("Store = %q", cfg.Store)
	}
	coords := cfg.Coordinates()
	if coords.Owner != "acme" || coords.Repo != "site" || coords.Branch != "gh-pages" || coords.RawHost != "raw.githubusercontent.com" {
		t.Fatalf("Coordinates() = %+v", coords)
	}
	gh := cfg.GitHub()
	if gh.Timeout != 3*time.Second || gh.Owner != "acme" {
		t.Fatalf("GitHub() = %+v", gh)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"github without coordinates": {"NAVSPHERE_STORE": "github"},
		"unknown store":              {"NAVSPHERE_STORE": "s3"},
		"bad integer":                {"NAVSPHERE_STORE_TIMEOUT_SECONDS": "soon"},
		"zero ttl":                   {"NAVSPHERE_ACCESS_TTL_SECONDS": "0"},
		"empty jwt secret":           {"NAVSPHERE_JWT_SECRET": "  "},
		"production default secret":  {"NAVSPHERE_ENV": "production"},
		"staging default secret":     {"NAVSPHERE_ENV": "staging", "NAVSPHERE_JWT_SECRET": DevJWTSecret},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for key, value := range vars {
				t.Setenv(key, value)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected Load() to fail")
			}
		})
	}
}
