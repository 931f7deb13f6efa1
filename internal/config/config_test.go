package config

import (
	"os"
	"testing"
)

func TestDefault_MatchesDocumentedDefaults(t *testing.T) {
	c := Default()
	if c.Cache.Memory.MaxEntries != 100 {
		t.Errorf("expected memory cache max entries 100, got %d", c.Cache.Memory.MaxEntries)
	}
	if c.Pool.Min != 1 || c.Pool.Max != 5 {
		t.Errorf("expected pool min/max 1/5, got %d/%d", c.Pool.Min, c.Pool.Max)
	}
	if c.Dialog.MinFragmentSize != 5 || c.Dialog.InitialFragmentLength != 15 {
		t.Errorf("unexpected dialog defaults: %+v", c.Dialog)
	}
	if !c.Prediction.Enabled || c.Prediction.Depth != 2 {
		t.Errorf("unexpected prediction defaults: %+v", c.Prediction)
	}
}

func TestLoad_WithoutConfigFile_UsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	cfg, err := Load(Options{EnvPrefix: "LOADTEST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pool.Max != 5 {
		t.Errorf("expected default pool max of 5, got %d", cfg.Pool.Max)
	}
}

func TestLoad_EnvironmentOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	defer os.Chdir(wd)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}

	os.Setenv("ENVTEST_DEFAULT_PROVIDER", "elevenlabs")
	os.Setenv("ENVTEST_POOL_MAX", "9")
	defer os.Unsetenv("ENVTEST_DEFAULT_PROVIDER")
	defer os.Unsetenv("ENVTEST_POOL_MAX")

	cfg, err := Load(Options{EnvPrefix: "ENVTEST"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DefaultProvider != "elevenlabs" {
		t.Errorf("expected env override for default_provider, got %q", cfg.DefaultProvider)
	}
	if cfg.Pool.Max != 9 {
		t.Errorf("expected env override for pool.max, got %d", cfg.Pool.Max)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Default()
	if c.Cache.Filesystem.TTL().Hours() != 30*24 {
		t.Errorf("expected 30 days, got %v", c.Cache.Filesystem.TTL())
	}
	if c.Pool.TTL().Seconds() != 3600 {
		t.Errorf("expected 3600s pool ttl, got %v", c.Pool.TTL())
	}
	if c.Fallback.RecoveryBackoffBase().Seconds() != 30 {
		t.Errorf("expected 30s recovery backoff base, got %v", c.Fallback.RecoveryBackoffBase())
	}
}
