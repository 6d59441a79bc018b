package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Errorf("default config failed validation: %v", ValidationErrors(errs))
	}
}

func TestLoad_Defaults(t *testing.T) {
	resetViper(t)
	SetDefaults()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Executor.MaxParallel != 3 {
		t.Errorf("executor.max_parallel = %d, want 3", cfg.Executor.MaxParallel)
	}
	if cfg.Executor.StepTimeout() != 60*time.Second {
		t.Errorf("step timeout = %v, want 60s", cfg.Executor.StepTimeout())
	}
	if cfg.Replan.MaxRounds != 3 {
		t.Errorf("replan.max_rounds = %d, want 3", cfg.Replan.MaxRounds)
	}
	if cfg.Planner.Strategy != "auto" {
		t.Errorf("planner.strategy = %q, want auto", cfg.Planner.Strategy)
	}
	if cfg.Memory.Backend != "sqlite" {
		t.Errorf("memory.backend = %q, want sqlite", cfg.Memory.Backend)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	resetViper(t)
	SetDefaults()
	viper.SetEnvPrefix("PLANWEAVE")
	viper.SetEnvKeyReplacer(newEnvReplacer())
	viper.AutomaticEnv()
	t.Setenv("PLANWEAVE_EXECUTOR_MAX_PARALLEL", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Executor.MaxParallel != 8 {
		t.Errorf("executor.max_parallel = %d, want 8 from environment", cfg.Executor.MaxParallel)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	resetViper(t)
	SetDefaults()
	viper.Set("executor.max_parallel", 0)

	if _, err := Load(); err == nil {
		t.Error("expected validation error for max_parallel = 0")
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Executor.MaxParallel = -1
	cfg.Replan.MaxRounds = -2
	cfg.Planner.Strategy = "psychic"
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 4 {
		t.Errorf("expected 4 validation errors, got %d: %v", len(errs), ValidationErrors(errs))
	}
}

func TestValidate_CrossFieldRules(t *testing.T) {
	t.Run("htn requires domain file", func(t *testing.T) {
		cfg := Default()
		cfg.Planner.Strategy = "htn"
		cfg.Planner.DomainFile = ""
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("expected error for htn without domain file")
		}
	})

	t.Run("generative requires provider", func(t *testing.T) {
		cfg := Default()
		cfg.Planner.Strategy = "generative"
		cfg.Provider.Backend = "none"
		if errs := cfg.Validate(); len(errs) == 0 {
			t.Error("expected error for generative without provider backend")
		}
	})

	t.Run("generative with provider is valid", func(t *testing.T) {
		cfg := Default()
		cfg.Planner.Strategy = "generative"
		cfg.Provider.Backend = "ollama"
		cfg.Provider.Model = "llama3"
		if errs := cfg.Validate(); len(errs) > 0 {
			t.Errorf("unexpected validation errors: %v", ValidationErrors(errs))
		}
	})
}

func TestValidationErrors_Formatting(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Value: 1, Message: "bad"},
		{Field: "c.d", Value: "x", Message: "worse"},
	}
	msg := errs.Error()
	if msg == "" {
		t.Fatal("expected non-empty error message")
	}
	single := ValidationErrors{errs[0]}
	if single.Error() != errs[0].Error() {
		t.Error("single-error collection should format as the bare error")
	}
	if ValidationErrors(nil).Error() != "" {
		t.Error("empty collection should format as empty string")
	}
}
