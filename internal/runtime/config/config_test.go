package config

import (
	"errors"
	"strings"
	"testing"

	errspkg "github.com/drblury/safetynet/internal/runtime/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.MaxRetries)
	}
	if cfg.AttemptsKey != "_attempts" {
		t.Errorf("AttemptsKey = %q, want _attempts", cfg.AttemptsKey)
	}
	if cfg.FailBehavior != FailBehaviorError {
		t.Errorf("FailBehavior = %q, want error", cfg.FailBehavior)
	}
	if cfg.ErrorTopic != "safetynet-errors" {
		t.Errorf("ErrorTopic = %q, want safetynet-errors", cfg.ErrorTopic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestParseFailBehavior(t *testing.T) {
	tests := []struct {
		value   string
		want    FailBehavior
		wantErr bool
	}{
		{"error", FailBehaviorError, false},
		{"republish", FailBehaviorRepublish, false},
		{"retry", "", true},
		{"Error", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseFailBehavior(tt.value)
			if tt.wantErr {
				var cfgErr *errspkg.ConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("expected *ConfigurationError, got %v", err)
				}
				if cfgErr.Value != tt.value {
					t.Errorf("Value = %q, want %q", cfgErr.Value, tt.value)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestApply_RejectsUnknownFailBehavior(t *testing.T) {
	base := Default()

	got, err := base.Apply(Options{FailBehavior: Ptr("retry"), Retries: Ptr(9)})

	var cfgErr *errspkg.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigurationError, got %v", err)
	}
	if got != base {
		t.Errorf("failed Apply must not change the config, got %v", got)
	}
}

func TestApply_MergesAndReplaces(t *testing.T) {
	cfg, err := Default().Apply(Options{FailBehavior: Ptr("republish")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.FailBehavior != FailBehaviorRepublish {
		t.Errorf("FailBehavior = %q, want republish", cfg.FailBehavior)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Errorf("untouched MaxRetries changed to %d", cfg.MaxRetries)
	}

	cfg, err = cfg.Apply(Options{Retries: Ptr(5)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg, err = cfg.Apply(Options{Retries: Ptr(2), AttemptsKey: Ptr("attempts"), ErrorTopic: Ptr("dead")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d, want 2 (replace, not accumulate)", cfg.MaxRetries)
	}
	if cfg.AttemptsKey != "attempts" || cfg.ErrorTopic != "dead" {
		t.Errorf("unexpected config %v", cfg)
	}
	if cfg.FailBehavior != FailBehaviorRepublish {
		t.Errorf("FailBehavior lost across merges: %q", cfg.FailBehavior)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"negative retries", Config{MaxRetries: -1, AttemptsKey: "a", FailBehavior: FailBehaviorError}, "retries"},
		{"empty attempts key", Config{AttemptsKey: " ", FailBehavior: FailBehaviorError}, "attemptsKey"},
		{"unknown behaviour", Config{AttemptsKey: "a", FailBehavior: "retry"}, "failBehavior"},
		{"republish without topic", Config{AttemptsKey: "a", FailBehavior: FailBehaviorRepublish}, "errorTopic"},
		{"zero retries is fine", Config{AttemptsKey: "a", FailBehavior: FailBehaviorError}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	str := Default().String()
	for _, want := range []string{"MaxRetries:3", "AttemptsKey:_attempts", "FailBehavior:error", "ErrorTopic:safetynet-errors"} {
		if !strings.Contains(str, want) {
			t.Errorf("String() = %q, missing %q", str, want)
		}
	}
}
