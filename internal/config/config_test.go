package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	cfg, err := Load("whisperer-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to false in dev")
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Sessions.Backend != "memory" {
		t.Fatalf("Sessions.Backend = %q", cfg.Sessions.Backend)
	}
	if cfg.Sessions.HistoryTurns != 4 {
		t.Fatalf("Sessions.HistoryTurns = %d", cfg.Sessions.HistoryTurns)
	}
	if cfg.LLM.Provider != "gemini" {
		t.Fatalf("LLM.Provider = %q", cfg.LLM.Provider)
	}
	if cfg.LLM.SummaryTemperature != 0.7 {
		t.Fatalf("LLM.SummaryTemperature = %f", cfg.LLM.SummaryTemperature)
	}
	if cfg.Analytics.DefaultLimit != 100 {
		t.Fatalf("Analytics.DefaultLimit = %d", cfg.Analytics.DefaultLimit)
	}
	if cfg.Brands.CacheTTL != 5*time.Minute {
		t.Fatalf("Brands.CacheTTL = %s", cfg.Brands.CacheTTL)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	cfg, err := Load("whisperer-api", mapLookup(map[string]string{"WHISPERER_PROFILE": "prod"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Observability.LogJSON {
		t.Fatal("LogJSON should default to true in prod")
	}
	if cfg.Sessions.Backend != "postgres" {
		t.Fatalf("Sessions.Backend = %q", cfg.Sessions.Backend)
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadTestProfileUsesOfflineBackends(t *testing.T) {
	cfg, err := Load("whisperer-api", mapLookup(map[string]string{"WHISPERER_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Analytics.Backend != "duckdb" {
		t.Fatalf("Analytics.Backend = %q", cfg.Analytics.Backend)
	}
	if cfg.Brands.Source != "static" {
		t.Fatalf("Brands.Source = %q", cfg.Brands.Source)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"WHISPERER_PROFILE":                    "test",
		"WHISPERER_SERVICE_NAME":               "whisperer-custom",
		"WHISPERER_HTTP_ADDR":                  ":9999",
		"WHISPERER_HTTP_READ_TIMEOUT":          "2s",
		"WHISPERER_LOG_LEVEL":                  "error",
		"WHISPERER_AUTH_REQUIRED":              "true",
		"WHISPERER_AUTH_STATIC_KEYS":           "k1:acme:analyst",
		"WHISPERER_SESSION_BACKEND":            "postgres",
		"WHISPERER_SESSION_DSN":                "postgres://example",
		"WHISPERER_SESSION_MAX_OPEN_CONNS":     "42",
		"WHISPERER_SESSION_IDLE_TTL":           "45m",
		"WHISPERER_SESSION_HISTORY_TURNS":      "3",
		"WHISPERER_OBJECTSTORE_BUCKET":         "reports",
		"WHISPERER_OBJECTSTORE_USE_SSL":        "true",
		"WHISPERER_LLM_PROVIDER":               "anthropic",
		"WHISPERER_LLM_API_KEY":                "secret-key",
		"WHISPERER_LLM_MODEL":                  "claude-x",
		"WHISPERER_LLM_MAX_OUTPUT_TOKENS":      "512",
		"WHISPERER_LLM_SUMMARY_TEMPERATURE":    "0.9",
		"WHISPERER_LLM_TIMEOUT":                "21s",
		"WHISPERER_ANALYTICS_BACKEND":          "ga4",
		"WHISPERER_ANALYTICS_CREDENTIALS_FILE": "/etc/ga.json",
		"WHISPERER_ANALYTICS_DEFAULT_LIMIT":    "1000",
		"WHISPERER_BRANDS_SOURCE":              "static",
		"WHISPERER_BRANDS_STATIC":              "Acme=123",
		"WHISPERER_EXPORT_TARGET":              "sheets",
		"WHISPERER_EXPORT_PRESIGN_EXPIRY":      "1h",
	})
	cfg, err := Load("whisperer-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "whisperer-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" || cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required || cfg.Auth.StaticKeys != "k1:acme:analyst" {
		t.Fatalf("Auth = %+v", cfg.Auth)
	}
	if cfg.Sessions.Backend != "postgres" || cfg.Sessions.DSN != "postgres://example" {
		t.Fatalf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.Sessions.MaxOpenConns != 42 || cfg.Sessions.IdleTTL != 45*time.Minute || cfg.Sessions.HistoryTurns != 3 {
		t.Fatalf("Sessions = %+v", cfg.Sessions)
	}
	if cfg.ObjectStore.Bucket != "reports" || !cfg.ObjectStore.UseSSL {
		t.Fatalf("ObjectStore = %+v", cfg.ObjectStore)
	}
	if cfg.LLM.Provider != "anthropic" || cfg.LLM.APIKey != "secret-key" || cfg.LLM.Model != "claude-x" {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.LLM.MaxOutputTokens != 512 || cfg.LLM.SummaryTemperature != 0.9 || cfg.LLM.Timeout != 21*time.Second {
		t.Fatalf("LLM = %+v", cfg.LLM)
	}
	if cfg.Analytics.Backend != "ga4" || cfg.Analytics.CredentialsFile != "/etc/ga.json" || cfg.Analytics.DefaultLimit != 1000 {
		t.Fatalf("Analytics = %+v", cfg.Analytics)
	}
	if cfg.Brands.Source != "static" || cfg.Brands.Static != "Acme=123" {
		t.Fatalf("Brands = %+v", cfg.Brands)
	}
	if cfg.Export.Target != "sheets" || cfg.Export.PresignExpiry != time.Hour {
		t.Fatalf("Export = %+v", cfg.Export)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"WHISPERER_PROFILE": "oops"},
		{"WHISPERER_HTTP_READ_TIMEOUT": "NaN"},
		{"WHISPERER_SESSION_MAX_OPEN_CONNS": "oops"},
		{"WHISPERER_SESSION_BACKEND": "redis"},
		{"WHISPERER_SESSION_HISTORY_TURNS": "-1"},
		{"WHISPERER_LLM_PROVIDER": "bard"},
		{"WHISPERER_LLM_SUMMARY_TEMPERATURE": "bad"},
		{"WHISPERER_LLM_SUMMARY_TEMPERATURE": "0"},
		{"WHISPERER_ANALYTICS_BACKEND": "bigquery"},
		{"WHISPERER_ANALYTICS_DEFAULT_LIMIT": "0"},
		{"WHISPERER_BRANDS_SOURCE": "ldap"},
		{"WHISPERER_EXPORT_TARGET": "email"},
		{"WHISPERER_AUTH_REQUIRED": "not-bool"},
		{"WHISPERER_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("whisperer-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestLoadReportsEveryInvalidVariable(t *testing.T) {
	_, err := Load("whisperer-api", mapLookup(map[string]string{
		"WHISPERER_HTTP_READ_TIMEOUT": "NaN",
		"WHISPERER_AUTH_REQUIRED":     "maybe",
	}))
	if err == nil {
		t.Fatal("Load() expected error")
	}
	for _, key := range []string{"WHISPERER_HTTP_READ_TIMEOUT", "WHISPERER_AUTH_REQUIRED"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
