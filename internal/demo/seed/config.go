package seed

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/whisperer/whisperer/internal/dates"
)

type LookupFunc func(string) (string, bool)

type Config struct {
	Properties      []string
	Days            int
	SessionsPerDay  int
	UserCardinality int
	Seed            int64
	// EndDate is the last generated day (YYYY-MM-DD). Empty means yesterday.
	EndDate string
}

func DefaultConfig() Config {
	return Config{
		Properties:      []string{"123"},
		Days:            90,
		SessionsPerDay:  40,
		UserCardinality: 500,
		Seed:            42,
	}
}

func LoadConfigFromEnv(lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	cfg := DefaultConfig()
	var properties string
	if err := applyString(lookup, "WHISPERER_SEED_PROPERTIES", &properties); err != nil {
		return Config{}, err
	}
	if properties != "" {
		cfg.Properties = splitList(properties)
	}
	if err := applyInt(lookup, "WHISPERER_SEED_DAYS", &cfg.Days); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "WHISPERER_SEED_SESSIONS_PER_DAY", &cfg.SessionsPerDay); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "WHISPERER_SEED_USER_CARDINALITY", &cfg.UserCardinality); err != nil {
		return Config{}, err
	}
	if err := applyInt64(lookup, "WHISPERER_SEED_SEED", &cfg.Seed); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "WHISPERER_SEED_END_DATE", &cfg.EndDate); err != nil {
		return Config{}, err
	}

	if len(cfg.Properties) == 0 {
		return Config{}, fmt.Errorf("WHISPERER_SEED_PROPERTIES is required")
	}
	if cfg.Days <= 0 {
		return Config{}, fmt.Errorf("WHISPERER_SEED_DAYS must be > 0")
	}
	if cfg.SessionsPerDay <= 0 {
		return Config{}, fmt.Errorf("WHISPERER_SEED_SESSIONS_PER_DAY must be > 0")
	}
	if cfg.UserCardinality <= 0 {
		return Config{}, fmt.Errorf("WHISPERER_SEED_USER_CARDINALITY must be > 0")
	}
	if cfg.EndDate != "" {
		if _, err := time.Parse(dates.Layout, cfg.EndDate); err != nil {
			return Config{}, fmt.Errorf("invalid WHISPERER_SEED_END_DATE: %w", err)
		}
	}
	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), "properties/")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func applyInt64(lookup LookupFunc, key string, dst *int64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
