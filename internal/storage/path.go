package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildExportPath lays exports out as <prefix>/<session>/<UTC timestamp>.<ext>.
func BuildExportPath(prefix, sessionID string, at time.Time, ext string) (string, error) {
	if err := validatePathComponent(sessionID, "session id"); err != nil {
		return "", err
	}
	ext = strings.TrimPrefix(ext, ".")
	if err := validatePathComponent(ext, "extension"); err != nil {
		return "", err
	}
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	name := fmt.Sprintf("%s.%s", at.UTC().Format("20060102T150405.000Z"), ext)
	if prefix == "" {
		return path.Join(sessionID, name), nil
	}
	return path.Join(prefix, sessionID, name), nil
}

// BuildDatasetPath is where the local analytics backend reads event data for
// one property.
func BuildDatasetPath(propertyID string) (string, error) {
	if err := validatePathComponent(propertyID, "property id"); err != nil {
		return "", err
	}
	return path.Join("datasets", "property="+propertyID, "events.parquet"), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
