// Package seed generates a demo analytics dataset for the offline reporting
// backend and uploads it to the object store.
package seed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/dates"
	"github.com/whisperer/whisperer/internal/report/duckdb"
	"github.com/whisperer/whisperer/internal/storage"
)

type Service struct {
	cfg   Config
	store storage.ObjectStore
	log   *slog.Logger
	clock clockwork.Clock
}

// Dataset describes one uploaded property dataset.
type Dataset struct {
	PropertyID string
	Key        string
	Events     int
	From       string
	To         string
	Bytes      int64
}

func NewService(cfg Config, store storage.ObjectStore, logger *slog.Logger, clock clockwork.Clock) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if len(cfg.Properties) == 0 {
		return nil, fmt.Errorf("at least one property is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{cfg: cfg, store: store, log: logger, clock: clock}, nil
}

// Run writes one dataset per property and returns what was written.
func (s *Service) Run(ctx context.Context) ([]Dataset, error) {
	end, err := s.endDay()
	if err != nil {
		return nil, err
	}
	start := end.AddDate(0, 0, -(s.cfg.Days - 1))

	out := make([]Dataset, 0, len(s.cfg.Properties))
	for i, propertyID := range s.cfg.Properties {
		key, err := storage.BuildDatasetPath(propertyID)
		if err != nil {
			return out, err
		}

		// Each property gets its own stream so datasets differ between brands.
		gen := NewGenerator(s.cfg.Seed+int64(i), s.cfg.UserCardinality)
		var rows []duckdb.EventRow
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			rows = append(rows, gen.Day(day, s.cfg.SessionsPerDay)...)
		}

		data, err := duckdb.EncodeEvents(rows)
		if err != nil {
			return out, fmt.Errorf("encode dataset for property %s: %w", propertyID, err)
		}
		info, err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/vnd.apache.parquet"})
		if err != nil {
			return out, fmt.Errorf("upload dataset for property %s: %w", propertyID, err)
		}

		ds := Dataset{
			PropertyID: propertyID,
			Key:        key,
			Events:     len(rows),
			From:       dates.Format(start),
			To:         dates.Format(end),
			Bytes:      info.Size,
		}
		s.log.InfoContext(ctx, "demo dataset uploaded",
			slog.String("property_id", ds.PropertyID),
			slog.String("key", ds.Key),
			slog.Int("events", ds.Events),
			slog.String("from", ds.From),
			slog.String("to", ds.To),
		)
		out = append(out, ds)
	}
	return out, nil
}

func (s *Service) endDay() (time.Time, error) {
	today := dates.Now(s.clock)
	if s.cfg.EndDate == "" {
		return today.AddDate(0, 0, -1), nil
	}
	end, err := dates.Resolve(s.cfg.EndDate, today)
	if err != nil {
		return time.Time{}, fmt.Errorf("end date: %w", err)
	}
	return end, nil
}
