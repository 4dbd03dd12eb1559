package seed

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/parquet-go/parquet-go"

	"github.com/whisperer/whisperer/internal/report"
	"github.com/whisperer/whisperer/internal/report/duckdb"
	"github.com/whisperer/whisperer/internal/storage"
)

var seedNow = time.Date(2025, time.December, 10, 8, 0, 0, 0, time.UTC)

func TestGeneratorDeterministicForSeed(t *testing.T) {
	day := time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC)
	r1 := NewGenerator(42, 50).Day(day, 10)
	r2 := NewGenerator(42, 50).Day(day, 10)
	if !reflect.DeepEqual(r1, r2) {
		t.Fatal("same seed produced different events")
	}
	r3 := NewGenerator(43, 50).Day(day, 10)
	if reflect.DeepEqual(r1, r3) {
		t.Fatal("different seeds produced identical events")
	}
}

func TestGeneratorSessionShape(t *testing.T) {
	rows := NewGenerator(7, 20).Day(time.Date(2025, time.December, 2, 0, 0, 0, 0, time.UTC), 200)

	sessions := map[string]int{}
	for _, row := range rows {
		if row.EventDate != "2025-12-02" {
			t.Fatalf("event_date = %q", row.EventDate)
		}
		if row.EventName == "session_start" {
			sessions[row.SessionID]++
		}
		if row.EventName == "purchase" {
			if row.TransactionID == "" || row.PurchaseRevenue <= 0 || row.ItemQuantity <= 0 {
				t.Fatalf("purchase row incomplete: %+v", row)
			}
		} else if row.PurchaseRevenue != 0 {
			t.Fatalf("revenue on %s event", row.EventName)
		}
	}
	if len(sessions) != 200 {
		t.Fatalf("sessions = %d, want 200", len(sessions))
	}
	for id, n := range sessions {
		if n != 1 {
			t.Fatalf("session %s has %d session_start events", id, n)
		}
	}
}

func TestRunUploadsOneDatasetPerProperty(t *testing.T) {
	store := newMemoryStore()
	cfg := DefaultConfig()
	cfg.Properties = []string{"123", "456"}
	cfg.Days = 3
	cfg.SessionsPerDay = 5

	svc, err := NewService(cfg, store, nil, clockwork.NewFakeClockAt(seedNow))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	datasets, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(datasets) != 2 {
		t.Fatalf("datasets = %d", len(datasets))
	}
	first := datasets[0]
	if first.Key != "datasets/property=123/events.parquet" || first.From != "2025-12-07" || first.To != "2025-12-09" {
		t.Fatalf("dataset = %+v", first)
	}

	data := store.objects[first.Key]
	reader := parquet.NewGenericReader[duckdb.EventRow](bytes.NewReader(data))
	defer func() { _ = reader.Close() }()
	if got := reader.NumRows(); got != int64(first.Events) {
		t.Fatalf("parquet rows = %d, want %d", got, first.Events)
	}
	if store.contentTypes[first.Key] != "application/vnd.apache.parquet" {
		t.Fatalf("content type = %q", store.contentTypes[first.Key])
	}
}

func TestSeededDatasetAnswersReports(t *testing.T) {
	store := newMemoryStore()
	cfg := DefaultConfig()
	cfg.Days = 7
	cfg.SessionsPerDay = 12
	clock := clockwork.NewFakeClockAt(seedNow)

	svc, err := NewService(cfg, store, nil, clock)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if _, err := svc.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backend, err := duckdb.NewBackend(store, "", clock)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	raw, err := backend.RunReport(context.Background(), report.Request{
		PropertyID: "123",
		Dimensions: []string{"date"},
		Metrics:    []string{"sessions"},
		DateRange:  report.DateRange{StartDate: "yesterday", EndDate: "yesterday"},
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("RunReport() error = %v", err)
	}
	if len(raw.Rows) != 1 || raw.Rows[0][0] != "20251209" || raw.Rows[0][1] != "12" {
		t.Fatalf("rows = %v", raw.Rows)
	}
}

func TestRunPropagatesUploadFailure(t *testing.T) {
	store := newMemoryStore()
	store.putErr = errors.New("bucket gone")
	cfg := DefaultConfig()
	cfg.Days = 1
	cfg.SessionsPerDay = 1

	svc, err := NewService(cfg, store, nil, clockwork.NewFakeClockAt(seedNow))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{
		"WHISPERER_SEED_PROPERTIES":       "properties/123, 456,",
		"WHISPERER_SEED_DAYS":             "30",
		"WHISPERER_SEED_SESSIONS_PER_DAY": "8",
		"WHISPERER_SEED_SEED":             "7",
		"WHISPERER_SEED_END_DATE":         "2025-11-30",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.Properties, []string{"123", "456"}) {
		t.Fatalf("Properties = %#v", cfg.Properties)
	}
	if cfg.Days != 30 || cfg.SessionsPerDay != 8 || cfg.Seed != 7 || cfg.EndDate != "2025-11-30" {
		t.Fatalf("cfg = %+v", cfg)
	}

	for _, env := range []map[string]string{
		{"WHISPERER_SEED_DAYS": "0"},
		{"WHISPERER_SEED_DAYS": "many"},
		{"WHISPERER_SEED_SESSIONS_PER_DAY": "-1"},
		{"WHISPERER_SEED_PROPERTIES": " , "},
		{"WHISPERER_SEED_END_DATE": "yesterday"},
	} {
		if _, err := LoadConfigFromEnv(mapLookup(env)); err == nil {
			t.Fatalf("expected error for %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

type memoryStore struct {
	mu           sync.Mutex
	objects      map[string][]byte
	contentTypes map[string]string
	putErr       error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, contentTypes: map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	if m.putErr != nil {
		return storage.ObjectInfo{}, m.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	m.contentTypes[key] = opts.ContentType
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}
