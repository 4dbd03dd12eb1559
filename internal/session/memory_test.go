package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/whisperer/whisperer/internal/nl2query"
	"github.com/whisperer/whisperer/internal/report"
)

func newTestMemoryStore(t *testing.T, ttl time.Duration) (*MemoryStore, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2025, 12, 10, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore(ttl, clock)
	t.Cleanup(store.Stop)
	return store, clock
}

func TestMemoryStoreCreateRequiresProperty(t *testing.T) {
	store, _ := newTestMemoryStore(t, time.Minute)
	_, err := store.Create(context.Background(), CreateInput{BrandName: "Acme"})
	if !errors.Is(err, ErrPropertyMissing) {
		t.Fatalf("Create() error = %v, want ErrPropertyMissing", err)
	}
}

func TestMemoryStoreRoundTripAndIsolation(t *testing.T) {
	store, clock := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	a, err := store.Create(ctx, CreateInput{PropertyID: "123", BrandName: "Acme"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	b, err := store.Create(ctx, CreateInput{PropertyID: "456", BrandName: "Other"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("session ids must be unique")
	}

	a.AppendUser("dünkü ciro", clock.Now())
	a.AppendAssistant("Dün 34.250 TL ciro yapıldı.", "answered", clock.Now())
	a.LastResult = &report.Result{Columns: []string{"date", "totalRevenue"}, Rows: []report.Row{{"date": "20251209", "totalRevenue": 34250.0}}}
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	a.LastResult.Rows[0]["totalRevenue"] = 1.0

	got, err := store.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Turns) != 2 || got.Turns[1].Status != "answered" {
		t.Fatalf("Turns = %+v", got.Turns)
	}
	if got.LastResult.Rows[0]["totalRevenue"] != 34250.0 {
		t.Fatalf("stored result was mutated through caller copy: %+v", got.LastResult.Rows[0])
	}

	other, err := store.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(other.Turns) != 0 || other.LastResult != nil {
		t.Fatalf("session %s leaked state: %+v", b.ID, other)
	}
}

func TestMemoryStoreResetKeepsBrand(t *testing.T) {
	store, clock := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	s, err := store.Create(ctx, CreateInput{PropertyID: "123", BrandName: "Acme"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s.AppendUser("q", clock.Now())
	s.LastQuestion = "q"
	s.LastResult = &report.Result{Columns: []string{"date"}}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	clock.Advance(time.Second)
	if err := store.Reset(ctx, s.ID); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(got.Turns) != 0 || got.LastResult != nil || got.LastQuestion != "" {
		t.Fatalf("Reset() left state behind: %+v", got)
	}
	if got.BrandName != "Acme" || got.PropertyID != "123" {
		t.Fatalf("Reset() dropped brand binding: %+v", got)
	}
	if !got.UpdatedAt.After(got.CreatedAt) {
		t.Fatalf("UpdatedAt = %v, CreatedAt = %v", got.UpdatedAt, got.CreatedAt)
	}
}

func TestMemoryStoreDeleteAndMissing(t *testing.T) {
	store, _ := newTestMemoryStore(t, time.Minute)
	ctx := context.Background()

	s, err := store.Create(ctx, CreateInput{PropertyID: "123"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if err := store.Save(ctx, s); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Save() after delete error = %v", err)
	}
	if err := store.Reset(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Reset(missing) error = %v", err)
	}
}

func TestMemoryStoreExpiresIdleSessions(t *testing.T) {
	store, _ := newTestMemoryStore(t, 20*time.Millisecond)
	ctx := context.Background()

	s, err := store.Create(ctx, CreateInput{PropertyID: "123"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after idle TTL error = %v", err)
	}
}

func TestRecentTurnsWindow(t *testing.T) {
	s := Session{Turns: []Turn{
		{Role: nl2query.RoleUser, Content: "1"},
		{Role: nl2query.RoleAssistant, Content: "2"},
		{Role: nl2query.RoleUser, Content: "3"},
		{Role: nl2query.RoleAssistant, Content: "4"},
		{Role: nl2query.RoleUser, Content: "5"},
	}}
	got := s.RecentTurns(4)
	if len(got) != 4 || got[0].Content != "2" || got[3].Content != "5" {
		t.Fatalf("RecentTurns(4) = %+v", got)
	}
}
