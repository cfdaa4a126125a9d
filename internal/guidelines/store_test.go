package guidelines

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "guidelines_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetOrCreateCurrent_Seeds(t *testing.T) {
	s := testStore(t)
	s.Seed = Defaults("Dana")
	ctx := context.Background()

	if cur, err := s.Current(ctx); err != nil || cur != nil {
		t.Fatalf("Current on empty store = %+v, %v", cur, err)
	}

	v, err := s.GetOrCreateCurrent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v.Version != 1 || !strings.HasPrefix(v.Content, "# Guidelines for Working with Dana") {
		t.Errorf("seeded = %+v", v)
	}

	again, _ := s.GetOrCreateCurrent(ctx)
	if again.Version != 1 || again.ID != v.ID {
		t.Errorf("second call created a new version: %+v", again)
	}
}

func TestUpdateAndHistory(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.GetOrCreateCurrent(ctx)
	v2, err := s.Update(ctx, "v2 content", "tightened tone")
	if err != nil {
		t.Fatal(err)
	}
	s.Update(ctx, "v3 content", "added signature rule")

	if v2.Version != 2 || v2.Diff != "tightened tone" {
		t.Errorf("v2 = %+v", v2)
	}

	cur, _ := s.Current(ctx)
	if cur.Version != 3 || cur.Content != "v3 content" {
		t.Errorf("current = %+v", cur)
	}

	old, _ := s.Version(ctx, 2)
	if old == nil || old.Content != "v2 content" {
		t.Errorf("Version(2) = %+v", old)
	}
	if missing, _ := s.Version(ctx, 42); missing != nil {
		t.Errorf("Version(42) = %+v, want nil", missing)
	}

	hist, _ := s.History(ctx, 2)
	if len(hist) != 2 || hist[0].Version != 3 || hist[1].Version != 2 {
		t.Errorf("History = %+v", hist)
	}
}

func TestAddLearnedPattern(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	today := time.Now().Format("2006-01-02")

	if _, err := s.AddLearnedPattern(ctx, "Sign emails with first name only"); err != nil {
		t.Fatal(err)
	}
	v, err := s.AddLearnedPattern(ctx, "Prefer bullet lists in summaries")
	if err != nil {
		t.Fatal(err)
	}

	if v.Version != 3 {
		t.Errorf("version = %d, want 3 (seed + two patterns)", v.Version)
	}
	wantTail := PatternsHeading + "\n" +
		"(New patterns will be added here as the system learns from your feedback)\n" +
		"- [" + today + "] Sign emails with first name only\n" +
		"- [" + today + "] Prefer bullet lists in summaries\n"
	if !strings.HasSuffix(v.Content, wantTail) {
		t.Errorf("content tail =\n%s\nwant suffix\n%s", v.Content, wantTail)
	}
	if v.Diff != "Added learned pattern: Prefer bullet lists in summaries" {
		t.Errorf("diff = %q", v.Diff)
	}

	if _, err := s.AddLearnedPattern(ctx, "  "); err == nil {
		t.Error("empty pattern should be rejected")
	}
}

func TestInsertPattern(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "section followed by another section",
			content: "# G\n\n## Patterns Learned\n- old\n\n## Other\n- x",
			want:    "# G\n\n## Patterns Learned\n- old\n- new\n\n## Other\n- x",
		},
		{
			name:    "section at end without trailing newline",
			content: "## Patterns Learned\n- old",
			want:    "## Patterns Learned\n- old\n- new",
		},
		{
			name:    "no section",
			content: "# G\n- rule\n",
			want:    "# G\n- rule\n\n## Patterns Learned\n- new\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := insertPattern(tt.content, "- new"); got != tt.want {
				t.Errorf("insertPattern() =\n%q\nwant\n%q", got, tt.want)
			}
		})
	}
}

func TestNewStoreWithDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetOrCreateCurrent(context.Background()); err != nil {
		t.Fatal(err)
	}
}
