package interactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "interactions_test.db")
	s, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func appendTurn(t *testing.T, s *Store, conv, role, content string) *Turn {
	t.Helper()
	turn, err := s.Append(context.Background(), Turn{ConversationID: conv, UserID: "alice", Role: role, Content: content})
	if err != nil {
		t.Fatalf("Append(%q): %v", content, err)
	}
	return turn
}

func TestCreateConversationID(t *testing.T) {
	s := testStore(t)
	a, b := s.CreateConversationID(), s.CreateConversationID()
	if a == b {
		t.Fatal("ids should be unique")
	}
	id, err := uuid.Parse(a)
	if err != nil {
		t.Fatalf("not a uuid: %v", err)
	}
	if id.Version() != 7 {
		t.Errorf("version = %d, want 7", id.Version())
	}
}

func TestHistory_LastTwentyChronological(t *testing.T) {
	s := testStore(t)
	conv := s.CreateConversationID()

	for i := range 25 {
		appendTurn(t, s, conv, RoleUser, fmt.Sprintf("msg %d", i))
	}
	appendTurn(t, s, s.CreateConversationID(), RoleUser, "other conversation")

	got, err := s.History(context.Background(), conv, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultHistoryLimit {
		t.Fatalf("History returned %d turns, want %d", len(got), DefaultHistoryLimit)
	}
	if got[0].Content != "msg 5" || got[19].Content != "msg 24" {
		t.Errorf("History range = %q..%q, want msg 5..msg 24", got[0].Content, got[19].Content)
	}
}

func TestAppend_Validation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Append(ctx, Turn{ConversationID: "c", Role: "system", Content: "x"}); err == nil {
		t.Error("unknown role should be rejected")
	}
	if _, err := s.Append(ctx, Turn{Role: RoleUser, Content: "x"}); err == nil {
		t.Error("missing conversation id should be rejected")
	}
}

func TestMetadata(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := s.CreateConversationID()

	turn, err := s.Append(ctx, Turn{
		ConversationID: conv,
		Role:           RoleAgent,
		Content:        "Draft ready",
		Metadata:       map[string]any{"type": "draft", "needs_approval": true},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, turn.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata["type"] != "draft" || got.Metadata["needs_approval"] != true {
		t.Errorf("metadata = %v", got.Metadata)
	}

	updated, err := s.UpdateMetadata(ctx, turn.ID, map[string]any{"type": "draft", "approved": true})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Metadata["approved"] != true || updated.Content != "Draft ready" {
		t.Errorf("updated = %+v", updated)
	}

	if _, err := s.UpdateMetadata(ctx, 9999, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMetadata(missing) = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestRecentConversations(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	appendTurn(t, s, "a", RoleUser, "1")
	appendTurn(t, s, "b", RoleUser, "2")
	appendTurn(t, s, "c", RoleUser, "3")
	appendTurn(t, s, "a", RoleAgent, "4")

	got, err := s.RecentConversations(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("RecentConversations = %v, want [a c]", got)
	}
}

func TestLatestConversation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, ok, _ := s.LatestConversation(ctx, "alice"); ok {
		t.Fatal("no conversation expected yet")
	}
	appendTurn(t, s, "first", RoleUser, "hi")
	appendTurn(t, s, "second", RoleUser, "hello again")

	id, ok, err := s.LatestConversation(ctx, "alice")
	if err != nil || !ok || id != "second" {
		t.Errorf("LatestConversation = %q, %v, %v", id, ok, err)
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
	appendTurn(t, s, "c", RoleTool, "OBSERVATION: ok")
}

func TestNewReader(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	w, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatal(err)
	}
	appendTurn(t, w, "c", RoleUser, "hello")

	turns, err := NewReader(db).History(context.Background(), "c", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 1 || turns[0].Content != "hello" {
		t.Errorf("History via reader = %+v", turns)
	}
}
