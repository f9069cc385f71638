package history

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/codex-go/turnengine/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	conv := store.ForConversation("conv-1")
	ctx := context.Background()

	items := []protocol.ResponseItem{
		protocol.NewMessage(protocol.RoleUser, protocol.InputText("hello")),
		protocol.NewFunctionCall("read_file", "call_1", `{"path":"a.go"}`),
		protocol.NewFunctionCallOutput("call_1", protocol.FunctionCallOutputPayload{Content: "contents"}),
	}
	for _, item := range items {
		if err := conv.AppendErr(ctx, item); err != nil {
			t.Fatalf("AppendErr: %v", err)
		}
	}

	loaded, err := conv.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != len(items) {
		t.Fatalf("loaded %d items, want %d", len(loaded), len(items))
	}
	for i, item := range items {
		if loaded[i].Kind != item.Kind {
			t.Fatalf("item %d: Kind = %v, want %v", i, loaded[i].Kind, item.Kind)
		}
	}
	if loaded[1].Name != "read_file" || loaded[1].CallID != "call_1" {
		t.Fatalf("unexpected function call item: %+v", loaded[1])
	}
}

func TestLoadEmptyConversationReturnsNoItems(t *testing.T) {
	store := openTestStore(t)
	conv := store.ForConversation("never-touched")
	loaded, err := conv.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("expected no items, got %d", len(loaded))
	}
}

func TestConversationsAreIsolatedByID(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := store.ForConversation("a")
	b := store.ForConversation("b")
	if err := a.AppendErr(ctx, protocol.NewMessage(protocol.RoleUser, protocol.InputText("for a"))); err != nil {
		t.Fatalf("AppendErr a: %v", err)
	}

	loadedB, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("Load b: %v", err)
	}
	if len(loadedB) != 0 {
		t.Fatalf("expected conversation b to be empty, got %d items", len(loadedB))
	}
}

func TestAppendPreservesSequenceOrder(t *testing.T) {
	store := openTestStore(t)
	conv := store.ForConversation("ordered")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		text := string(rune('a' + i))
		if err := conv.AppendErr(ctx, protocol.NewMessage(protocol.RoleUser, protocol.InputText(text))); err != nil {
			t.Fatalf("AppendErr %d: %v", i, err)
		}
	}

	loaded, err := conv.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 5 {
		t.Fatalf("got %d items, want 5", len(loaded))
	}
	for i, item := range loaded {
		want := string(rune('a' + i))
		if protocol.TextContent(item.Content) != want {
			t.Fatalf("item %d text = %q, want %q", i, protocol.TextContent(item.Content), want)
		}
	}
}
