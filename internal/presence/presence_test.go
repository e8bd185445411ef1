package presence

import (
	"testing"

	"github.com/nexus/chat-app/internal/model"
)

func user(id, name string, coins int) model.User {
	return model.User{ID: id, Name: name, Coins: coins, Password: "pw"}
}

func TestApply_JoinAndLeave(t *testing.T) {
	m := NewMap()
	if !m.Apply(user("u1", "Bob", 0), Join, 10) {
		t.Fatal("expected join to change the map")
	}
	got, ok := m.Get("u1")
	if !ok {
		t.Fatal("expected u1 online")
	}
	if got.Password != "" {
		t.Error("expected stored user to be sanitized")
	}
	if !got.IsOnline {
		t.Error("expected IsOnline set")
	}

	m.Apply(user("u1", "Bob", 0), Leave, 20)
	if _, ok := m.Get("u1"); ok {
		t.Error("expected u1 offline after leave")
	}
	if m.Len() != 0 {
		t.Errorf("expected 0 online, got %d", m.Len())
	}
}

func TestApply_LastWriteWins(t *testing.T) {
	tests := []struct {
		name       string
		first      Kind
		firstTs    int64
		second     Kind
		secondTs   int64
		wantOnline bool
		wantCoins  int
	}{
		{"newer update wins", Update, 10, Update, 20, true, 2},
		{"stale update ignored", Update, 20, Update, 10, true, 1},
		{"stale presence after leave ignored", Leave, 20, Update, 10, false, 0},
		{"rejoin after leave", Leave, 10, Join, 20, true, 2},
		{"leave wins a tie", Update, 10, Leave, 10, false, 0},
		{"update loses a tie with leave", Leave, 10, Update, 10, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMap()
			m.Apply(user("u1", "Bob", 1), tt.first, tt.firstTs)
			m.Apply(user("u1", "Bob", 2), tt.second, tt.secondTs)

			got, ok := m.Get("u1")
			if ok != tt.wantOnline {
				t.Fatalf("expected online=%v, got %v", tt.wantOnline, ok)
			}
			if ok && got.Coins != tt.wantCoins {
				t.Errorf("expected coins %d, got %d", tt.wantCoins, got.Coins)
			}
		})
	}
}

func TestOnline_SortedByName(t *testing.T) {
	m := NewMap()
	m.Apply(user("u3", "carol", 0), Join, 1)
	m.Apply(user("u1", "Alice", 0), Join, 1)
	m.Apply(user("u2", "bob", 0), Join, 1)
	m.Apply(user("u4", "dave", 0), Leave, 1)

	online := m.Online()
	if len(online) != 3 {
		t.Fatalf("expected 3 online, got %d", len(online))
	}
	want := []string{"Alice", "bob", "carol"}
	for i, name := range want {
		if online[i].Name != name {
			t.Errorf("position %d: expected %s, got %s", i, name, online[i].Name)
		}
	}
}

func TestApply_IgnoresEmptyID(t *testing.T) {
	m := NewMap()
	if m.Apply(model.User{Name: "nobody"}, Join, 1) {
		t.Error("expected user without id to be ignored")
	}
}

func TestPatch_KeepsObservedTimestamp(t *testing.T) {
	m := NewMap()
	m.Apply(user("u1", "Bob", 3), Join, 100)

	if !m.Patch(user("u1", "Bob", 50)) {
		t.Fatal("expected patch of an online user to apply")
	}
	if got, _ := m.Get("u1"); got.Coins != 50 {
		t.Errorf("expected patched coins 50, got %d", got.Coins)
	}

	// The owner's later leave, stamped by a clock the patch never advanced.
	if !m.Apply(user("u1", "Bob", 50), Leave, 101) {
		t.Fatal("expected leave after patch to apply")
	}
	if _, ok := m.Get("u1"); ok {
		t.Error("expected user offline after leave")
	}
	if m.Patch(user("u1", "Bob", 9)) {
		t.Error("expected patch of an offline user to be ignored")
	}
	if m.Patch(user("u2", "Carol", 9)) {
		t.Error("expected patch of an unknown user to be ignored")
	}
}

func TestReset(t *testing.T) {
	m := NewMap()
	m.Apply(user("u1", "Bob", 0), Join, 1)
	m.Reset()
	if m.Len() != 0 {
		t.Errorf("expected empty map after reset, got %d", m.Len())
	}
}
