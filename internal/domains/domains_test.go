package domains

import (
	"path/filepath"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct{ in, want string }{
		{"example.com", "example.com"},
		{"https://example.com", "example.com"},
		{"http://example.com/", "example.com"},
		{"  example.com  ", "example.com"},
		{"example.com//", "example.com"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAddRemoveAndDedupe(t *testing.T) {
	m := NewManager("", nil)

	added, err := m.Add("https://example.com/", "Example")
	if err != nil || !added {
		t.Fatalf("Add = (%v, %v), want (true, nil)", added, err)
	}
	added, err = m.Add("example.com", "Duplicate")
	if err != nil || added {
		t.Fatalf("duplicate Add = (%v, %v), want (false, nil)", added, err)
	}
	if got := m.Pool(); !reflect.DeepEqual(got, []string{"example.com"}) {
		t.Fatalf("Pool = %v", got)
	}

	removed, err := m.Remove("http://example.com")
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", removed, err)
	}
	removed, _ = m.Remove("example.com")
	if removed {
		t.Fatal("Remove reported success for an absent domain")
	}
	if len(m.Pool()) != 0 {
		t.Fatalf("Pool = %v, want empty", m.Pool())
	}
}

func TestAddRejectsEmpty(t *testing.T) {
	m := NewManager("", nil)
	if _, err := m.Add("   ", "blank"); err == nil {
		t.Fatal("Add accepted a blank domain")
	}
}

func TestAddBulkSkipsBlanksCommentsAndDuplicates(t *testing.T) {
	m := NewManager("", nil)
	m.Add("old.com", "")

	added, skipped, err := m.AddBulk("a.com\n\n# comment\nhttps://b.com/\nold.com\na.com\n")
	if err != nil {
		t.Fatalf("AddBulk failed: %v", err)
	}
	if !reflect.DeepEqual(added, []string{"a.com", "b.com"}) {
		t.Errorf("added = %v", added)
	}
	if !reflect.DeepEqual(skipped, []string{"old.com", "a.com"}) {
		t.Errorf("skipped = %v", skipped)
	}
	if got := m.Pool(); !reflect.DeepEqual(got, []string{"old.com", "a.com", "b.com"}) {
		t.Errorf("Pool = %v", got)
	}
}

func TestPoolPersistsAcrossManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domains.json")

	first := NewManager(path, nil)
	if _, err := first.Add("a.com", "Alpha"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := first.Add("b.com", "Beta"); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	second := NewManager(path, nil)
	want := []Domain{{URL: "a.com", Name: "Alpha"}, {URL: "b.com", Name: "Beta"}}
	if got := second.List(); !reflect.DeepEqual(got, want) {
		t.Fatalf("reloaded pool = %v, want %v", got, want)
	}

	if err := second.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	third := NewManager(path, nil)
	if len(third.Pool()) != 0 {
		t.Fatalf("cleared pool survived reload: %v", third.Pool())
	}
}

func TestMissingFileYieldsEmptyPool(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent.json"), nil)
	if len(m.Pool()) != 0 {
		t.Fatalf("Pool = %v, want empty", m.Pool())
	}
}

func TestIsAdmin(t *testing.T) {
	m := NewManager("", []string{"100", " 200 ", ""})
	for _, id := range []string{"100", "200"} {
		if !m.IsAdmin(id) {
			t.Errorf("IsAdmin(%q) = false", id)
		}
	}
	for _, id := range []string{"", "300"} {
		if m.IsAdmin(id) {
			t.Errorf("IsAdmin(%q) = true", id)
		}
	}
}
