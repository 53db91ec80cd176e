package scenario

import (
	"sort"
	"testing"
)

func TestGetIsTotal(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name     string
		lookup   string
		wantName string
	}{
		{"known scenario", "anxiety", "anxiety"},
		{"another known scenario", "grief", "grief"},
		{"unknown scenario", "imposter-syndrome", DefaultName},
		{"empty name", "", DefaultName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Get(tt.lookup)
			if got.Name != tt.wantName {
				t.Errorf("Get(%q).Name = %q, want %q", tt.lookup, got.Name, tt.wantName)
			}
		})
	}
}

func TestScenariosAreComplete(t *testing.T) {
	c := NewCatalog()

	for _, s := range c.List() {
		if s.Name == "" {
			t.Error("scenario with empty name")
		}
		if s.Description == "" {
			t.Errorf("scenario %q missing description", s.Name)
		}
		if s.SystemPrompt == "" {
			t.Errorf("scenario %q missing system prompt", s.Name)
		}
		if s.OpeningLine == "" {
			t.Errorf("scenario %q missing opening line", s.Name)
		}
	}
}

func TestListIsSortedAndIncludesDefault(t *testing.T) {
	c := NewCatalog()
	scenarios := c.List()

	if len(scenarios) < 2 {
		t.Fatalf("expected multiple scenarios, got %d", len(scenarios))
	}
	if !sort.SliceIsSorted(scenarios, func(i, j int) bool { return scenarios[i].Name < scenarios[j].Name }) {
		t.Error("List should be sorted by name")
	}

	found := false
	for _, s := range scenarios {
		if s.Name == DefaultName {
			found = true
		}
	}
	if !found {
		t.Errorf("List should include the %q default", DefaultName)
	}
}

func TestAnxietyOpeningLineIsStable(t *testing.T) {
	// Downstream session starts surface this line verbatim.
	got := NewCatalog().Get("anxiety").OpeningLine
	want := "I haven't been sleeping well lately. My mind just won't slow down."
	if got != want {
		t.Errorf("anxiety opening line = %q, want %q", got, want)
	}
}
