package session

import (
	"path/filepath"
	"sort"
	"testing"
	"time"
)

func TestNewID_SortsChronologically(t *testing.T) {
	ids := make([]string, 0, 20)
	for i := 0; i < 20; i++ {
		id, err := NewID()
		if err != nil {
			t.Fatalf("NewID: %v", err)
		}
		ids = append(ids, id)
		if i%5 == 4 {
			time.Sleep(2 * time.Millisecond)
		}
	}

	if !sort.StringsAreSorted(ids) {
		t.Fatalf("ids generated in sequence must sort in creation order:\n%v", ids)
	}
}

func TestIsID(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	cases := []struct {
		in   string
		want bool
	}{
		{id, true},
		{"not-a-uuid", false},
		{"", false},
		{".DS_Store", false},
		{"123e4567-e89b-12d3-a456-426614174000", false}, // v1, wrong version
	}
	for _, tc := range cases {
		if got := IsID(tc.in); got != tc.want {
			t.Fatalf("IsID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestPathFor(t *testing.T) {
	got := PathFor("/data/sessions", "abc")
	want := filepath.Join("/data/sessions", "abc")
	if got != want {
		t.Fatalf("PathFor = %q, want %q", got, want)
	}
}
