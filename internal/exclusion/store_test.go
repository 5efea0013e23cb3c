package exclusion

import (
	"path/filepath"
	"testing"
)

func openSets(t *testing.T) map[string]Set {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "exclusion.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return map[string]Set{
		"sqlite": db,
		"memory": NewMemory(),
	}
}

func TestAddIdempotent(t *testing.T) {
	for name, set := range openSets(t) {
		t.Run(name, func(t *testing.T) {
			if err := set.Add("m1"); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
			if err := set.Add("m1"); err != nil {
				t.Fatalf("second Add() error = %v", err)
			}

			ids, err := set.IDs()
			if err != nil {
				t.Fatalf("IDs() error = %v", err)
			}
			if len(ids) != 1 || ids[0] != "m1" {
				t.Errorf("IDs() = %v, want [m1]", ids)
			}
		})
	}
}

func TestContains(t *testing.T) {
	for name, set := range openSets(t) {
		t.Run(name, func(t *testing.T) {
			if err := set.Add("m1"); err != nil {
				t.Fatal(err)
			}

			got, err := set.Contains("m1")
			if err != nil {
				t.Fatalf("Contains() error = %v", err)
			}
			if !got {
				t.Error("Contains(m1) = false, want true")
			}

			got, err = set.Contains("m2")
			if err != nil {
				t.Fatalf("Contains() error = %v", err)
			}
			if got {
				t.Error("Contains(m2) = true, want false")
			}
		})
	}
}

func TestEmptyIDIgnored(t *testing.T) {
	for name, set := range openSets(t) {
		t.Run(name, func(t *testing.T) {
			if err := set.Add(""); err != nil {
				t.Fatalf("Add(\"\") error = %v", err)
			}
			ids, err := set.IDs()
			if err != nil {
				t.Fatal(err)
			}
			if len(ids) != 0 {
				t.Errorf("IDs() = %v, want empty", ids)
			}
		})
	}
}

func TestOrderPreserved(t *testing.T) {
	for name, set := range openSets(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"m3", "m1", "m2"} {
				if err := set.Add(id); err != nil {
					t.Fatal(err)
				}
			}
			ids, err := set.IDs()
			if err != nil {
				t.Fatal(err)
			}
			want := []string{"m3", "m1", "m2"}
			if len(ids) != len(want) {
				t.Fatalf("IDs() = %v, want %v", ids, want)
			}
			for i := range want {
				if ids[i] != want[i] {
					t.Errorf("IDs()[%d] = %q, want %q", i, ids[i], want[i])
				}
			}
		})
	}
}
