package store

import (
	"testing"

	"github.com/mohammed-shakir/hotkey-sync/internal/core/model"
)

func TestNewerThan_OnlyAppsPastLastVersion(t *testing.T) {
	s := NewMemory()
	s.Put(model.NewResult("X", 7, 1, "A", "B"))
	s.Put(model.NewResult("Y", 3, 1, "C"))

	got := NewerThan(s, map[string]int64{})
	if len(got) != 2 || got[0].AppName != "X" || got[0].Version != 7 || got[0].Len() != 2 {
		t.Fatalf("empty lastVersions: %+v", got)
	}

	got = NewerThan(s, map[string]int64{"X": 7})
	if len(got) != 1 || got[0].AppName != "Y" {
		t.Fatalf("X at 7 must be omitted: %+v", got)
	}

	if got := NewerThan(s, map[string]int64{"X": 9, "Y": 3}); len(got) != 0 {
		t.Fatalf("up-to-date caller got %+v", got)
	}
}

func TestMemory_PutIgnoresAnonymous(t *testing.T) {
	s := NewMemory()
	s.Put(nil)
	s.Put(model.NewResult("", 1, 1, "A"))
	if len(s.Apps()) != 0 {
		t.Fatalf("anonymous results stored: %v", s.Apps())
	}
}
