package model

import (
	"reflect"
	"testing"
)

func TestResult_WithWithoutLeaveOriginalUntouched(t *testing.T) {
	r := NewResult("X", 7, 100, "A", "B")

	added := r.With("C", 8, 200)
	if !reflect.DeepEqual(added.Keys(), []string{"A", "B", "C"}) || added.Version != 8 || added.AppName != "X" {
		t.Fatalf("With: %+v", added)
	}
	removed := added.Without("A", 9, 300)
	if !reflect.DeepEqual(removed.Keys(), []string{"B", "C"}) || removed.LastUpdateMillis != 300 {
		t.Fatalf("Without: %+v", removed)
	}
	if !reflect.DeepEqual(r.Keys(), []string{"A", "B"}) || r.Version != 7 {
		t.Fatalf("original mutated: %+v", r)
	}
}

func TestResult_NilIsEmpty(t *testing.T) {
	var r *HotKeyResult
	if r.Contains("A") || r.Len() != 0 || r.Keys() != nil {
		t.Fatalf("nil result should behave as empty")
	}
	next := r.With("A", 1, 1)
	if !next.Contains("A") {
		t.Fatalf("With on nil result lost key")
	}
}
