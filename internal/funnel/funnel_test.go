package funnel

import (
	"strings"
	"testing"
)

func TestTableAssignsIDsByFirstOccurrence(t *testing.T) {
	tbl := NewTable()

	id0, err := tbl.IDFor([]int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("IDFor() error = %v", err)
	}
	id1, err := tbl.IDFor([]int{3, 2, 1, 0})
	if err != nil {
		t.Fatalf("IDFor() error = %v", err)
	}
	id2, err := tbl.IDFor([]int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("IDFor() error = %v", err)
	}

	if id0 != 0 {
		t.Errorf("id0 = %d, want 0", id0)
	}
	if id1 != 1 {
		t.Errorf("id1 = %d, want 1 (distinct tuple, same founders reversed)", id1)
	}
	if id2 != id0 {
		t.Errorf("id2 = %d, want %d (repeat of first tuple)", id2, id0)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestEncodeRejectsOutOfRangeFounder(t *testing.T) {
	if _, err := Encode([]int{16}); err == nil {
		t.Error("expected error for founder ID 16 (out of 4-bit range)")
	}
	if _, err := Encode([]int{-1}); err == nil {
		t.Error("expected error for negative founder ID")
	}
}

func TestValidateAggregatesAllBadFunnels(t *testing.T) {
	err := Validate([][]int{
		{0, 1, 2, 3},
		{0, 1, 2},
		{0, 1, 2, 9},
	}, 4)
	if err == nil {
		t.Fatal("expected an error for two malformed funnels")
	}
	msg := err.Error()
	if !strings.Contains(msg, "line 1") || !strings.Contains(msg, "line 2") {
		t.Errorf("Error() = %q, want it to mention both malformed lines", msg)
	}
}

func TestValidateAcceptsWellShapedFunnels(t *testing.T) {
	if err := Validate([][]int{{0, 1, 2, 3}, {3, 2, 1, 0}}, 4); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestEncodeDistinguishesOrder(t *testing.T) {
	a, err := Encode([]int{1, 2})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Encode([]int{2, 1})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if a == b {
		t.Errorf("Encode([1,2]) == Encode([2,1]) = %d, want distinct", a)
	}
}
