package pipeline

import (
	"math"
	"reflect"
	"testing"
)

func TestBatches(t *testing.T) {
	got, err := BlockRange{From: 100, To: 105}.Batches(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 105},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestBatchesSingleBlock(t *testing.T) {
	got, err := BlockRange{From: 5, To: 5}.Batches(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []BlockRange{{From: 5, To: 5}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("batches mismatch: %+v != %+v", got, want)
	}
}

func TestBatchesReachesMaxBlock(t *testing.T) {
	got, err := BlockRange{From: math.MaxUint64 - 2, To: math.MaxUint64}.Batches(2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].To != math.MaxUint64 {
		t.Fatalf("unexpected batches near max block: %+v", got)
	}
}

func TestBatchesInvalid(t *testing.T) {
	if _, err := (BlockRange{From: 10, To: 9}).Batches(1); err == nil {
		t.Fatalf("expected error for inverted range")
	}
	if _, err := (BlockRange{From: 1, To: 10}).Batches(0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestLookback(t *testing.T) {
	if got := Lookback(20_000, 14_400); got != (BlockRange{From: 5_600, To: 20_000}) {
		t.Fatalf("unexpected window: %+v", got)
	}
	if got := Lookback(100, 14_400); got != (BlockRange{From: 0, To: 100}) {
		t.Fatalf("window should clamp at genesis: %+v", got)
	}
}

func TestAfter(t *testing.T) {
	r := BlockRange{From: 100, To: 200}
	if got := r.After(150); got.From != 151 || got.To != 200 {
		t.Fatalf("unexpected remainder: %+v", got)
	}
	if got := r.After(50); got != r {
		t.Fatalf("block below range should not move it: %+v", got)
	}
	if got := r.After(200); got.Len() != 0 {
		t.Fatalf("range should be exhausted: %+v", got)
	}
}
