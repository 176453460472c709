package pipeline

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCheckpointRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "checkpoint.json")
	store := NewCheckpointStore(path, true, testFeed)

	if _, ok, err := store.Load(); err != nil || ok {
		t.Fatalf("missing file should load empty, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(4242); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := store.Load()
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.LastProcessedBlock != 4242 || cp.DataFeed != testFeed {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

func TestCheckpointIgnoresOtherFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := NewCheckpointStore(path, true, testFeed).Save(10); err != nil {
		t.Fatalf("save: %v", err)
	}

	other := NewCheckpointStore(path, true, common.HexToAddress("0x00000000000000000000000000000000000000ff"))
	if _, ok, err := other.Load(); err != nil || ok {
		t.Fatalf("checkpoint of another feed should be ignored, got ok=%v err=%v", ok, err)
	}
}

func TestCheckpointDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, false, testFeed)
	if err := store.Save(10); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, _ := NewCheckpointStore(path, true, testFeed).Load(); ok {
		t.Fatalf("disabled store should not write")
	}
}
