package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"feedKeeper/internal/model"
)

func TestJsonlStorageRecordAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dead_letters.jsonl")
	store := NewJsonlStorage(path)

	pool := common.HexToHash("0xabc")
	for seq := uint32(1); seq <= 2; seq++ {
		letter := model.DeadLetter{
			Request:       model.WorkRequest{TargetID: 10, PoolID: pool, Sequence: seq, Attempt: 3},
			FinalAttempts: 3,
			Reason:        "retry exhausted",
			RecordedAt:    time.Unix(1700000000, 0).UTC(),
		}
		if err := store.Record(context.Background(), letter); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer file.Close()

	var got []model.DeadLetter
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var letter model.DeadLetter
		if err := json.Unmarshal(scanner.Bytes(), &letter); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		got = append(got, letter)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(got))
	}
	if got[1].Request.Sequence != 2 || got[1].Request.PoolID != pool || got[1].FinalAttempts != 3 {
		t.Fatalf("unexpected record: %+v", got[1])
	}
}

func TestJsonlStorageSkipsEmptyBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "observations.jsonl")
	store := NewJsonlStorage(path)
	if err := store.PutObservations(context.Background(), nil); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no file for empty batch, got %v", err)
	}
}
