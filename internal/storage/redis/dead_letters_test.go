package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"feedKeeper/internal/model"
)

func TestNewDeadLetterListDefaults(t *testing.T) {
	list, err := NewDeadLetterList(Config{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()

	if list.key != defaultKey {
		t.Fatalf("expected key %q, got %q", defaultKey, list.key)
	}
	if list.logger == nil || list.client == nil {
		t.Fatalf("expected client and logger to be set")
	}
}

func TestNewDeadLetterListRequiresAddr(t *testing.T) {
	if _, err := NewDeadLetterList(Config{}, nil); err == nil {
		t.Fatalf("expected error without address")
	}
}

func TestDeadLetterListRecord(t *testing.T) {
	mr := miniredis.RunT(t)
	list, err := NewDeadLetterList(Config{Addr: mr.Addr(), Key: "test:dead"}, zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()

	ctx := context.Background()
	if err := list.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}

	pool := common.HexToHash("0xabc")
	for seq := uint32(5); seq <= 6; seq++ {
		letter := model.DeadLetter{
			Request:       model.WorkRequest{TargetID: 137, PoolID: pool, Sequence: seq, Attempt: 3},
			FinalAttempts: 3,
			Reason:        "retry exhausted",
			RecordedAt:    time.Unix(1700000000, 0).UTC(),
		}
		if err := list.Record(ctx, letter); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	n, err := list.Len(ctx)
	if err != nil || n != 2 {
		t.Fatalf("expected 2 letters, got %d (err=%v)", n, err)
	}

	items, err := mr.List("test:dead")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var first model.DeadLetter
	if err := json.Unmarshal([]byte(items[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Request.Sequence != 5 || first.Request.PoolID != pool || first.FinalAttempts != 3 {
		t.Fatalf("letters should be kept in arrival order, got %+v", first)
	}
}

func TestDeadLetterListRecordFailsWhenServerDown(t *testing.T) {
	mr := miniredis.RunT(t)
	list, err := NewDeadLetterList(Config{Addr: mr.Addr()}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer list.Close()
	mr.Close()

	if err := list.Record(context.Background(), model.DeadLetter{}); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}
