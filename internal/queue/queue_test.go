package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"trafficfeed/internal/model"
)

func TestTaskRoundTripKeepsCase(t *testing.T) {
	c := model.Case{ID: "abc", Name: "downtown", CreatedDay: "2024-01-01"}
	data, err := EncodeTask(c, time.Now())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	task, err := DecodeTask(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Case != c {
		t.Fatalf("case: %+v", task.Case)
	}
	if _, err := DecodeTask([]byte(`{"case":{}}`)); err == nil {
		t.Fatalf("expected error for missing case id")
	}
}

type recordingRunner struct {
	ran []string
	err error
}

func (r *recordingRunner) RunCycle(_ context.Context, c model.Case) (*model.CycleReport, error) {
	r.ran = append(r.ran, c.ID)
	return &model.CycleReport{CaseID: c.ID}, r.err
}

func TestHandleRunsCycle(t *testing.T) {
	data, _ := EncodeTask(model.Case{ID: "abc", CreatedDay: "2024-01-01"}, time.Now())
	r := &recordingRunner{err: errors.New("boom")}
	handle(context.Background(), kafka.Message{Value: data}, r, nil)
	handle(context.Background(), kafka.Message{Value: []byte("not json")}, r, nil)
	if len(r.ran) != 1 || r.ran[0] != "abc" {
		t.Fatalf("ran: %v", r.ran)
	}
}

func TestBackoff(t *testing.T) {
	if nextBackoff(0) != 200*time.Millisecond {
		t.Fatalf("initial backoff")
	}
	if nextBackoff(20*time.Second) != 30*time.Second {
		t.Fatalf("backoff cap")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if BackoffSleep(ctx, time.Hour) {
		t.Fatalf("sleep should stop on cancel")
	}
}
