package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisJobQueue, context.Context) {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedisJobQueue(RedisQueueConfig{
		Addr:       srv.Addr(),
		Stream:     "test:generation",
		Group:      "test-group",
		Consumer:   "consumer-1",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, context.Background()
}

func TestEnqueueRecordsJobAndStreamEntry(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "bg-1", "poster-1", "Summer beach vibes")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != StatusQueued || job.BackgroundID != "bg-1" {
		t.Fatalf("unexpected job: %+v", job)
	}

	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.PosterID != "poster-1" || got.ThemeText != "Summer beach vibes" {
		t.Fatalf("job payload lost: %+v", got)
	}

	streamLen, err := q.client.XLen(ctx, q.stream).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if streamLen != 1 {
		t.Fatalf("expected one stream entry, got %d", streamLen)
	}
}

func TestEnqueueBeforeConsumerIsStillDelivered(t *testing.T) {
	q, ctx := newTestQueue(t)

	job, err := q.Enqueue(ctx, "bg-1", "", "Summer beach vibes")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// A consumer joining after the enqueue must still see the entry.
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "late-consumer",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    -1,
	}).Result()
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one pending message, got %+v", streams)
	}
	if got := streams[0].Messages[0].Values["job_id"]; got != job.ID {
		t.Fatalf("wrong job delivered: got %v want %s", got, job.ID)
	}
}

func TestEnqueueRequiresBackgroundID(t *testing.T) {
	q, ctx := newTestQueue(t)
	if _, err := q.Enqueue(ctx, "  ", "", "theme"); err == nil {
		t.Fatalf("expected error for missing background id")
	}
}

func TestMarkProcessingIncrementsAttempts(t *testing.T) {
	q, ctx := newTestQueue(t)
	job, err := q.Enqueue(ctx, "bg-1", "", "theme")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	updated, err := q.markProcessing(ctx, job.ID, map[string]any{
		"background_id": "bg-1",
		"theme_text":    "theme",
	})
	if err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if updated.Status != StatusProcessing || updated.Attempts != 1 {
		t.Fatalf("unexpected state: %+v", updated)
	}

	if err := q.markFailed(ctx, job.ID, "collaborator down"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, ok, err := q.GetJob(ctx, job.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != StatusFailed || got.ErrorMessage != "collaborator down" {
		t.Fatalf("unexpected failed state: %+v", got)
	}
}
