package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tckz/tally-counter/internal/events"
	"github.com/tckz/tally-counter/internal/tally"
)

func testCounter(t *testing.T, c Counter) {
	t.Helper()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 70; i++ {
		wg.Add(1)
		go func(day time.Weekday) {
			defer wg.Done()
			if _, err := c.Up(ctx, day); err != nil {
				t.Errorf("Up: %v", err)
			}
		}(time.Weekday(i % 7))
	}
	wg.Wait()

	if _, err := c.Up(ctx, time.Weekday(7)); err == nil {
		t.Error("Expected error for weekday 7")
	}

	rec, err := c.Get(ctx)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	want := tally.Record{Total: 70, Weekdays: [7]int64{10, 10, 10, 10, 10, 10, 10}}
	if rec != want {
		t.Errorf("Expected %+v, got %+v", want, rec)
	}
}

func TestLocalCounter(t *testing.T) {
	testCounter(t, &LocalCounter{})
}

func TestRedisCounter(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cl.Close()

	testCounter(t, &RedisCounter{key: "c", client: cl})

	if got, _ := mr.Get("c:total"); got != "70" {
		t.Errorf("Expected c:total=70, got %s", got)
	}
}

func TestRedisCounter_Empty(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cl.Close()

	rec, err := (&RedisCounter{key: "c", client: cl}).Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != (tally.Record{}) {
		t.Errorf("Expected zero record, got %+v", rec)
	}
}

func testMarker(t *testing.T, m ProcessMarker) {
	t.Helper()
	ctx := context.Background()

	got, err := m.Acquire(ctx, "m1")
	if err != nil || !got {
		t.Fatalf("Expected first Acquire to win, got %v, %v", got, err)
	}
	got, err = m.Acquire(ctx, "m1")
	if err != nil || got {
		t.Errorf("Expected second Acquire to lose, got %v, %v", got, err)
	}
	got, err = m.Acquire(ctx, "m2")
	if err != nil || !got {
		t.Errorf("Expected other ID to win, got %v, %v", got, err)
	}

	if err := m.Release(ctx, "m1"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	got, err = m.Acquire(ctx, "m1")
	if err != nil || !got {
		t.Errorf("Expected Acquire after Release to win, got %v, %v", got, err)
	}
}

func TestLocalMarker(t *testing.T) {
	testMarker(t, NewLocalMarker(time.Minute))
}

func TestRedisMarker(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cl.Close()

	testMarker(t, &RedisMarker{client: cl, prefix: "p:", ttl: time.Minute})

	if ttl := mr.TTL("p:m2"); ttl != time.Minute {
		t.Errorf("Expected ttl 1m, got %s", ttl)
	}
}

func TestHandler_CountsEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	srv := pstest.NewServer()
	defer srv.Close()
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.Dial: %v", err)
	}
	cl, err := pubsub.NewClient(ctx, "tally-test", option.WithGRPCConn(conn))
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer cl.Close()

	topic, err := cl.CreateTopic(ctx, "increments")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()
	sub, err := cl.CreateSubscription(ctx, "counter", pubsub.SubscriptionConfig{Topic: topic})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	days := []time.Weekday{time.Monday, time.Monday, time.Friday}
	var rec tally.Record
	for _, d := range days {
		rec, _ = rec.Inc(d)
		msg, err := events.NewEvent(d, rec, time.Now()).Message()
		if err != nil {
			t.Fatalf("Message: %v", err)
		}
		if _, err := topic.Publish(ctx, msg).Get(ctx); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	// Undecodable messages are acked and dropped.
	if _, err := topic.Publish(ctx, &pubsub.Message{Data: []byte("garbage")}).Get(ctx); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	counter := &LocalCounter{}
	handle := newHandler(counter, NewLocalMarker(time.Minute), zap.NewNop().Sugar())

	rctx, rcancel := context.WithCancel(ctx)
	defer rcancel()
	done := make(chan error, 1)
	go func() {
		done <- sub.Receive(rctx, handle)
	}()

	for {
		got, _ := counter.Get(ctx)
		if got.Total == int64(len(days)) {
			if got != rec {
				t.Errorf("Expected %+v, got %+v", rec, got)
			}
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("Timed out, counted %+v", got)
		case <-time.After(20 * time.Millisecond):
		}
	}

	rcancel()
	if err := <-done; err != nil {
		t.Errorf("Receive: %v", err)
	}
}

type flakyCounter struct {
	LocalCounter
	failures int
}

func (c *flakyCounter) Up(ctx context.Context, day time.Weekday) (int64, error) {
	if c.failures > 0 {
		c.failures--
		return 0, errors.New("redis: connection pool timeout")
	}
	return c.LocalCounter.Up(ctx, day)
}

func TestHandler_RedeliveryAfterFailedUp(t *testing.T) {
	ctx := context.Background()
	counter := &flakyCounter{failures: 1}
	handle := newHandler(counter, NewLocalMarker(time.Minute), zap.NewNop().Sugar())

	var rec tally.Record
	rec, _ = rec.Inc(time.Tuesday)
	msg, err := events.NewEvent(time.Tuesday, rec, time.Now()).Message()
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	msg.ID = "m1"

	handle(ctx, msg)
	if got, _ := counter.Get(ctx); got.Total != 0 {
		t.Fatalf("Expected nothing counted after failure, got %+v", got)
	}

	// Same message delivered again after the nack.
	handle(ctx, msg)
	if got, _ := counter.Get(ctx); got != rec {
		t.Errorf("Expected %+v after redelivery, got %+v", rec, got)
	}

	// A genuine duplicate is still dropped.
	handle(ctx, msg)
	if got, _ := counter.Get(ctx); got.Total != 1 {
		t.Errorf("Expected duplicate to be dropped, got %+v", got)
	}
}
