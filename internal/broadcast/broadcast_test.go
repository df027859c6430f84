package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestRedisPublisher(t *testing.T) {
	ctx := context.Background()

	mr := miniredis.RunT(t)
	cfg := model.RedisConfig{Addr: mr.Addr()}

	pub, err := NewRedisPublisher(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	t.Cleanup(func() { pub.Close() })

	subscribe := func(t *testing.T, channel string) <-chan *redis.Message {
		t.Helper()
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { client.Close() })
		sub := client.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			t.Fatalf("subscribing to %s: %v", channel, err)
		}
		t.Cleanup(func() { sub.Close() })
		return sub.Channel()
	}

	recv := func(t *testing.T, ch <-chan *redis.Message) payload {
		t.Helper()
		select {
		case m := <-ch:
			var p payload
			if err := json.Unmarshal([]byte(m.Payload), &p); err != nil {
				t.Fatalf("unmarshaling payload: %v", err)
			}
			return p
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a published event")
			return payload{}
		}
	}

	t.Run("new emails event", func(t *testing.T) {
		ch := subscribe(t, "mailsync:events:new_emails")

		ev := model.Event{
			Kind:      model.EventNewEmails,
			AccountID: "account-1",
			Time:      time.Now(),
			Messages:  []model.Message{{ID: "m1", UID: 42, Subject: "hi"}},
		}
		if err := pub.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		p := recv(t, ch)
		if p.Kind != model.EventNewEmails {
			t.Errorf("kind = %s", p.Kind)
		}
		if p.AccountID != "account-1" {
			t.Errorf("accountId = %q", p.AccountID)
		}
		if len(p.Messages) != 1 || p.Messages[0].UID != 42 {
			t.Errorf("messages = %+v", p.Messages)
		}
	})

	t.Run("error event carries the error text", func(t *testing.T) {
		ch := subscribe(t, "mailsync:events:sync_error")

		ev := model.Event{
			Kind:      model.EventSyncError,
			AccountID: "account-1",
			Time:      time.Now(),
			Err:       errors.New("connection refused"),
		}
		if err := pub.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish: %v", err)
		}

		p := recv(t, ch)
		if p.Error != "connection refused" {
			t.Errorf("error = %q", p.Error)
		}
	})

	t.Run("publish without subscribers succeeds", func(t *testing.T) {
		ev := model.Event{Kind: model.EventConnected, AccountID: "account-2", Time: time.Now()}
		if err := pub.Publish(ctx, ev); err != nil {
			t.Errorf("Publish: %v", err)
		}
	})
}

func TestNopPublisher(t *testing.T) {
	var pub Publisher = NopPublisher{}
	if err := pub.Publish(context.Background(), model.Event{Kind: model.EventConnected}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestNewRedisPublisherUnreachable(t *testing.T) {
	_, err := NewRedisPublisher(
		context.Background(),
		model.RedisConfig{Addr: "127.0.0.1:1"},
		quietLogger(),
	)
	if err == nil {
		t.Fatal("expected a connection error")
	}
}
