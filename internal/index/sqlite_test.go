package index_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nhle/mailsync/internal/index"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/tests/testutil"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()

	t.Run("index and get round trip", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		msg := testutil.NewTestMessage(t, "account-1", 42)
		msg.Cc = []string{"cc@example.com"}
		msg.Attachments = []model.Attachment{
			{Filename: "report.pdf", ContentType: "application/pdf", Size: 1024},
		}

		if err := s.Index(ctx, []model.Message{msg}); err != nil {
			t.Fatalf("Index: %v", err)
		}

		got, err := s.Get(ctx, msg.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Subject != msg.Subject {
			t.Errorf("Subject = %q, want %q", got.Subject, msg.Subject)
		}
		if got.UID != 42 || got.AccountID != "account-1" {
			t.Errorf("identity = uid %d account %q", got.UID, got.AccountID)
		}
		if len(got.Cc) != 1 || got.Cc[0] != "cc@example.com" {
			t.Errorf("Cc = %v", got.Cc)
		}
		if len(got.Attachments) != 1 || got.Attachments[0].Filename != "report.pdf" {
			t.Errorf("Attachments = %+v", got.Attachments)
		}
		if !got.IsRead {
			t.Error("IsRead should survive the round trip")
		}
		if !got.Date.Equal(msg.Date) {
			t.Errorf("Date = %v, want %v", got.Date, msg.Date)
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.Index(ctx, nil); err != nil {
			t.Fatalf("Index(nil): %v", err)
		}
	})

	t.Run("refetched message replaces the old row", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		first := testutil.NewTestMessage(t, "account-1", 7)
		if err := s.Index(ctx, []model.Message{first}); err != nil {
			t.Fatalf("Index: %v", err)
		}

		// Same account/folder/UID fetched again after a reconnect gets
		// a fresh generated ID.
		second := testutil.NewTestMessage(t, "account-1", 7)
		second.Subject = "updated subject"
		if err := s.Index(ctx, []model.Message{second}); err != nil {
			t.Fatalf("reindex: %v", err)
		}

		msgs, err := s.Search(ctx, index.SearchFilter{AccountID: "account-1"})
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(msgs) != 1 {
			t.Fatalf("got %d messages, want the replacement only", len(msgs))
		}
		if msgs[0].Subject != "updated subject" {
			t.Errorf("Subject = %q", msgs[0].Subject)
		}
	})

	t.Run("search filters", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		batch := []model.Message{
			testutil.NewTestMessage(t, "account-1", 1),
			testutil.NewTestMessage(t, "account-1", 2),
			testutil.NewTestMessage(t, "account-2", 3),
		}
		batch[0].Subject = "invoice for July"
		if err := s.Index(ctx, batch); err != nil {
			t.Fatalf("Index: %v", err)
		}

		t.Run("by account", func(t *testing.T) {
			msgs, err := s.Search(ctx, index.SearchFilter{AccountID: "account-1"})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(msgs) != 2 {
				t.Errorf("got %d messages, want 2", len(msgs))
			}
		})

		t.Run("by query", func(t *testing.T) {
			msgs, err := s.Search(ctx, index.SearchFilter{Query: "invoice"})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(msgs) != 1 || msgs[0].UID != 1 {
				t.Errorf("got %+v, want the invoice message", msgs)
			}
		})

		t.Run("newest first with limit and offset", func(t *testing.T) {
			page1, err := s.Search(ctx, index.SearchFilter{Limit: 2})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(page1) != 2 || page1[0].UID != 3 {
				t.Errorf("page1 = %v", uids(page1))
			}

			page2, err := s.Search(ctx, index.SearchFilter{Limit: 2, Offset: 2})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(page2) != 1 || page2[0].UID != 1 {
				t.Errorf("page2 = %v", uids(page2))
			}
		})

		t.Run("no matches", func(t *testing.T) {
			msgs, err := s.Search(ctx, index.SearchFilter{Query: "zzz-no-such"})
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(msgs) != 0 {
				t.Errorf("got %d messages, want none", len(msgs))
			}
		})
	})

	t.Run("partial update", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		msg := testutil.NewTestMessage(t, "account-1", 5)
		if err := s.Index(ctx, []model.Message{msg}); err != nil {
			t.Fatalf("Index: %v", err)
		}

		starred := true
		if err := s.Update(ctx, msg.ID, index.UpdateFields{IsStarred: &starred}); err != nil {
			t.Fatalf("Update: %v", err)
		}

		got, err := s.Get(ctx, msg.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.IsStarred {
			t.Error("IsStarred should be true after update")
		}
		// Untouched fields keep their stored values.
		if !got.IsRead {
			t.Error("IsRead should be unchanged by a starred-only update")
		}
		if got.Subject != msg.Subject {
			t.Errorf("Subject = %q, want unchanged %q", got.Subject, msg.Subject)
		}

		folder := "Archive"
		if err := s.Update(ctx, msg.ID, index.UpdateFields{Folder: &folder, Flags: []string{"\\Seen", "\\Answered"}}); err != nil {
			t.Fatalf("Update: %v", err)
		}
		got, err = s.Get(ctx, msg.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Folder != "Archive" {
			t.Errorf("Folder = %q, want Archive", got.Folder)
		}
		if len(got.Flags) != 2 {
			t.Errorf("Flags = %v, want the replacement set", got.Flags)
		}

		if err := s.Update(ctx, "no-such-id", index.UpdateFields{IsStarred: &starred}); !errors.Is(err, index.ErrNotFound) {
			t.Errorf("updating an unknown message: %v, want ErrNotFound", err)
		}
		// An empty update still reports unknown IDs.
		if err := s.Update(ctx, "no-such-id", index.UpdateFields{}); !errors.Is(err, index.ErrNotFound) {
			t.Errorf("empty update of an unknown message: %v, want ErrNotFound", err)
		}
		if err := s.Update(ctx, msg.ID, index.UpdateFields{}); err != nil {
			t.Errorf("empty update of a known message: %v", err)
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		batch := []model.Message{
			testutil.NewTestMessage(t, "account-1", 1),
			testutil.NewTestMessage(t, "account-1", 2),
			testutil.NewTestMessage(t, "account-2", 3),
		}
		if err := s.Index(ctx, batch); err != nil {
			t.Fatalf("Index: %v", err)
		}

		stats, err := s.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.Total != 3 {
			t.Errorf("Total = %d, want 3", stats.Total)
		}
		if stats.ByAccount["account-1"] != 2 || stats.ByAccount["account-2"] != 1 {
			t.Errorf("ByAccount = %v", stats.ByAccount)
		}

		empty := testutil.NewTestStore(t)
		stats, err = empty.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats on empty store: %v", err)
		}
		if stats.Total != 0 || len(stats.ByAccount) != 0 {
			t.Errorf("empty store stats = %+v", stats)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := testutil.NewTestStore(t)

		msg := testutil.NewTestMessage(t, "account-1", 9)
		if err := s.Index(ctx, []model.Message{msg}); err != nil {
			t.Fatalf("Index: %v", err)
		}
		if err := s.Delete(ctx, msg.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, msg.ID); !errors.Is(err, index.ErrNotFound) {
			t.Errorf("Get after delete: %v, want ErrNotFound", err)
		}
		// Unknown IDs are not an error.
		if err := s.Delete(ctx, "no-such-id"); err != nil {
			t.Errorf("Delete unknown: %v", err)
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := testutil.NewTestStore(t)
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

func uids(msgs []model.Message) []uint32 {
	out := make([]uint32, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.UID)
	}
	return out
}
