package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// NewTestMessage builds a message fixture for the given account and
// UID with deterministic content derived from the UID.
func NewTestMessage(t *testing.T, accountID string, uid uint32) model.Message {
	t.Helper()

	return model.Message{
		ID:        uuid.New().String(),
		UID:       uid,
		AccountID: accountID,
		Folder:    "INBOX",
		From:      fmt.Sprintf("sender%d@example.com", uid),
		To:        []string{"recipient@example.com"},
		Subject:   fmt.Sprintf("Test message %d", uid),
		Text:      fmt.Sprintf("body of message %d", uid),
		Date:      time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC).Add(time.Duration(uid) * time.Minute),
		Flags:     []string{"\\Seen"},
		ThreadID:  fmt.Sprintf("<msg-%d@example.com>", uid),
		IsRead:    true,
	}
}
