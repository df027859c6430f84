package model

import "time"

// Message is the canonical representation of one mail item, produced by
// the parser from a raw protocol payload. A Message always carries both
// a generated ID and the server-assigned UID; payloads lacking a UID are
// dropped before a Message is ever constructed.
type Message struct {
	// ID is the generated identifier, assigned at parse time.
	ID string `json:"id" db:"id"`

	// UID is the server-assigned unique identifier within the mailbox.
	UID uint32 `json:"uid" db:"uid"`

	// AccountID identifies the owning account.
	AccountID string `json:"accountId" db:"account_id"`

	From    string   `json:"from" db:"from_addr"`
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject" db:"subject"`

	// Text is the plain-text body. Empty when the body failed to decode.
	Text string `json:"text" db:"text_body"`

	// HTML is the rendered body, when the message carried one.
	HTML string `json:"html,omitempty" db:"html_body"`

	Attachments []Attachment `json:"attachments,omitempty"`

	Date   time.Time `json:"date" db:"date"`
	Folder string    `json:"folder" db:"folder"`

	// Flags preserves the server's protocol flags verbatim.
	Flags []string `json:"flags"`

	// ThreadID correlates messages in a conversation, when known.
	ThreadID string `json:"threadId,omitempty" db:"thread_id"`

	IsRead    bool `json:"isRead" db:"is_read"`
	IsStarred bool `json:"isStarred" db:"is_starred"`
}

// Attachment is one attachment of a Message. Attachments are addressed
// by position within their message, not individually.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Content     []byte `json:"-"`
}
