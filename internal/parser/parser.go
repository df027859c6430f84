// Package parser converts raw protocol payloads into canonical Message
// records. Parsing is stateless and tolerant: a body that fails to
// decode yields an empty text body, attachments get placeholder
// metadata when theirs is missing, and only a payload without a server
// UID is rejected outright.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/nhle/mailsync/internal/model"
)

// ErrMissingUID reports a payload that reached the parser without a
// server-assigned unique identifier. Such payloads never become
// Messages; the caller drops and logs them.
var ErrMissingUID = errors.New("parser: payload has no server uid")

// ParseError describes a payload that could not become a valid Message.
type ParseError struct {
	AccountID string
	UID       uint32
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing message uid %d for %s: %v", e.UID, e.AccountID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Input is one raw message payload as retrieved from the server.
type Input struct {
	AccountID string
	Folder    string
	UID       imap.UID
	Envelope  *imap.Envelope
	Flags     []imap.Flag
	Body      []byte
	// Date is the server's internal date, used when the envelope
	// carries none.
	Date time.Time
}

// Parse builds a canonical Message from a raw payload. The generated
// identifier is assigned here and is stable for the lifetime of the
// fetch. A zero UID fails with ErrMissingUID wrapped in a ParseError.
func Parse(in Input) (*model.Message, error) {
	if in.UID == 0 {
		return nil, &ParseError{AccountID: in.AccountID, Err: ErrMissingUID}
	}

	msg := &model.Message{
		ID:        uuid.New().String(),
		UID:       uint32(in.UID),
		AccountID: in.AccountID,
		Folder:    in.Folder,
		Date:      in.Date,
	}

	for _, flag := range in.Flags {
		msg.Flags = append(msg.Flags, string(flag))
		switch flag {
		case imap.FlagSeen:
			msg.IsRead = true
		case imap.FlagFlagged:
			msg.IsStarred = true
		}
	}

	if env := in.Envelope; env != nil {
		msg.Subject = env.Subject
		msg.ThreadID = env.MessageID
		if !env.Date.IsZero() {
			msg.Date = env.Date
		}
		if len(env.From) > 0 {
			msg.From = formatAddress(env.From[0])
		}
		msg.To = addressList(env.To)
		msg.Cc = addressList(env.Cc)
		msg.Bcc = addressList(env.Bcc)
	}

	text, html, attachments := parseBody(in.Body)
	msg.Text = text
	msg.HTML = html
	msg.Attachments = attachments

	return msg, nil
}

// formatAddress renders an address as "Name <addr>" when a display name
// is present, bare addr otherwise.
func formatAddress(a imap.Address) string {
	if a.Name != "" {
		return fmt.Sprintf("%s <%s>", a.Name, a.Addr())
	}
	return a.Addr()
}

func addressList(addrs []imap.Address) []string {
	if len(addrs) == 0 {
		return nil
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Addr())
	}
	return out
}

// parseBody walks the MIME structure of a raw RFC 822 body using
// go-message and extracts the text body, the HTML body and all
// attachments. A body that cannot be decoded at all yields empty
// bodies rather than an error; the message is still emitted.
func parseBody(raw []byte) (textBody, htmlBody string, attachments []model.Attachment) {
	if len(raw) == 0 {
		return "", "", nil
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Not parseable as MIME. If it looks like headerless plain
		// text, keep it; otherwise give up on the body only.
		if !bytes.Contains(raw, []byte{0}) && isProbablyText(raw) {
			return string(raw), "", nil
		}
		return "", "", nil
	}
	defer mr.Close()

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := h.ContentType()
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			switch {
			case strings.HasPrefix(contentType, "text/plain"):
				textBody = string(body)
			case strings.HasPrefix(contentType, "text/html"):
				htmlBody = string(body)
			}

		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			if filename == "" {
				filename = "unnamed"
			}
			contentType, _, _ := h.ContentType()
			if contentType == "" {
				contentType = "application/octet-stream"
			}
			body, readErr := io.ReadAll(part.Body)
			if readErr != nil {
				continue
			}
			attachments = append(attachments, model.Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        int64(len(body)),
				Content:     body,
			})
		}
	}

	return textBody, htmlBody, attachments
}

// isProbablyText reports whether raw looks like printable text rather
// than a binary blob.
func isProbablyText(raw []byte) bool {
	sample := raw
	if len(sample) > 512 {
		sample = sample[:512]
	}
	printable := 0
	for _, b := range sample {
		if b == '\n' || b == '\r' || b == '\t' || (b >= 0x20 && b < 0x7f) || b >= 0x80 {
			printable++
		}
	}
	return printable*10 >= len(sample)*9
}
