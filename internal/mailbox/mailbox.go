// Package mailbox is the mail-transport boundary used by the trigger scheduler.
//
// The scheduler only needs a handful of operations on one selected mailbox:
// count, list unseen, fetch overview/body/structure, flag for deletion and
// close with expunge. Mailbox captures exactly that; IMAP implements it.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrConnection is matched by every *ConnectionError.
var ErrConnection = errors.New("can't connect to mail server")

// ConnectionError reports that an account's mailbox could not be opened.
type ConnectionError struct {
	Account string
	Server  string
	Err     error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (account %s)", ErrConnection, e.Account)
	}
	return fmt.Sprintf("%s (account %s): %v", ErrConnection, e.Account, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// Account is how to reach one mailbox.
type Account struct {
	Server   string `json:"server"`
	User     string `json:"user"`
	Password string `json:"password"`
	Mailbox  string `json:"mailbox"`
	TLS      bool   `json:"tls"`
	// Timeout bounds each network command. Zero means 30s.
	Timeout time.Duration `json:"-"`
}

func (a Account) MailboxName() string {
	if a.Mailbox == "" {
		return "INBOX"
	}
	return a.Mailbox
}

// Overview is the message summary matched against trigger patterns.
type Overview struct {
	Seq       uint32    `json:"seq"`
	From      string    `json:"from"`
	Subject   string    `json:"subject"`
	Date      time.Time `json:"date"`
	MessageID string    `json:"message_id,omitempty"`
}

func (o Overview) String() string { return o.Subject }

// Structure is the MIME structure of a message.
type Structure struct {
	Type     string            `json:"type"`
	Subtype  string            `json:"subtype"`
	Params   map[string]string `json:"params,omitempty"`
	Encoding string            `json:"encoding,omitempty"`
	Size     uint32            `json:"size"`
	Parts    []Structure       `json:"parts,omitempty"`
}

func (s Structure) String() string { return s.Type + "/" + s.Subtype }

// Mailbox is one opened, selected mailbox. Sequence numbers stay valid until
// Close; deletions are applied by Close with expunge.
type Mailbox interface {
	Count(ctx context.Context) (int, error)
	SearchUnseen(ctx context.Context) ([]uint32, error)
	Overview(ctx context.Context, seq uint32) (Overview, error)
	Body(ctx context.Context, seq uint32) (string, error)
	Structure(ctx context.Context, seq uint32) (Structure, error)
	Delete(ctx context.Context, seq uint32) error
	Close(ctx context.Context, expunge bool) error
}

// Dialer opens the mailbox of a named account.
type Dialer interface {
	Dial(ctx context.Context, name string, acc Account) (Mailbox, error)
}

type DialFunc func(ctx context.Context, name string, acc Account) (Mailbox, error)

func (f DialFunc) Dial(ctx context.Context, name string, acc Account) (Mailbox, error) {
	return f(ctx, name, acc)
}
