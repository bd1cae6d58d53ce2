package mailbox

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/emersion/go-imap"
)

func TestConnectionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := error(&ConnectionError{Account: "main", Server: "imap:993", Err: cause})

	if !errors.Is(err, ErrConnection) {
		t.Fatalf("errors.Is(ErrConnection) = false")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped")
	}
	if !strings.Contains(err.Error(), "main") || !strings.Contains(err.Error(), "refused") {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestDialEmptyServer(t *testing.T) {
	t.Parallel()

	_, err := IMAP{}.Dial(context.Background(), "main", Account{})
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Account != "main" {
		t.Fatalf("err = %v", err)
	}
}

func TestMailboxNameDefault(t *testing.T) {
	t.Parallel()
	if got := (Account{}).MailboxName(); got != "INBOX" {
		t.Fatalf("MailboxName = %q", got)
	}
	if got := (Account{Mailbox: "Reports"}).MailboxName(); got != "Reports" {
		t.Fatalf("MailboxName = %q", got)
	}
}

func TestFormatAddresses(t *testing.T) {
	t.Parallel()

	got := formatAddresses([]*imap.Address{
		{PersonalName: "Reports Bot", MailboxName: "reports", HostName: "example.com"},
		nil,
		{MailboxName: "ops", HostName: "example.com"},
	})
	want := "Reports Bot <reports@example.com>, ops@example.com"
	if got != want {
		t.Fatalf("formatAddresses = %q, want %q", got, want)
	}
}

func TestConvertStructure(t *testing.T) {
	t.Parallel()

	got := convertStructure(&imap.BodyStructure{
		MIMEType:    "MULTIPART",
		MIMESubType: "Mixed",
		Parts: []*imap.BodyStructure{
			{MIMEType: "text", MIMESubType: "plain", Params: map[string]string{"charset": "utf-8"}, Encoding: "7bit", Size: 12},
		},
	})
	if got.String() != "multipart/mixed" || len(got.Parts) != 1 {
		t.Fatalf("structure = %+v", got)
	}
	if p := got.Parts[0]; p.String() != "text/plain" || p.Params["charset"] != "utf-8" || p.Size != 12 {
		t.Fatalf("part = %+v", p)
	}
	if convertStructure(nil).Type != "" {
		t.Fatalf("nil structure not empty")
	}
}
