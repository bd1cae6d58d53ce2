package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"

	"actionrunner/pkg/logx"
)

const defaultTimeout = 30 * time.Second

// IMAP dials accounts over IMAP (implicit TLS when Account.TLS is set).
type IMAP struct {
	Log logx.Logger
}

func (d IMAP) Dial(ctx context.Context, name string, acc Account) (Mailbox, error) {
	fail := func(err error) error {
		return &ConnectionError{Account: name, Server: acc.Server, Err: err}
	}
	if strings.TrimSpace(acc.Server) == "" {
		return nil, fail(errors.New("server is empty"))
	}

	timeout := acc.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	dialer := &net.Dialer{Timeout: timeout}
	if dl, ok := ctx.Deadline(); ok {
		dialer.Deadline = dl
	}

	var (
		c   *client.Client
		err error
	)
	if acc.TLS {
		host, _, _ := net.SplitHostPort(acc.Server)
		c, err = client.DialWithDialerTLS(dialer, acc.Server, &tls.Config{ServerName: host})
	} else {
		c, err = client.DialWithDialer(dialer, acc.Server)
	}
	if err != nil {
		return nil, fail(err)
	}
	c.Timeout = timeout

	if err := c.Login(acc.User, acc.Password); err != nil {
		_ = c.Logout()
		return nil, fail(err)
	}
	status, err := c.Select(acc.MailboxName(), false)
	if err != nil {
		_ = c.Logout()
		return nil, fail(err)
	}

	d.Log.Debug("mailbox opened",
		logx.String("account", name),
		logx.String("mailbox", status.Name),
		logx.Int("messages", int(status.Messages)),
	)
	return &imapMailbox{c: c, count: int(status.Messages)}, nil
}

type imapMailbox struct {
	c     *client.Client
	count int
}

func (m *imapMailbox) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return m.count, nil
}

func (m *imapMailbox) SearchUnseen(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	crit := imap.NewSearchCriteria()
	crit.WithoutFlags = []string{imap.SeenFlag}
	return m.c.Search(crit)
}

func (m *imapMailbox) fetch(ctx context.Context, seq uint32, items ...imap.FetchItem) (*imap.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	set := new(imap.SeqSet)
	set.AddNum(seq)

	ch := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() { done <- m.c.Fetch(set, items, ch) }()

	var msg *imap.Message
	for mm := range ch {
		if msg == nil {
			msg = mm
		}
	}
	if err := <-done; err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", seq)
	}
	return msg, nil
}

func (m *imapMailbox) Overview(ctx context.Context, seq uint32) (Overview, error) {
	msg, err := m.fetch(ctx, seq, imap.FetchEnvelope)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{Seq: seq}
	if env := msg.Envelope; env != nil {
		ov.Subject = env.Subject
		ov.Date = env.Date
		ov.MessageID = env.MessageId
		ov.From = formatAddresses(env.From)
	}
	return ov, nil
}

func (m *imapMailbox) Body(ctx context.Context, seq uint32) (string, error) {
	section := &imap.BodySectionName{}
	msg, err := m.fetch(ctx, seq, section.FetchItem())
	if err != nil {
		return "", err
	}
	lit := msg.GetBody(section)
	if lit == nil {
		return "", nil
	}
	b, err := io.ReadAll(lit)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (m *imapMailbox) Structure(ctx context.Context, seq uint32) (Structure, error) {
	msg, err := m.fetch(ctx, seq, imap.FetchBodyStructure)
	if err != nil {
		return Structure{}, err
	}
	return convertStructure(msg.BodyStructure), nil
}

func (m *imapMailbox) Delete(ctx context.Context, seq uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set := new(imap.SeqSet)
	set.AddNum(seq)
	op := imap.FormatFlagsOp(imap.AddFlags, true)
	return m.c.Store(set, op, []interface{}{imap.DeletedFlag}, nil)
}

func (m *imapMailbox) Close(_ context.Context, expunge bool) error {
	var errs []error
	if expunge {
		if err := m.c.Expunge(nil); err != nil {
			errs = append(errs, fmt.Errorf("expunge: %w", err))
		}
	}
	if err := m.c.Logout(); err != nil && !errors.Is(err, client.ErrAlreadyLoggedOut) {
		errs = append(errs, fmt.Errorf("logout: %w", err))
	}
	return errors.Join(errs...)
}

func formatAddresses(addrs []*imap.Address) string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if a == nil {
			continue
		}
		addr := a.Address()
		if a.PersonalName != "" {
			out = append(out, fmt.Sprintf("%s <%s>", a.PersonalName, addr))
		} else {
			out = append(out, addr)
		}
	}
	return strings.Join(out, ", ")
}

func convertStructure(bs *imap.BodyStructure) Structure {
	if bs == nil {
		return Structure{}
	}
	s := Structure{
		Type:     strings.ToLower(bs.MIMEType),
		Subtype:  strings.ToLower(bs.MIMESubType),
		Params:   bs.Params,
		Encoding: bs.Encoding,
		Size:     bs.Size,
	}
	for _, p := range bs.Parts {
		s.Parts = append(s.Parts, convertStructure(p))
	}
	return s
}
