package mailbox

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/dmitrijs2005/mailvault/internal/common"
	"github.com/dmitrijs2005/mailvault/internal/server/config"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

type IMAPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// TLS is one of config.TLSImplicit, config.TLSStart or config.TLSNone.
	TLS     string
	Mailbox string
}

// IMAPDialer opens sessions with go-imap.
type IMAPDialer struct {
	cfg IMAPConfig
}

func NewIMAPDialer(cfg IMAPConfig) *IMAPDialer {
	return &IMAPDialer{cfg: cfg}
}

func (d *IMAPDialer) addr() string {
	return net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
}

func (d *IMAPDialer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := d.addr()

	var client *imapclient.Client
	var err error
	switch d.cfg.TLS {
	case config.TLSImplicit:
		client, err = imapclient.DialTLS(addr, nil)
	case config.TLSStart:
		client, err = imapclient.DialStartTLS(addr, nil)
	default:
		client, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(d.cfg.Username, d.cfg.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("IMAP login as %s: %w", d.cfg.Username, err)
	}

	if _, err := client.Select(d.cfg.Mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		_ = client.Close()
		return nil, fmt.Errorf("selecting %s: %w", d.cfg.Mailbox, err)
	}

	return &imapSession{client: client}, nil
}

type imapSession struct {
	client *imapclient.Client
}

func (s *imapSession) SearchUnseen(ctx context.Context, since time.Time) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{
		Since:   since,
		NotFlag: []imap.Flag{imap.FlagSeen},
	}

	data, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

func (s *imapSession) fetchOne(uid uint32, opts *imap.FetchOptions) (*imapclient.FetchMessageBuffer, error) {
	fetchCmd := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), opts)
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		if err := fetchCmd.Close(); err != nil {
			return nil, fmt.Errorf("fetching UID %d: %w", uid, err)
		}
		return nil, fmt.Errorf("message UID %d: %w", uid, common.ErrorNotFound)
	}

	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting UID %d: %w", uid, err)
	}

	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching UID %d: %w", uid, err)
	}
	return buf, nil
}

func (s *imapSession) FetchEnvelope(ctx context.Context, uid uint32) (*Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf, err := s.fetchOne(uid, &imap.FetchOptions{Envelope: true, UID: true})
	if err != nil {
		return nil, err
	}

	env := &Envelope{UID: uid}
	if buf.Envelope != nil {
		env.Subject = buf.Envelope.Subject
		env.MessageID = buf.Envelope.MessageID
		env.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			env.Sender = buf.Envelope.From[0].Addr()
		}
	}
	return env, nil
}

func (s *imapSession) FetchSource(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	section := &imap.FetchItemBodySection{Peek: true}
	buf, err := s.fetchOne(uid, &imap.FetchOptions{UID: true, BodySection: []*imap.FetchItemBodySection{section}})
	if err != nil {
		return nil, err
	}

	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, fmt.Errorf("message UID %d has no body: %w", uid, common.ErrorNotFound)
	}
	return raw, nil
}

func (s *imapSession) MarkSeen(ctx context.Context, uid uint32) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	storeCmd := s.client.Store(imap.UIDSetNum(imap.UID(uid)), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil)

	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("marking UID %d seen: %w", uid, err)
	}
	return nil
}

func (s *imapSession) Done() <-chan struct{} {
	return s.client.Closed()
}

func (s *imapSession) Close() error {
	_ = s.client.Logout().Wait()
	return s.client.Close()
}
