// Package mailbox owns the IMAP side of the pipeline: polling the monitored
// mailbox for new items and fetching their source for the processor.
package mailbox

import (
	"context"
	"time"
)

// Envelope is the metadata fetched at poll time. The body is never loaded.
type Envelope struct {
	UID       uint32
	Sender    string
	Subject   string
	MessageID string
	Date      time.Time
}

// Session is one authenticated connection with the mailbox selected.
type Session interface {
	SearchUnseen(ctx context.Context, since time.Time) ([]uint32, error)
	FetchEnvelope(ctx context.Context, uid uint32) (*Envelope, error)
	FetchSource(ctx context.Context, uid uint32) ([]byte, error)
	MarkSeen(ctx context.Context, uid uint32) error
	// Done is closed when the server drops the connection.
	Done() <-chan struct{}
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}
