package notify

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

type Kind string

const (
	KindConfirmation  Kind = "confirmation"
	KindWelcome       Kind = "welcome"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindFailure       Kind = "failure"
)

// Message is one notification captured by a Recorder.
type Message struct {
	Kind       Kind
	To         string
	Subject    string
	ArchiveRef string
	VaultID    string
	ShareKey   string
	Reason     string
	Error      string
	Attempts   int
	Usage      models.UsageSummary
}

// Recorder keeps notifications in memory instead of sending them.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
	// Err, when set, is returned by every Send call without recording.
	Err error
}

func (r *Recorder) record(m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func (r *Recorder) SendConfirmation(ctx context.Context, to, archiveRef, subject string, usage models.UsageSummary) error {
	return r.record(Message{Kind: KindConfirmation, To: to, ArchiveRef: archiveRef, Subject: subject, Usage: usage})
}

func (r *Recorder) SendWelcome(ctx context.Context, to, vaultID, shareKey string, usage models.UsageSummary) error {
	return r.record(Message{Kind: KindWelcome, To: to, VaultID: vaultID, ShareKey: shareKey, Usage: usage})
}

func (r *Recorder) SendQuotaExceeded(ctx context.Context, to, reason string, usage models.UsageSummary) error {
	return r.record(Message{Kind: KindQuotaExceeded, To: to, Reason: reason, Usage: usage})
}

func (r *Recorder) SendFailure(ctx context.Context, to, subject, errMsg string, attempts int) error {
	return r.record(Message{Kind: KindFailure, To: to, Subject: subject, Error: errMsg, Attempts: attempts})
}

// Messages returns a copy of everything recorded so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

// To returns the recorded messages addressed to addr.
func (r *Recorder) To(addr string) []Message {
	var out []Message
	for _, m := range r.Messages() {
		if m.To == addr {
			out = append(out, m)
		}
	}
	return out
}
