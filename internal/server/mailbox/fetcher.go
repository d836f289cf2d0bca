package mailbox

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/mailvault/internal/common"
)

// SourceFetcher serves full item sources to the processor over its own
// session, opened lazily and reopened after a drop. Fetches are serialized
// so reads on the connection never interleave.
type SourceFetcher struct {
	dialer Dialer
	mu     sync.Mutex
	sess   Session
}

func NewSourceFetcher(dialer Dialer) *SourceFetcher {
	return &SourceFetcher{dialer: dialer}
}

func (f *SourceFetcher) session(ctx context.Context) (Session, error) {
	if f.sess != nil {
		select {
		case <-f.sess.Done():
			_ = f.sess.Close()
			f.sess = nil
		default:
			return f.sess, nil
		}
	}

	s, err := f.dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	f.sess = s
	return s, nil
}

func (f *SourceFetcher) FetchSource(ctx context.Context, uid uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, err := f.session(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := s.FetchSource(ctx, uid)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			_ = s.Close()
			f.sess = nil
		}
		return nil, err
	}
	return raw, nil
}

func (f *SourceFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.sess == nil {
		return nil
	}
	err := f.sess.Close()
	f.sess = nil
	return err
}
