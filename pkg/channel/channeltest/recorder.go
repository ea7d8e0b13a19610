// Package channeltest provides a recording channel.Sender for tests.
package channeltest

import (
	"context"
	"sync"

	"github.com/nous-labs/arrbot/pkg/channel"
)

// Recorder records every response it is asked to send.
type Recorder struct {
	mu    sync.Mutex
	sent  []channel.Response
	err   error
	notif chan channel.Response
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{notif: make(chan channel.Response, 64)}
}

// FailWith makes subsequent sends return err. Failed sends are not recorded.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Send implements channel.Sender.
func (r *Recorder) Send(_ context.Context, resp channel.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, resp)
	select {
	case r.notif <- resp:
	default:
	}
	return nil
}

// Sent returns a copy of the recorded responses.
func (r *Recorder) Sent() []channel.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]channel.Response, len(r.sent))
	copy(out, r.sent)
	return out
}

// Next returns a channel that yields each response as it is sent.
func (r *Recorder) Next() <-chan channel.Response { return r.notif }
