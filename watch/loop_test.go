/*
 * MailTriage - Copyright (C) 2022 Zane van Iperen.
 *    Contact: zane@zanevaniperen.com
 *
 * This program is free software; you can redistribute it and/or modify
 * it under the terms of the GNU General Public License version 2, and only
 * version 2 as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program; if not, write to the Free Software
 * Foundation, Inc., 59 Temple Place, Suite 330, Boston, MA  02111-1307  USA
 */

package watch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs49688/mailtriage/retry"
)

// idleSource fails its first `failures` sessions with the given error,
// then announces itself and forwards whatever is pushed into mail.
type idleSource struct {
	failures int
	failWith error
	mail     chan int

	mu       sync.Mutex
	sessions int
}

func (s *idleSource) SupportsIdle() bool { return true }

func (s *idleSource) Idle(ctx context.Context, folder string, events chan<- Event) error {
	s.mu.Lock()
	s.sessions++
	n := s.sessions
	s.mu.Unlock()

	if n <= s.failures {
		return s.failWith
	}

	events <- Event{Kind: EventReady}
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-s.mail:
			events <- Event{Kind: EventNewMail, Count: c}
		}
	}
}

func (s *idleSource) Poll(ctx context.Context, folder string) (int, error) {
	return 0, errors.New("not polling")
}

type pollSource struct {
	mu      sync.Mutex
	results []int
	errs    []error
	calls   int
}

func (s *pollSource) SupportsIdle() bool { return false }

func (s *pollSource) Idle(ctx context.Context, folder string, events chan<- Event) error {
	return errors.New("not idling")
}

func (s *pollSource) Poll(ctx context.Context, folder string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return 0, s.errs[i]
	}
	if i < len(s.results) {
		return s.results[i], nil
	}
	return 0, nil
}

func fastBackoff() retry.Backoff {
	return retry.Backoff{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestIdleDispatchAndReconnect(t *testing.T) {
	log.SetLevel(log.TraceLevel)

	src := &idleSource{
		failures: 2,
		failWith: retry.WithCode(retry.CodeConnRefused, errors.New("refused")),
		mail:     make(chan int),
	}

	var got atomic.Int32
	var disconnects, reconnects atomic.Int32
	l := New(&Config{
		Key:          Key{Account: "acct", Folder: "INBOX"},
		Source:       src,
		Handler:      func(count int) { got.Add(int32(count)) },
		Backoff:      fastBackoff(),
		OnDisconnect: func(error) { disconnects.Add(1) },
		OnReconnect:  func() { reconnects.Add(1) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	assert.Eventually(t, func() bool { return l.State() == StateIdling }, time.Second, time.Millisecond)
	src.mail <- 3

	assert.Eventually(t, func() bool { return got.Load() == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), disconnects.Load())
	assert.Equal(t, int32(1), reconnects.Load())

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, StateStopped, l.State())
}

func TestIdleFatalError(t *testing.T) {
	authErr := errors.New("authentication failed")
	src := &idleSource{failures: 1, failWith: authErr}

	l := New(&Config{
		Key:     Key{Account: "acct", Folder: "INBOX"},
		Source:  src,
		Handler: func(int) { t.Error("unexpected dispatch") },
		Backoff: fastBackoff(),
	})

	err := l.Run(context.Background())
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, StateStopped, l.State())
	assert.Equal(t, 1, src.sessions)
}

func TestPollDispatch(t *testing.T) {
	src := &pollSource{
		results: []int{0, 0, 2},
		errs:    []error{nil, retry.WithCode(retry.CodeTimedOut, errors.New("slow"))},
	}

	var got atomic.Int32
	l := New(&Config{
		Key:          Key{Account: "acct", Folder: "INBOX"},
		Source:       src,
		Handler:      func(count int) { got.Add(int32(count)) },
		PollInterval: 5 * time.Millisecond,
		Backoff:      fastBackoff(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	assert.Eventually(t, func() bool { return got.Load() == 2 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return l.State() == StatePolling }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestStopWhileIdle(t *testing.T) {
	src := &idleSource{mail: make(chan int)}
	l := New(&Config{
		Key:     Key{Account: "acct", Folder: "INBOX"},
		Source:  src,
		Handler: func(int) {},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	assert.Eventually(t, func() bool { return l.State() == StateIdling }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "work:INBOX", Key{Account: "work", Folder: "INBOX"}.String())
}
