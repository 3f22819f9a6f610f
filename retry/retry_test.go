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

package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordSleeps(t *testing.T) *[]time.Duration {
	var delays []time.Duration
	old := sleep
	sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleep = old })
	return &delays
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond, BackoffMultiplier: 2}, func() error {
		calls++
		if calls < 3 {
			return errors.New("nope")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *delays)
}

func TestDoExhausted(t *testing.T) {
	delays := recordSleeps(t)

	last := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 3, BaseDelay: 100 * time.Millisecond}, func() error {
		calls++
		return last
	})

	var re *RetryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 3, re.Attempts)
	assert.Same(t, last, re.LastError)
	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
	assert.Len(t, *delays, 2)
}

func TestDoRetryIfRejects(t *testing.T) {
	delays := recordSleeps(t)

	fatal := errors.New("fatal")
	calls := 0
	err := Do(context.Background(), Policy{RetryIf: func(err error) bool { return false }}, func() error {
		calls++
		return fatal
	})

	assert.Same(t, fatal, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestDoCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour}, func() error {
		calls++
		return errors.New("x")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestPolicyDelayCapped(t *testing.T) {
	p := Policy{BaseDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiplier: 2}
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 5*time.Second, p.Delay(4))

	unbounded := DefaultPolicy()
	assert.Equal(t, time.Duration(math.MaxInt64), unbounded.Delay(1000))
}

func TestIndefinitelyTransient(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	err := Indefinitely(context.Background(), Backoff{BaseDelay: time.Second, MaxDelay: 30 * time.Second}, func() error {
		calls++
		if calls <= 5 {
			return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 6, calls)
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, *delays)
}

func TestIndefinitelyCapsDelay(t *testing.T) {
	delays := recordSleeps(t)

	calls := 0
	_ = Indefinitely(context.Background(), DefaultBackoff(), func() error {
		calls++
		if calls <= 7 {
			return WithCode(CodeConnReset, errors.New("hangup"))
		}
		return nil
	})

	require.Len(t, *delays, 7)
	assert.Equal(t, 30*time.Second, (*delays)[5])
	assert.Equal(t, 30*time.Second, (*delays)[6])
}

func TestIndefinitelyNonTransient(t *testing.T) {
	delays := recordSleeps(t)

	auth := errors.New("authentication failed")
	calls := 0
	err := Indefinitely(context.Background(), DefaultBackoff(), func() error {
		calls++
		return auth
	})

	assert.Same(t, auth, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *delays)
}

func TestIndefinitelyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Indefinitely(ctx, Backoff{BaseDelay: time.Hour}, func() error {
		calls++
		cancel()
		return WithCode(CodeTimedOut, nil)
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		code Code
	}{
		{nil, CodeNone},
		{errors.New("plain"), CodeNone},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), CodeConnRefused},
		{&net.OpError{Op: "read", Err: syscall.ECONNRESET}, CodeConnReset},
		{syscall.ETIMEDOUT, CodeTimedOut},
		{&net.DNSError{Name: "imap.invalid", IsNotFound: true}, CodeNotFound},
		{&net.DNSError{Name: "imap.example.com", IsTemporary: true}, CodeTryAgain},
		{fmt.Errorf("idle: %w", WithCode(CodeConnReset, errors.New("eof"))), CodeConnReset},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err), "%v", tt.err)
	}
}
