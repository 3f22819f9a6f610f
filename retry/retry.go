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
	"fmt"
	"math"
	"time"
)

const (
	DefaultMaxAttempts       = 3
	DefaultBaseDelay         = time.Second
	DefaultBackoffMultiplier = 2.0
)

// Policy bounds a retried operation. Zero fields take the defaults above,
// a zero MaxDelay leaves the delay unbounded.
type Policy struct {
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64

	// RetryIf decides whether an error is worth another attempt.
	// If nil, every error is.
	RetryIf func(err error) bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       DefaultMaxAttempts,
		BaseDelay:         DefaultBaseDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}

	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = DefaultBackoffMultiplier
	}

	return p
}

// Delay returns the wait after the given (1-based) failed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	return expDelay(p.BaseDelay, p.BackoffMultiplier, p.MaxDelay, attempt)
}

// RetryError is returned by Do once every attempt has failed.
type RetryError struct {
	Attempts  int
	LastError error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("failed after %v attempts: %v", e.Attempts, e.LastError)
}

func (e *RetryError) Unwrap() error {
	return e.LastError
}

// Do calls fn until it succeeds, the policy is exhausted, or RetryIf rejects
// an error. Cancelling ctx aborts the wait between attempts.
func Do(ctx context.Context, p Policy, fn func() error) error {
	p = p.withDefaults()

	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		if p.RetryIf != nil && !p.RetryIf(err) {
			return err
		}

		if attempt == p.MaxAttempts {
			break
		}

		if werr := sleep(ctx, p.Delay(attempt)); werr != nil {
			return werr
		}
	}

	return &RetryError{Attempts: p.MaxAttempts, LastError: err}
}

func expDelay(base time.Duration, mult float64, limit time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(math.MaxInt64)
	if d := float64(base) * math.Pow(mult, float64(attempt-1)); d < math.MaxInt64 {
		delay = time.Duration(d)
	}

	if limit > 0 && delay > limit {
		delay = limit
	}

	return delay
}

// sleep is swapped out by tests.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
