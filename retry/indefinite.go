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
	"time"
)

const DefaultMaxBackoff = 30 * time.Second

type Backoff struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// OnRetry, if set, is called before each wait.
	OnRetry func(err error, attempt int, delay time.Duration)
}

func DefaultBackoff() Backoff {
	return Backoff{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxBackoff,
		Multiplier: DefaultBackoffMultiplier,
	}
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.BaseDelay <= 0 {
		b.BaseDelay = def.BaseDelay
	}

	if b.MaxDelay <= 0 {
		b.MaxDelay = def.MaxDelay
	}

	if b.Multiplier <= 0 {
		b.Multiplier = def.Multiplier
	}

	return b
}

func (b Backoff) Delay(attempt int) time.Duration {
	b = b.withDefaults()
	return expDelay(b.BaseDelay, b.Multiplier, b.MaxDelay, attempt)
}

// Indefinitely calls fn until it succeeds, returns an error without a
// transient Code, or ctx is cancelled. The backoff restarts on every call.
func Indefinitely(ctx context.Context, b Backoff, fn func() error) error {
	b = b.withDefaults()

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if !IsTransient(err) {
			return err
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := b.Delay(attempt)
		if b.OnRetry != nil {
			b.OnRetry(err, attempt, delay)
		}

		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}
