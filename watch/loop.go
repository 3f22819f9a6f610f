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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/retry"
)

var errSessionEnded = errors.New("idle session ended unexpectedly")

func New(cfg *Config) *Loop {
	ourCfg := *cfg
	if ourCfg.PollInterval <= 0 {
		ourCfg.PollInterval = time.Minute
	}

	if ourCfg.Log == nil {
		ourCfg.Log = log.NewEntry(log.StandardLogger())
	}
	ourCfg.Log = ourCfg.Log.WithField("folder", ourCfg.Key.Folder)

	l := &Loop{cfg: ourCfg}
	l.state.Store(int32(StateStarting))
	return l
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	if old := State(l.state.Swap(int32(s))); old != s {
		l.cfg.Log.WithFields(log.Fields{"from": old, "to": s}).Trace("watch_state_change")
	}
}

// Run watches the folder until ctx is cancelled, returning nil, or a
// non-transient error ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.setState(StateStopped)
	l.setState(StateStarting)

	var err error
	if l.cfg.Source.SupportsIdle() {
		l.cfg.Log.Info("watch_mode_idle")
		err = l.runIdle(ctx)
	} else {
		l.cfg.Log.WithField("interval", l.cfg.PollInterval).Info("watch_mode_poll")
		err = l.runPoll(ctx)
	}

	if ctx.Err() != nil {
		l.cfg.Log.Trace("watch_stopped")
		return nil
	}

	if err != nil {
		l.cfg.Log.WithError(err).Error("watch_failed")
	}
	return err
}

func (l *Loop) dispatch(count int, resume State) {
	l.setState(StateAwaitingProcess)
	l.cfg.Log.WithField("count", count).Debug("watch_new_mail")
	l.cfg.Handler(count)
	l.setState(resume)
}

func (l *Loop) sessionFailed(failed *bool, err error) {
	if !*failed {
		*failed = true
		if l.cfg.OnDisconnect != nil {
			l.cfg.OnDisconnect(err)
		}
	}
}

func (l *Loop) sessionRecovered(failed *bool) {
	if *failed {
		*failed = false
		l.cfg.Log.Info("watch_reconnected")
		if l.cfg.OnReconnect != nil {
			l.cfg.OnReconnect()
		}
	}
}

func (l *Loop) backoff() retry.Backoff {
	b := l.cfg.Backoff
	b.OnRetry = func(err error, attempt int, delay time.Duration) {
		l.cfg.Log.WithError(err).WithFields(log.Fields{
			"attempt":   attempt,
			"new_delay": delay,
			"code":      retry.ErrorCode(err),
		}).Warn("watch_session_interrupted")
	}
	return b
}

func (l *Loop) runIdle(ctx context.Context) error {
	events := make(chan Event, 16)
	failed := false

	return retry.Indefinitely(ctx, l.backoff(), func() error {
		sessCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		errCh := make(chan error, 1)
		go func() { errCh <- l.cfg.Source.Idle(sessCtx, l.cfg.Key.Folder, events) }()

		for {
			select {
			case ev := <-events:
				switch ev.Kind {
				case EventReady:
					l.setState(StateIdling)
					l.sessionRecovered(&failed)
				case EventNewMail:
					if ev.Count > 0 {
						l.dispatch(ev.Count, StateIdling)
					}
				}
			case err := <-errCh:
				if ctx.Err() != nil {
					return nil
				}

				if err == nil {
					err = retry.WithCode(retry.CodeConnReset, errSessionEnded)
				}

				l.sessionFailed(&failed, err)
				return err
			}
		}
	})
}

func (l *Loop) runPoll(ctx context.Context) error {
	failed := false
	poll := func() error {
		return retry.Indefinitely(ctx, l.backoff(), func() error {
			n, err := l.cfg.Source.Poll(ctx, l.cfg.Key.Folder)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}

				l.sessionFailed(&failed, err)
				return err
			}

			l.sessionRecovered(&failed)
			if n > 0 {
				l.dispatch(n, StatePolling)
			}
			return nil
		})
	}

	l.setState(StatePolling)
	if err := poll(); err != nil {
		return err
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := poll(); err != nil {
				return err
			}
		}
	}
}
