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

package connection

import (
	"context"
	"errors"
	"time"

	"github.com/emersion/go-imap/client"
	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/retry"
	"github.com/vs49688/mailtriage/watch"
)

const idleStopTimeout = 5 * time.Second

var errIdleLoggedOut = errors.New("server closed the idle session")

// Idle opens a dedicated session on folder and reports growth in its
// message count until ctx is cancelled.
func (c *Connection) Idle(ctx context.Context, folder string, events chan<- watch.Event) error {
	e := c.log.WithField("folder", folder)

	updates := make(chan client.Update, 16)
	cl, err := c.cfg.Clients.NewClient(ctx, c.clientConfig(updates, false))
	if err != nil {
		return err
	}
	defer func() { _ = cl.Logout() }()

	if !c.track(cl) {
		return ErrClosed
	}
	defer c.untrack(cl)

	st, err := cl.Select(folder, true)
	if err != nil {
		return err
	}
	last := st.Messages

	if !send(ctx, events, watch.Event{Kind: watch.EventReady}) {
		return nil
	}

	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- cl.Idle(stop, nil) }()

	e.WithField("messages", last).Debug("connection_idle_started")
	for {
		select {
		case <-ctx.Done():
			close(stop)
			select {
			case <-done:
			case <-time.After(idleStopTimeout):
				e.Warn("connection_idle_stop_timeout")
			}
			return nil
		case err := <-done:
			if err == nil {
				return retry.WithCode(retry.CodeConnReset, errIdleLoggedOut)
			}
			return sessionError(cl.LoggedOut(), err)
		case <-cl.LoggedOut():
			return retry.WithCode(retry.CodeConnReset, errIdleLoggedOut)
		case upd := <-updates:
			switch u := upd.(type) {
			case *client.MailboxUpdate:
				n := u.Mailbox.Messages
				e.WithFields(log.Fields{"old": last, "new": n}).Trace("connection_idle_mailbox_update")
				if n > last {
					if !send(ctx, events, watch.Event{Kind: watch.EventNewMail, Count: int(n - last)}) {
						continue
					}
				}
				last = n
			case *client.ExpungeUpdate:
				if last > 0 {
					last--
				}
			case *client.StatusUpdate:
				e.WithFields(log.Fields{
					"type": u.Status.Type,
					"code": u.Status.Code,
					"info": u.Status.Info,
				}).Debug("connection_idle_status_update")
			}
		}
	}
}

func send(ctx context.Context, events chan<- watch.Event, ev watch.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
