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
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/url"
	"syscall"

	goImap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/imap"
	"github.com/vs49688/mailtriage/retry"
)

// errClosedText is the message go-imap returns for commands issued after
// its reader has stopped. The error value itself is unexported.
const errClosedText = "imap: connection closed"

func New(cfg *Config) *Connection {
	ourCfg := *cfg
	if ourCfg.Log == nil {
		ourCfg.Log = log.NewEntry(log.StandardLogger())
	}

	u := url.URL{Host: ourCfg.Account.IMAP.HostPort(), User: url.User(ourCfg.Account.IMAP.Username)}
	if ourCfg.Account.IMAP.UseTLS() {
		u.Scheme = "imaps"
	} else {
		u.Scheme = "imap"
	}

	return &Connection{
		cfg:      ourCfg,
		log:      ourCfg.Log.WithFields(log.Fields{"account": ourCfg.Account.Name, "url": u.String()}),
		uidNext:  map[string]uint32{},
		sessions: map[imap.Client]struct{}{},
	}
}

func (c *Connection) clientConfig(updates chan<- client.Update, commandTimeout bool) *imap.ClientConfig {
	acc := &c.cfg.Account.IMAP

	cc := &imap.ClientConfig{
		HostPort: acc.HostPort(),
		Auth:     c.cfg.Auth,
		TLS:      acc.UseTLS(),
		Debug:    acc.Debug,
		Updates:  updates,
		Timeout:  acc.Timeout,
	}

	if cc.TLS {
		cc.TLSConfig = &tls.Config{
			ServerName:         acc.Host,
			InsecureSkipVerify: acc.TLSSkipVerify,
		}
	}

	if commandTimeout {
		cc.CommandTimeout = acc.Timeout
	}

	return cc
}

// Connect establishes the control session and records the server's
// capabilities.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, err := c.controlLocked(ctx)
	if err != nil {
		return err
	}

	if c.idle, err = cl.Support("IDLE"); err != nil {
		return err
	}

	if c.canMove, err = cl.Support("MOVE"); err != nil {
		return err
	}

	c.log.WithFields(log.Fields{"idle": c.idle, "move": c.canMove}).Info("connection_established")
	return nil
}

func (c *Connection) SupportsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.idle
}

// Disconnect logs out every session. Calls blocked on a session return
// with an error.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	control := c.control
	c.control = nil
	sessions := make([]imap.Client, 0, len(c.sessions))
	for s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.sessions = map[imap.Client]struct{}{}
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Logout()
	}

	var err error
	if control != nil {
		err = control.Logout()
		if err == client.ErrAlreadyLoggedOut {
			err = nil
		}
	}

	c.log.Info("connection_closed")
	return err
}

// controlLocked returns the control session, dialling a new one if the
// previous session has gone away.
func (c *Connection) controlLocked(ctx context.Context) (imap.Client, error) {
	if c.closed {
		return nil, ErrClosed
	}

	if c.control != nil {
		select {
		case <-c.control.LoggedOut():
			c.log.Warn("connection_control_lost")
			c.control = nil
			c.selected = ""
		default:
			return c.control, nil
		}
	}

	cl, err := c.cfg.Clients.NewClient(ctx, c.clientConfig(nil, true))
	if err != nil {
		return nil, err
	}

	c.control = cl
	c.selected = ""
	return cl, nil
}

// withControl runs fn against the control session. If the session drops
// while fn runs, it is discarded so the next call dials a fresh one.
func (c *Connection) withControl(ctx context.Context, fn func(cl imap.Client) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, err := c.controlLocked(ctx)
	if err != nil {
		return err
	}

	if err := fn(cl); err != nil {
		err = sessionError(cl.LoggedOut(), err)
		if retry.IsTransient(err) && c.control == cl {
			c.log.WithError(err).Warn("connection_control_lost")
			c.control = nil
			c.selected = ""
			go func() { _ = cl.Logout() }()
		}
		return err
	}

	return nil
}

// sessionError marks err as a connection reset when it came from a session
// that has gone away. Errors the server sent in reply to a command are
// returned unchanged.
func sessionError(loggedOut <-chan struct{}, err error) error {
	if err == nil || retry.IsTransient(err) {
		return err
	}

	select {
	case <-loggedOut:
		return retry.WithCode(retry.CodeConnReset, err)
	default:
	}

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed), errors.Is(err, syscall.EPIPE),
		err.Error() == errClosedText:
		return retry.WithCode(retry.CodeConnReset, err)
	}

	return err
}

func (c *Connection) selectLocked(cl imap.Client, folder string) error {
	if c.selected == folder {
		return nil
	}

	if _, err := cl.Select(folder, false); err != nil {
		c.selected = ""
		return err
	}

	c.selected = folder
	return nil
}

// track registers an IDLE session so Disconnect can tear it down.
func (c *Connection) track(cl imap.Client) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.sessions[cl] = struct{}{}
	return true
}

func (c *Connection) untrack(cl imap.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, cl)
}

// Poll returns how many messages arrived in folder since the last call,
// judged by the change in UIDNEXT.
func (c *Connection) Poll(ctx context.Context, folder string) (int, error) {
	n := 0
	err := c.withControl(ctx, func(cl imap.Client) error {
		st, err := cl.Status(folder, []goImap.StatusItem{goImap.StatusMessages, goImap.StatusUidNext})
		if err != nil {
			return err
		}

		prev, ok := c.uidNext[folder]
		c.uidNext[folder] = st.UidNext
		if ok && st.UidNext > prev {
			n = int(st.UidNext - prev)
		}

		return nil
	})

	return n, err
}

// Probe reports the state of every configured folder.
func (c *Connection) Probe(ctx context.Context) ([]FolderStatus, error) {
	var out []FolderStatus
	err := c.withControl(ctx, func(cl imap.Client) error {
		for _, folder := range c.cfg.Account.Folders {
			st, err := cl.Status(folder, []goImap.StatusItem{
				goImap.StatusMessages,
				goImap.StatusUnseen,
				goImap.StatusUidNext,
			})
			if err != nil {
				return err
			}

			out = append(out, FolderStatus{
				Name:     folder,
				Messages: st.Messages,
				Unseen:   st.Unseen,
				UidNext:  st.UidNext,
			})
		}
		return nil
	})

	return out, err
}
