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

package client

import (
	"context"
	"net"
	"os"

	"github.com/emersion/go-imap/client"

	"github.com/vs49688/mailtriage/imap"
)

type Factory struct{}

// contextDialer ties the TCP dial to the caller's context.
type contextDialer struct {
	ctx context.Context
	net.Dialer
}

func (d *contextDialer) Dial(network, address string) (net.Conn, error) {
	return d.DialContext(d.ctx, network, address)
}

func (f *Factory) NewClient(ctx context.Context, cfg *imap.ClientConfig) (imap.Client, error) {
	dialer := &contextDialer{ctx: ctx, Dialer: net.Dialer{Timeout: cfg.Timeout}}

	var c *client.Client
	var err error
	if cfg.TLS {
		c, err = client.DialWithDialerTLS(dialer, cfg.HostPort, cfg.TLSConfig)
	} else {
		c, err = client.DialWithDialer(dialer, cfg.HostPort)
	}

	if err != nil {
		return nil, err
	}

	c.Updates = cfg.Updates
	c.Timeout = cfg.CommandTimeout

	wantCleanup := true
	defer func() {
		if wantCleanup {
			_ = c.Logout()
		}
	}()

	if cfg.Debug {
		c.SetDebug(os.Stderr)
	}

	if err := cfg.Auth.Authenticate(c); err != nil {
		return nil, err
	}

	wantCleanup = false
	return c, nil
}
