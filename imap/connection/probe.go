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
	"time"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/retry"
)

const DefaultProbeTimeout = 10 * time.Second

// ProbeAccount connects to the account, reports its folders and
// disconnects. Each attempt uses a fresh connection bounded by timeout.
// Credential errors are returned immediately; connection failures are
// retried per p and reported as a *retry.RetryError once exhausted.
func (f *Factory) ProbeAccount(ctx context.Context, acc *config.Account, p retry.Policy, timeout time.Duration) ([]FolderStatus, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}

	bounded := *acc
	if bounded.IMAP.Timeout <= 0 || bounded.IMAP.Timeout > timeout {
		bounded.IMAP.Timeout = timeout
	}

	first, err := f.NewConnection(&bounded)
	if err != nil {
		return nil, err
	}

	cfg := first.cfg
	el := first.log

	attempt := 0
	var out []FolderStatus
	err = retry.Do(ctx, p, func() error {
		attempt++

		conn := first
		if conn == nil {
			conn = New(&cfg)
		}
		first = nil
		defer func() { _ = conn.Disconnect() }()

		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		st, err := probeOnce(actx, conn)
		if err != nil {
			el.WithError(err).WithField("attempt", attempt).Warn("connection_probe_failed")
			return err
		}

		out = st
		return nil
	})

	return out, err
}

func probeOnce(ctx context.Context, conn *Connection) ([]FolderStatus, error) {
	if err := conn.Connect(ctx); err != nil {
		return nil, err
	}
	return conn.Probe(ctx)
}
