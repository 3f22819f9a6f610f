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

package imap

//go:generate mockgen -destination=mock_imap/mock_imap.go -package=mock_imap . Authenticatable

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// Client is the subset of *client.Client used by a connection.
type Client interface {
	Support(cap string) (bool, error)

	Select(name string, readOnly bool) (*imap.MailboxStatus, error)

	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)

	Idle(stop <-chan struct{}, opts *client.IdleOptions) error

	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)

	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error

	UidStore(seqset *imap.SeqSet, item imap.StoreItem, value interface{}, ch chan *imap.Message) error

	UidCopy(seqset *imap.SeqSet, dest string) error

	UidMove(seqset *imap.SeqSet, dest string) error

	Expunge(ch chan uint32) error

	Logout() error

	LoggedOut() <-chan struct{}
}

type Authenticatable interface {
	Authenticate(c *client.Client) error
}

type ClientConfig struct {
	HostPort  string
	Auth      Authenticatable
	TLS       bool
	TLSConfig *tls.Config
	Debug     bool
	Updates   chan<- client.Update

	// Timeout bounds the dial. CommandTimeout bounds each command and is
	// left at zero for sessions that IDLE.
	Timeout        time.Duration
	CommandTimeout time.Duration
}

type ClientFactory interface {
	NewClient(ctx context.Context, cfg *ClientConfig) (Client, error)
}

type Message = imap.Message
type SeqSet = imap.SeqSet
type MailboxStatus = imap.MailboxStatus
type SearchCriteria = imap.SearchCriteria
