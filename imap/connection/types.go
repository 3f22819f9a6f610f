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
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/imap"
)

var ErrClosed = errors.New("connection closed")

// maxBodyBytes caps how much of a message body is read for classification.
const maxBodyBytes = 8 << 10

type Config struct {
	Account *config.Account
	Auth    imap.Authenticatable
	Clients imap.ClientFactory
	Log     *log.Entry
}

// Connection is an account's link to its server. It owns one control
// session, used for polling and message operations, and one dedicated
// session per folder being IDLEd. A Connection cannot be reused once
// Disconnect has been called.
type Connection struct {
	cfg Config
	log *log.Entry

	mu       sync.Mutex
	control  imap.Client
	selected string
	closed   bool
	idle     bool
	canMove  bool
	uidNext  map[string]uint32
	sessions map[imap.Client]struct{}
}

// FolderStatus is reported by Probe.
type FolderStatus struct {
	Name     string
	Messages uint32
	Unseen   uint32
	UidNext  uint32
}
