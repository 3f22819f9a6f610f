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
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/retry"
)

type Key struct {
	Account string
	Folder  string
}

func (k Key) String() string {
	return k.Account + ":" + k.Folder
}

type EventKind int

const (
	// EventReady is sent once an IDLE session is established.
	EventReady EventKind = iota
	// EventNewMail is sent when the message count of the folder grows.
	EventNewMail
)

type Event struct {
	Kind  EventKind
	Count int
}

// Source is the server side of a watched folder.
type Source interface {
	SupportsIdle() bool

	// Idle runs one push session for folder, sending events until ctx is
	// cancelled (returning nil) or the session fails.
	Idle(ctx context.Context, folder string, events chan<- Event) error

	// Poll returns the number of messages that arrived since the previous
	// call. The first call establishes a baseline and returns 0.
	Poll(ctx context.Context, folder string) (int, error)
}

// Handler is invoked with the number of new messages. It must not block.
type Handler func(count int)

type State int32

const (
	StateStarting        State = 0
	StateIdling          State = 1
	StatePolling         State = 2
	StateAwaitingProcess State = 3
	StateStopped         State = 4
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateIdling:
		return "idling"
	case StatePolling:
		return "polling"
	case StateAwaitingProcess:
		return "awaiting_process"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Config struct {
	Key          Key
	Source       Source
	Handler      Handler
	PollInterval time.Duration
	Backoff      retry.Backoff
	Log          *log.Entry

	// OnDisconnect is called when a session fails, OnReconnect once
	// a later session succeeds.
	OnDisconnect func(err error)
	OnReconnect  func()
}

type Loop struct {
	cfg   Config
	state atomic.Int32
}
