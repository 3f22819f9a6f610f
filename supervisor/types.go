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

package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/internal/clock"
	"github.com/vs49688/mailtriage/llm"
	"github.com/vs49688/mailtriage/metrics"
	"github.com/vs49688/mailtriage/pipeline"
	"github.com/vs49688/mailtriage/retry"
	"github.com/vs49688/mailtriage/store"
	"github.com/vs49688/mailtriage/watch"
)

var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrAccountRunning = errors.New("account already running")
	ErrClosed         = errors.New("supervisor closed")
)

// Connection is a single-use link to an account's server.
type Connection interface {
	watch.Source
	pipeline.Mailbox

	Connect(ctx context.Context) error
	Disconnect() error
}

type ConnectionFactory interface {
	NewConnection(acc *config.Account) (Connection, error)
}

type ConnectionFactoryFunc func(acc *config.Account) (Connection, error)

func (f ConnectionFactoryFunc) NewConnection(acc *config.Account) (Connection, error) {
	return f(acc)
}

type Bindings interface {
	Resolve(provider string, model string) (*llm.Binding, error)
}

type StatusStore interface {
	UpsertAccountStatus(ctx context.Context, st *store.AccountStatus) error
	DeleteAccountStatus(ctx context.Context, name string) error
}

type Config struct {
	Connections ConnectionFactory
	Processor   pipeline.Processor
	Bindings    Bindings

	// Optional
	Status  StatusStore
	Metrics *metrics.Metrics
	Clock   clock.Clock
	Log     *log.Entry

	PollInterval    time.Duration
	ProcessDebounce time.Duration
	Backoff         retry.Backoff
}

// QueueStatus describes a processing run in flight.
type QueueStatus struct {
	AccountName  string    `json:"account_name"`
	Folder       string    `json:"folder"`
	Processing   bool      `json:"processing"`
	PendingCount int       `json:"pending_count"`
	StartedAt    time.Time `json:"started_at"`
}

// runtimeState is everything tied to one live connection. It is replaced
// on reconnect, so completions compare pointers to detect staleness.
type runtimeState struct {
	conn          Connection
	actx          *pipeline.AccountContext
	idleSupported bool

	// Folders whose watch session is currently down.
	lost map[string]struct{}
}

type accountEntry struct {
	account  *config.Account
	state    *runtimeState
	starting bool
	paused   bool
	lastScan *time.Time
	errors   int
}

type loopHandle struct {
	state  *runtimeState
	loop   *watch.Loop
	cancel context.CancelFunc
	done   chan struct{}
}

type Supervisor struct {
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// statusMu orders writes to the status store.
	statusMu sync.Mutex

	mu       sync.Mutex
	closed   bool
	accounts map[string]*accountEntry
	queue    map[watch.Key]*QueueStatus
	debounce map[watch.Key]time.Time
	loops    map[watch.Key]*loopHandle
}
