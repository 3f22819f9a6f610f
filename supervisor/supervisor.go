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

// Package supervisor keeps every configured account connected and watched,
// and turns new mail signals into processing runs.
package supervisor

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/internal/clock"
	"github.com/vs49688/mailtriage/pipeline"
	"github.com/vs49688/mailtriage/watch"
)

func New(cfg *Config) *Supervisor {
	ourCfg := *cfg
	if ourCfg.Clock == nil {
		ourCfg.Clock = clock.System{}
	}

	if ourCfg.Log == nil {
		ourCfg.Log = log.NewEntry(log.StandardLogger())
	}

	if ourCfg.PollInterval <= 0 {
		ourCfg.PollInterval = time.Minute
	}

	if ourCfg.ProcessDebounce < 0 {
		ourCfg.ProcessDebounce = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      ourCfg,
		ctx:      ctx,
		cancel:   cancel,
		accounts: map[string]*accountEntry{},
		queue:    map[watch.Key]*QueueStatus{},
		debounce: map[watch.Key]time.Time{},
		loops:    map[watch.Key]*loopHandle{},
	}
}

func (s *Supervisor) log(name string) *log.Entry {
	return s.cfg.Log.WithField("account", name)
}

// StartAccount connects the account, scans every watched folder once and
// starts watching. On failure the account stays registered but inactive.
func (s *Supervisor) StartAccount(ctx context.Context, acc *config.Account) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}

	e, ok := s.accounts[acc.Name]
	if ok && (e.state != nil || e.starting) {
		s.mu.Unlock()
		return ErrAccountRunning
	}

	if !ok {
		e = &accountEntry{}
		s.accounts[acc.Name] = e
	}
	e.account = acc
	e.starting = true
	s.mu.Unlock()

	s.log(acc.Name).WithField("folders", acc.Folders).Info("supervisor_account_starting")
	st, err := s.connect(ctx, acc, true)

	s.mu.Lock()
	e.starting = false
	if s.accounts[acc.Name] != e {
		s.mu.Unlock()
		if st != nil {
			s.disconnect(acc.Name, st.conn)
		}

		if err == nil {
			err = fmt.Errorf("%w: %v was stopped while starting", ErrUnknownAccount, acc.Name)
		}
		return err
	}

	if err != nil {
		e.errors++
		s.mu.Unlock()

		s.log(acc.Name).WithError(err).Error("supervisor_account_start_failed")
		s.persist(acc.Name)
		return err
	}

	now := s.cfg.Clock.Now()
	e.lastScan = &now
	e.state = st
	s.startLoopsLocked(st)
	s.mu.Unlock()

	s.log(acc.Name).WithField("idle", st.idleSupported).Info("supervisor_account_started")
	s.persist(acc.Name)
	return nil
}

// connect builds a fresh connection and account context, optionally
// running the initial scan.
func (s *Supervisor) connect(ctx context.Context, acc *config.Account, scan bool) (*runtimeState, error) {
	conn, err := s.cfg.Connections.NewConnection(acc)
	if err != nil {
		return nil, err
	}

	if err := conn.Connect(ctx); err != nil {
		s.disconnect(acc.Name, conn)
		return nil, err
	}

	binding, err := s.cfg.Bindings.Resolve(acc.LLM.Provider, acc.LLM.Model)
	if err != nil {
		s.disconnect(acc.Name, conn)
		return nil, err
	}

	st := &runtimeState{
		conn: conn,
		actx: &pipeline.AccountContext{
			Account: acc,
			Mailbox: conn,
			Binding: binding,
		},
		idleSupported: conn.SupportsIdle(),
		lost:          map[string]struct{}{},
	}

	if !scan {
		return st, nil
	}

	for _, folder := range acc.Folders {
		s.cfg.Metrics.RunStarted()
		err := s.cfg.Processor.ProcessMailbox(ctx, st.actx, folder)
		s.cfg.Metrics.RunFinished(acc.Name, folder, err)
		if err != nil {
			s.disconnect(acc.Name, conn)
			return nil, fmt.Errorf("initial scan of %v: %w", folder, err)
		}
	}

	return st, nil
}

func (s *Supervisor) disconnect(name string, conn Connection) {
	if err := conn.Disconnect(); err != nil {
		s.log(name).WithError(err).Warn("supervisor_disconnect_failed")
	}
}

// detachLocked cancels the account's loops and forgets its queue and
// debounce entries. The returned handles must be waited on without the
// lock held.
func (s *Supervisor) detachLocked(name string) []*loopHandle {
	var handles []*loopHandle
	for key, h := range s.loops {
		if key.Account == name {
			h.cancel()
			delete(s.loops, key)
			handles = append(handles, h)
		}
	}

	for key := range s.queue {
		if key.Account == name {
			delete(s.queue, key)
		}
	}

	for key := range s.debounce {
		if key.Account == name {
			delete(s.debounce, key)
		}
	}

	return handles
}

func waitLoops(handles []*loopHandle) {
	for _, h := range handles {
		<-h.done
	}
}

func (s *Supervisor) StopAccount(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok {
		s.mu.Unlock()
		return ErrUnknownAccount
	}

	delete(s.accounts, name)
	handles := s.detachLocked(name)
	st := e.state
	e.state = nil
	s.mu.Unlock()

	waitLoops(handles)
	if st != nil {
		s.disconnect(name, st.conn)
	}

	s.cfg.Metrics.Forget(name)

	if s.cfg.Status != nil {
		s.statusMu.Lock()
		err := s.cfg.Status.DeleteAccountStatus(ctx, name)
		s.statusMu.Unlock()
		if err != nil {
			s.log(name).WithError(err).Warn("supervisor_status_delete_failed")
		}
	}

	s.log(name).WithField("loops", len(handles)).Info("supervisor_account_stopped")
	return nil
}

// ReconnectAccount replaces the account's connection with a new one and
// restarts its loops. On failure the account is left inactive.
func (s *Supervisor) ReconnectAccount(ctx context.Context, name string) bool {
	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok || e.starting || s.closed {
		s.mu.Unlock()
		return false
	}

	e.starting = true
	old := e.state
	e.state = nil
	handles := s.detachLocked(name)
	acc := e.account
	s.mu.Unlock()

	waitLoops(handles)
	if old != nil {
		s.disconnect(name, old.conn)
	}

	st, err := s.connect(ctx, acc, false)

	s.mu.Lock()
	e.starting = false
	if s.accounts[name] != e {
		s.mu.Unlock()
		if st != nil {
			s.disconnect(name, st.conn)
		}
		return false
	}

	if err != nil {
		e.errors++
		s.mu.Unlock()

		s.log(name).WithError(err).Error("supervisor_reconnect_failed")
		s.persist(name)
		return false
	}

	e.state = st
	s.startLoopsLocked(st)
	s.mu.Unlock()

	s.log(name).WithField("loops", len(acc.Folders)).Info("supervisor_account_reconnected")
	s.persist(name)
	return true
}

func (s *Supervisor) setPaused(name string, paused bool) bool {
	s.mu.Lock()
	e, ok := s.accounts[name]
	if ok {
		e.paused = paused
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	s.log(name).WithField("paused", paused).Info("supervisor_account_paused")
	s.persist(name)
	return true
}

// PauseAccount suppresses processing. The account stays connected and
// watched.
func (s *Supervisor) PauseAccount(name string) bool {
	return s.setPaused(name, true)
}

func (s *Supervisor) ResumeAccount(name string) bool {
	return s.setPaused(name, false)
}

// UpdateAccount swaps in a new snapshot for changes that don't need a
// new connection. Runs already in flight keep the old snapshot.
func (s *Supervisor) UpdateAccount(acc *config.Account) bool {
	s.mu.Lock()
	e, ok := s.accounts[acc.Name]
	if ok {
		e.account = acc
		if e.state != nil {
			actx := *e.state.actx
			actx.Account = acc
			e.state.actx = &actx
		}
	}
	s.mu.Unlock()

	if ok {
		s.persist(acc.Name)
	}
	return ok
}

// StopIdleLoop stops the watch loop for a single folder.
func (s *Supervisor) StopIdleLoop(key watch.Key) bool {
	s.mu.Lock()
	h, ok := s.loops[key]
	if ok {
		delete(s.loops, key)
		h.cancel()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}

	<-h.done
	s.log(key.Account).WithField("folder", key.Folder).Info("supervisor_loop_stopped")
	return true
}

// Close stops every account and waits for processing runs to finish, or
// for ctx to expire, after which they are cancelled.
func (s *Supervisor) Close(ctx context.Context) {
	s.mu.Lock()
	s.closed = true
	names := make([]string, 0, len(s.accounts))
	for name := range s.accounts {
		names = append(names, name)
	}
	s.mu.Unlock()

	for _, name := range names {
		_ = s.StopAccount(ctx, name)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.cfg.Log.Warn("supervisor_close_timeout")
	}

	s.cancel()
	<-done
}
