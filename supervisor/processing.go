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

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/metrics"
	"github.com/vs49688/mailtriage/pipeline"
	"github.com/vs49688/mailtriage/watch"
)

func (s *Supervisor) startLoopsLocked(st *runtimeState) {
	for _, folder := range st.actx.Account.Folders {
		s.startLoopLocked(st, folder)
	}
}

func (s *Supervisor) startLoopLocked(st *runtimeState, folder string) {
	name := st.actx.Account.Name
	key := watch.Key{Account: name, Folder: folder}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &loopHandle{
		state:  st,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h.loop = watch.New(&watch.Config{
		Key:          key,
		Source:       st.conn,
		Handler:      func(count int) { s.onNewMail(st, key, count) },
		PollInterval: s.cfg.PollInterval,
		Backoff:      s.cfg.Backoff,
		Log:          s.log(name),
		OnDisconnect: func(err error) { s.setFolderLost(st, key, err) },
		OnReconnect:  func() { s.setFolderLost(st, key, nil) },
	})

	s.loops[key] = h
	go s.runLoop(ctx, key, h)
}

func (s *Supervisor) runLoop(ctx context.Context, key watch.Key, h *loopHandle) {
	defer close(h.done)

	err := h.loop.Run(ctx)

	s.mu.Lock()
	if s.loops[key] == h {
		delete(s.loops, key)
	}

	if err == nil {
		s.mu.Unlock()
		return
	}

	e, ok := s.accounts[key.Account]
	current := ok && e.state == h.state
	if current {
		h.state.lost[key.Folder] = struct{}{}
		e.errors++
	}
	s.mu.Unlock()

	if current {
		s.log(key.Account).WithError(err).WithField("folder", key.Folder).Error("supervisor_watch_failed")
		s.persist(key.Account)
	}
}

// setFolderLost records a folder's session going down (err != nil) or
// coming back. st.actx is swapped by UpdateAccount, so the account name
// comes from the loop's key.
func (s *Supervisor) setFolderLost(st *runtimeState, key watch.Key, err error) {
	name, folder := key.Account, key.Folder

	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok || e.state != st {
		s.mu.Unlock()
		return
	}

	if err != nil {
		st.lost[folder] = struct{}{}
	} else {
		delete(st.lost, folder)
	}
	s.mu.Unlock()

	if err == nil {
		s.cfg.Metrics.Reconnected(name, folder)
	} else {
		s.log(name).WithError(err).WithField("folder", folder).Warn("supervisor_folder_disconnected")
	}

	s.persist(name)
}

// onNewMail is the handler bound to each loop.
func (s *Supervisor) onNewMail(st *runtimeState, key watch.Key, count int) {
	name, folder := key.Account, key.Folder
	el := s.log(name).WithFields(log.Fields{"folder": folder, "count": count})

	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok || e.state != st {
		s.mu.Unlock()
		el.Debug("supervisor_signal_stale")
		s.cfg.Metrics.Signal(name, folder, metrics.SignalStale)
		return
	}

	if e.paused {
		s.mu.Unlock()
		el.Debug("supervisor_signal_paused")
		s.cfg.Metrics.Signal(name, folder, metrics.SignalPaused)
		return
	}

	now := s.cfg.Clock.Now()
	if last, ok := s.debounce[key]; ok && now.Sub(last) < s.cfg.ProcessDebounce {
		s.mu.Unlock()
		el.Debug("supervisor_signal_debounced")
		s.cfg.Metrics.Signal(name, folder, metrics.SignalDebounced)
		return
	}

	if _, ok := s.queue[key]; ok {
		s.mu.Unlock()
		el.Debug("supervisor_signal_in_flight")
		s.cfg.Metrics.Signal(name, folder, metrics.SignalInFlight)
		return
	}

	q, actx := s.enqueueLocked(st, key, count)
	s.mu.Unlock()

	s.cfg.Metrics.Signal(name, folder, metrics.SignalProcessed)
	go s.process(st, actx, q)
}

// TriggerProcessing runs the folder now, ignoring the debounce window.
// It refuses while a run for the folder is in flight.
func (s *Supervisor) TriggerProcessing(name string, folder string) bool {
	key := watch.Key{Account: name, Folder: folder}

	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok || e.state == nil || e.paused || !e.account.Watches(folder) {
		s.mu.Unlock()
		return false
	}

	if _, ok := s.queue[key]; ok {
		s.mu.Unlock()
		return false
	}

	st := e.state
	q, actx := s.enqueueLocked(st, key, 0)
	s.mu.Unlock()

	s.log(name).WithField("folder", folder).Info("supervisor_processing_triggered")
	go s.process(st, actx, q)
	return true
}

func (s *Supervisor) enqueueLocked(st *runtimeState, key watch.Key, count int) (*QueueStatus, *pipeline.AccountContext) {
	now := s.cfg.Clock.Now()
	q := &QueueStatus{
		AccountName:  key.Account,
		Folder:       key.Folder,
		Processing:   true,
		PendingCount: count,
		StartedAt:    now,
	}

	s.queue[key] = q
	s.debounce[key] = now
	s.wg.Add(1)
	return q, st.actx
}

func (s *Supervisor) process(st *runtimeState, actx *pipeline.AccountContext, q *QueueStatus) {
	defer s.wg.Done()

	key := watch.Key{Account: q.AccountName, Folder: q.Folder}
	el := s.log(key.Account).WithField("folder", key.Folder)
	el.Debug("supervisor_processing_started")

	s.cfg.Metrics.RunStarted()
	err := s.cfg.Processor.ProcessMailbox(s.ctx, actx, key.Folder)
	s.cfg.Metrics.RunFinished(key.Account, key.Folder, err)

	s.mu.Lock()
	if s.queue[key] == q {
		delete(s.queue, key)
	}

	e, ok := s.accounts[key.Account]
	current := ok && e.state == st
	if current {
		now := s.cfg.Clock.Now()
		e.lastScan = &now
		s.debounce[key] = now
		if err != nil {
			e.errors++
		}
	}
	s.mu.Unlock()

	if err != nil {
		el.WithError(err).Warn("supervisor_processing_failed")
	} else {
		el.Debug("supervisor_processing_complete")
	}

	if current {
		s.persist(key.Account)
	}
}
