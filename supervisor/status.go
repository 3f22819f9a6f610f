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
	"sort"

	"github.com/vs49688/mailtriage/store"
)

func (s *Supervisor) statusLocked(name string, e *accountEntry) *store.AccountStatus {
	st := &store.AccountStatus{
		Name:        name,
		LLMProvider: e.account.LLM.Provider,
		LLMModel:    e.account.LLM.Model,
		Paused:      e.paused,
		Errors:      e.errors,
	}

	if e.lastScan != nil {
		t := *e.lastScan
		st.LastScan = &t
	}

	if e.state != nil {
		st.Connected = len(e.state.lost) == 0
		st.IdleSupported = e.state.idleSupported
		if b := e.state.actx.Binding; b != nil {
			st.LLMProvider = b.Provider
			st.LLMModel = b.Model
		}
	}

	return st
}

// persist writes the account's current status to the status store.
func (s *Supervisor) persist(name string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()

	s.mu.Lock()
	e, ok := s.accounts[name]
	if !ok {
		s.mu.Unlock()
		return
	}
	st := s.statusLocked(name, e)
	s.mu.Unlock()

	s.cfg.Metrics.Connected(name, st.Connected)

	if s.cfg.Status == nil {
		return
	}

	if err := s.cfg.Status.UpsertAccountStatus(context.Background(), st); err != nil {
		s.log(name).WithError(err).Warn("supervisor_status_write_failed")
	}
}

func (s *Supervisor) Status(name string) (*store.AccountStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.accounts[name]
	if !ok {
		return nil, false
	}
	return s.statusLocked(name, e), true
}

func (s *Supervisor) Statuses() []*store.AccountStatus {
	s.mu.Lock()
	out := make([]*store.AccountStatus, 0, len(s.accounts))
	for name, e := range s.accounts {
		out = append(out, s.statusLocked(name, e))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// QueueStatus returns the processing runs currently in flight.
func (s *Supervisor) QueueStatus() []QueueStatus {
	s.mu.Lock()
	out := make([]QueueStatus, 0, len(s.queue))
	for _, q := range s.queue {
		out = append(out, *q)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountName != out[j].AccountName {
			return out[i].AccountName < out[j].AccountName
		}
		return out[i].Folder < out[j].Folder
	})
	return out
}

func (s *Supervisor) IsProcessing(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.queue {
		if key.Account == name {
			return true
		}
	}
	return false
}
