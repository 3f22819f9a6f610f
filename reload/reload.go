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

// Package reload applies a new configuration to a running supervisor.
package reload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/supervisor"
)

// Accounts is the part of the supervisor a reload drives.
type Accounts interface {
	StartAccount(ctx context.Context, acc *config.Account) error
	StopAccount(ctx context.Context, name string) error
	UpdateAccount(acc *config.Account) bool
}

type Providers interface {
	Register(providers []config.Provider)
}

type Result struct {
	Success   bool     `json:"success"`
	Added     []string `json:"added"`
	Removed   []string `json:"removed"`
	Restarted []string `json:"restarted"`
	Unchanged []string `json:"unchanged"`
	Errors    []string `json:"errors"`
}

type Diff struct {
	Added     []*config.Account
	Removed   []string
	Restarted []*config.Account
	Unchanged []*config.Account
}

type Reloader struct {
	accounts  Accounts
	providers Providers
	log       *log.Entry

	mu      sync.Mutex
	current *config.Config
}

func New(accounts Accounts, providers Providers, initial *config.Config, logger *log.Entry) *Reloader {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	return &Reloader{
		accounts:  accounts,
		providers: providers,
		log:       logger,
		current:   initial,
	}
}

// Current returns the configuration most recently applied.
func (r *Reloader) Current() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Apply moves the running set of accounts to next. Failures are collected
// and nothing is rolled back. Concurrent calls are serialized.
func (r *Reloader) Apply(ctx context.Context, next *config.Config) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &Result{
		Added:     []string{},
		Removed:   []string{},
		Restarted: []string{},
		Unchanged: []string{},
		Errors:    []string{},
	}

	if r.providers != nil {
		r.providers.Register(next.Providers)
	}

	var old []*config.Account
	if r.current != nil {
		old = r.current.Accounts
	}
	d := Compute(old, next.Accounts)

	fail := func(step string, name string, err error) {
		msg := fmt.Sprintf("%v %v: %v", step, name, err)
		res.Errors = append(res.Errors, msg)
		r.log.WithError(err).WithFields(log.Fields{"step": step, "account": name}).Error("reload_step_failed")
	}

	for _, name := range d.Removed {
		res.Removed = append(res.Removed, name)
		if err := r.stop(ctx, name); err != nil {
			fail("stop", name, err)
		}
	}

	for _, acc := range d.Restarted {
		res.Restarted = append(res.Restarted, acc.Name)
		if err := r.stop(ctx, acc.Name); err != nil {
			fail("stop", acc.Name, err)
		}

		if err := r.accounts.StartAccount(ctx, acc); err != nil {
			fail("start", acc.Name, err)
		}
	}

	for _, acc := range d.Added {
		res.Added = append(res.Added, acc.Name)
		if err := r.accounts.StartAccount(ctx, acc); err != nil {
			fail("start", acc.Name, err)
		}
	}

	for _, acc := range d.Unchanged {
		res.Unchanged = append(res.Unchanged, acc.Name)
		r.accounts.UpdateAccount(acc)
	}

	r.current = next
	res.Success = len(res.Errors) == 0

	r.log.WithFields(log.Fields{
		"added":     res.Added,
		"removed":   res.Removed,
		"restarted": res.Restarted,
		"unchanged": len(res.Unchanged),
		"errors":    len(res.Errors),
	}).Info("reload_applied")

	return res
}

func (r *Reloader) stop(ctx context.Context, name string) error {
	err := r.accounts.StopAccount(ctx, name)
	if errors.Is(err, supervisor.ErrUnknownAccount) {
		return nil
	}
	return err
}

// Compute compares account sets by name.
func Compute(old []*config.Account, next []*config.Account) *Diff {
	d := &Diff{}

	byName := make(map[string]*config.Account, len(old))
	for _, a := range old {
		byName[a.Name] = a
	}

	seen := make(map[string]struct{}, len(next))
	for _, a := range next {
		seen[a.Name] = struct{}{}

		prev, ok := byName[a.Name]
		switch {
		case !ok:
			d.Added = append(d.Added, a)
		case NeedsRestart(prev, a):
			d.Restarted = append(d.Restarted, a)
		default:
			d.Unchanged = append(d.Unchanged, a)
		}
	}

	for _, a := range old {
		if _, ok := seen[a.Name]; !ok {
			d.Removed = append(d.Removed, a.Name)
		}
	}

	return d
}

// NeedsRestart reports whether moving from a to b requires a new
// connection.
func NeedsRestart(a *config.Account, b *config.Account) bool {
	if !sameIMAP(&a.IMAP, &b.IMAP) {
		return true
	}

	if a.LLM != b.LLM {
		return true
	}

	return !sameSet(a.Folders, b.Folders)
}

func sameIMAP(a *config.IMAPConfig, b *config.IMAPConfig) bool {
	return a.Host == b.Host &&
		a.Port == b.Port &&
		a.Username == b.Username &&
		a.Password == b.Password &&
		a.PasswordFile == b.PasswordFile &&
		a.PasswordKeyring == b.PasswordKeyring &&
		a.UseTLS() == b.UseTLS() &&
		a.TLSSkipVerify == b.TLSSkipVerify &&
		a.AuthMethod == b.AuthMethod &&
		a.OAuth2.ClientID == b.OAuth2.ClientID &&
		a.OAuth2.ClientSecret == b.OAuth2.ClientSecret &&
		a.OAuth2.TokenURL == b.OAuth2.TokenURL &&
		a.Timeout == b.Timeout
}

func sameSet(a []string, b []string) bool {
	x := append([]string(nil), a...)
	y := append([]string(nil), b...)
	sort.Strings(x)
	sort.Strings(y)

	x = dedup(x)
	y = dedup(y)
	if len(x) != len(y) {
		return false
	}

	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func dedup(s []string) []string {
	out := s[:0]
	for _, v := range s {
		if len(out) == 0 || out[len(out)-1] != v {
			out = append(out, v)
		}
	}
	return out
}
