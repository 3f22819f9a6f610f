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

// Package ratelimit tracks request counts per LLM provider and enforces an
// optional requests-per-minute limit over a sliding window.
package ratelimit

import (
	"sort"
	"sync"
	"time"

	"github.com/vs49688/mailtriage/internal/clock"
)

const Window = time.Minute

type Provider struct {
	Name     string
	Model    string
	RPMLimit int
}

type Stats struct {
	Name               string    `json:"name"`
	Model              string    `json:"model"`
	RequestsToday      int64     `json:"requests_today"`
	RequestsTotal      int64     `json:"requests_total"`
	RequestsLastMinute int       `json:"requests_last_minute"`
	RPMLimit           *int      `json:"rpm_limit,omitempty"`
	RateLimited        bool      `json:"rate_limited"`
	LastResetAt        time.Time `json:"last_reset_at"`
}

type counter struct {
	model     string
	rpmLimit  int
	today     int64
	total     int64
	lastReset time.Time
	window    []time.Time
}

type Limiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	providers map[string]*counter
}

func New(c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System{}
	}

	return &Limiter{
		clock:     c,
		providers: map[string]*counter{},
	}
}

// Configure replaces the provider table. Counters of providers that are
// still present are kept, the rest are dropped.
func (l *Limiter) Configure(providers []Provider) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	next := make(map[string]*counter, len(providers))
	for _, p := range providers {
		c, ok := l.providers[p.Name]
		if !ok {
			c = &counter{lastReset: startOfDay(now)}
		}

		c.model = p.Model
		c.rpmLimit = p.RPMLimit
		next[p.Name] = c
	}

	l.providers = next
}

// Allow reports whether a request to the provider may be dispatched now
// without counting it. Providers that were never configured are unlimited.
func (l *Limiter) Allow(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.providers[name]
	if !ok {
		return true
	}

	l.refreshLocked(c)
	return c.admits()
}

// Acquire admits and counts a request in one step. It returns false,
// counting nothing, when the provider is at its limit.
func (l *Limiter) Acquire(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.ensureLocked(name)
	l.refreshLocked(c)
	if !c.admits() {
		return false
	}

	l.recordLocked(c)
	return true
}

// Record counts a request regardless of the limit.
func (l *Limiter) Record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := l.ensureLocked(name)
	l.refreshLocked(c)
	l.recordLocked(c)
}

func (l *Limiter) Usage(name string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.providers[name]
	if !ok {
		return Stats{Name: name, LastResetAt: startOfDay(l.clock.Now())}
	}

	l.refreshLocked(c)
	return c.stats(name)
}

func (l *Limiter) Stats() []Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := make([]Stats, 0, len(l.providers))
	for name, c := range l.providers {
		l.refreshLocked(c)
		stats = append(stats, c.stats(name))
	}

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// ensureLocked returns the counter for name, registering an unlimited one
// for providers that were never configured. Only paths that count a
// request register.
func (l *Limiter) ensureLocked(name string) *counter {
	c, ok := l.providers[name]
	if !ok {
		c = &counter{lastReset: startOfDay(l.clock.Now())}
		l.providers[name] = c
	}
	return c
}

func (l *Limiter) recordLocked(c *counter) {
	c.today++
	c.total++
	c.window = append(c.window, l.clock.Now())
}

func (l *Limiter) refreshLocked(c *counter) {
	now := l.clock.Now()

	if day := startOfDay(now); day.After(c.lastReset) {
		c.today = 0
		c.lastReset = day
	}

	cutoff := now.Add(-Window)
	i := 0
	for i < len(c.window) && !c.window[i].After(cutoff) {
		i++
	}
	c.window = c.window[i:]
}

func (c *counter) admits() bool {
	return c.rpmLimit <= 0 || len(c.window) < c.rpmLimit
}

func (c *counter) stats(name string) Stats {
	s := Stats{
		Name:               name,
		Model:              c.model,
		RequestsToday:      c.today,
		RequestsTotal:      c.total,
		RequestsLastMinute: len(c.window),
		LastResetAt:        c.lastReset,
	}

	if c.rpmLimit > 0 {
		limit := c.rpmLimit
		s.RPMLimit = &limit
		s.RateLimited = len(c.window) >= limit
	}

	return s
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
