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


package run

import (
	"context"
	"sync"

	appconfig "github.com/vs49688/mailtriage/config"
)

// reloadQueue holds the most recently loaded configuration until the
// reload goroutine picks it up. A newer push replaces one still waiting,
// so a slow apply is never followed by a stale one.
type reloadQueue struct {
	mu     sync.Mutex
	next   *appconfig.Config
	notify chan struct{}
}

func newReloadQueue() *reloadQueue {
	return &reloadQueue{notify: make(chan struct{}, 1)}
}

func (q *reloadQueue) Push(next *appconfig.Config) {
	q.mu.Lock()
	q.next = next
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *reloadQueue) take() *appconfig.Config {
	q.mu.Lock()
	defer q.mu.Unlock()

	next := q.next
	q.next = nil
	return next
}

// Run applies queued configurations one at a time until ctx is done.
func (q *reloadQueue) Run(ctx context.Context, apply func(next *appconfig.Config)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.notify:
			if next := q.take(); next != nil {
				apply(next)
			}
		}
	}
}
