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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/vs49688/mailtriage/config"
)

func TestReloadQueueKeepsLatest(t *testing.T) {
	q := newReloadQueue()

	first := &appconfig.Config{}
	second := &appconfig.Config{}
	third := &appconfig.Config{}
	fourth := &appconfig.Config{}

	var mu sync.Mutex
	var applied []*appconfig.Config
	started := make(chan struct{}, 4)
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Push(first)
	q.Push(second)

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, func(next *appconfig.Config) {
			mu.Lock()
			applied = append(applied, next)
			mu.Unlock()

			started <- struct{}{}
			<-release
		})
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("first reload never ran")
	}

	// Both arrive while the previous apply is still running.
	q.Push(third)
	q.Push(fourth)
	release <- struct{}{}

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("second reload never ran")
	}
	release <- struct{}{}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, applied, 2)
	assert.Same(t, second, applied[0])
	assert.Same(t, fourth, applied[1])
}
