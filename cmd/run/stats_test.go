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

	"github.com/vs49688/mailtriage/ratelimit"
	"github.com/vs49688/mailtriage/store"
)

type fakeStats []ratelimit.Stats

func (f fakeStats) Stats() []ratelimit.Stats { return f }

type fakeSink struct {
	mu     sync.Mutex
	writes [][]store.ProviderStatus
}

func (f *fakeSink) ReplaceProviderStatuses(ctx context.Context, statuses []store.ProviderStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, statuses)
	return nil
}

func TestProviderStatuses(t *testing.T) {
	limit := 10
	now := time.Date(2022, 6, 1, 12, 0, 0, 0, time.UTC)

	out := providerStatuses([]ratelimit.Stats{{
		Name:               "openai",
		Model:              "gpt-4o-mini",
		RequestsToday:      4,
		RequestsTotal:      40,
		RequestsLastMinute: 10,
		RPMLimit:           &limit,
		RateLimited:        true,
	}}, now)

	assert.Equal(t, []store.ProviderStatus{{
		Name:               "openai",
		Model:              "gpt-4o-mini",
		RequestsToday:      4,
		RequestsTotal:      40,
		RequestsLastMinute: 10,
		RPMLimit:           &limit,
		RateLimited:        true,
		UpdatedAt:          now,
	}}, out)

	assert.Empty(t, providerStatuses(nil, now))
}

func TestPersistProviderStatsFlushesOnCancel(t *testing.T) {
	sink := &fakeSink{}
	src := fakeStats{{Name: "openai"}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		persistProviderStats(ctx, sink, src, time.Hour)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("persistProviderStats did not return")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.writes, 2)
	assert.Equal(t, "openai", sink.writes[1][0].Name)
}
