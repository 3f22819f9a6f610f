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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/ratelimit"
	"github.com/vs49688/mailtriage/store"
)

type providerStatsSource interface {
	Stats() []ratelimit.Stats
}

type providerStatsSink interface {
	ReplaceProviderStatuses(ctx context.Context, statuses []store.ProviderStatus) error
}

// persistProviderStats snapshots the limiter's counters into the store
// every interval, and once more when ctx is cancelled.
func persistProviderStats(ctx context.Context, sink providerStatsSink, src providerStatsSource, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	write := func(ctx context.Context) {
		statuses := providerStatuses(src.Stats(), time.Now())
		if err := sink.ReplaceProviderStatuses(ctx, statuses); err != nil {
			log.WithError(err).Warn("provider_stats_write_failed")
		}
	}

	write(ctx)
	for {
		select {
		case <-ticker.C:
			write(ctx)
		case <-ctx.Done():
			write(context.Background())
			return
		}
	}
}

func providerStatuses(stats []ratelimit.Stats, now time.Time) []store.ProviderStatus {
	out := make([]store.ProviderStatus, 0, len(stats))
	for _, st := range stats {
		out = append(out, store.ProviderStatus{
			Name:               st.Name,
			Model:              st.Model,
			RequestsToday:      st.RequestsToday,
			RequestsTotal:      st.RequestsTotal,
			RequestsLastMinute: st.RequestsLastMinute,
			RPMLimit:           st.RPMLimit,
			RateLimited:        st.RateLimited,
			UpdatedAt:          now,
		})
	}
	return out
}
