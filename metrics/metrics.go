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

// Package metrics holds the prometheus collectors. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	SignalProcessed = "processed"
	SignalPaused    = "paused"
	SignalDebounced = "debounced"
	SignalInFlight  = "in_flight"
	SignalStale     = "stale"

	ResultOK          = "ok"
	ResultError       = "error"
	ResultRateLimited = "rate_limited"
)

type Metrics struct {
	signals     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	inFlight    prometheus.Gauge
	connected   *prometheus.GaugeVec
	reconnects  *prometheus.CounterVec
	llmRequests *prometheus.CounterVec
	actions     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_new_mail_signals_total",
				Help: "New mail signals received per folder and what was done with them.",
			},
			[]string{
				"account",
				"folder",
				"outcome", // processed, paused, debounced, in_flight, stale
			},
		),
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_processing_runs_total",
				Help: "Completed mailbox processing runs.",
			},
			[]string{"account", "folder", "result"},
		),
		inFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "mailtriage_processing_in_flight",
				Help: "Processing runs currently executing.",
			},
		),
		connected: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mailtriage_account_connected",
				Help: "Whether an account has a live connection with every folder watched.",
			},
			[]string{"account"},
		),
		reconnects: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_watch_reconnects_total",
				Help: "Watch sessions re-established after a transient failure.",
			},
			[]string{"account", "folder"},
		),
		llmRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_llm_requests_total",
				Help: "LLM requests per provider.",
			},
			[]string{
				"provider",
				"result", // ok, error, rate_limited
			},
		),
		actions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mailtriage_actions_total",
				Help: "Mailbox actions applied, including dead-lettered messages.",
			},
			[]string{"account", "action"},
		),
	}
}

func (m *Metrics) Signal(account, folder, outcome string) {
	if m == nil {
		return
	}
	m.signals.WithLabelValues(account, folder, outcome).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) RunFinished(account, folder string, err error) {
	if m == nil {
		return
	}

	m.inFlight.Dec()
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.runs.WithLabelValues(account, folder, result).Inc()
}

func (m *Metrics) Connected(account string, connected bool) {
	if m == nil {
		return
	}

	v := 0.0
	if connected {
		v = 1
	}
	m.connected.WithLabelValues(account).Set(v)
}

func (m *Metrics) Forget(account string) {
	if m == nil {
		return
	}
	m.connected.DeleteLabelValues(account)
}

func (m *Metrics) Reconnected(account, folder string) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(account, folder).Inc()
}

func (m *Metrics) LLMRequest(provider, result string) {
	if m == nil {
		return
	}
	m.llmRequests.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) Action(account, action string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(account, action).Inc()
}
