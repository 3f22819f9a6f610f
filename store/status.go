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

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type accountStatusRow struct {
	Name          string        `db:"name"`
	Connected     bool          `db:"connected"`
	IdleSupported bool          `db:"idle_supported"`
	LLMProvider   string        `db:"llm_provider"`
	LLMModel      string        `db:"llm_model"`
	LastScan      sql.NullInt64 `db:"last_scan"`
	Paused        bool          `db:"paused"`
	Errors        int           `db:"errors"`
	UpdatedAt     int64         `db:"updated_at"`
}

func (r *accountStatusRow) status() *AccountStatus {
	s := &AccountStatus{
		Name:          r.Name,
		Connected:     r.Connected,
		IdleSupported: r.IdleSupported,
		LLMProvider:   r.LLMProvider,
		LLMModel:      r.LLMModel,
		Paused:        r.Paused,
		Errors:        r.Errors,
	}

	if r.LastScan.Valid {
		t := fromMillis(r.LastScan.Int64)
		s.LastScan = &t
	}

	return s
}

func (s *SQLiteStore) UpsertAccountStatus(ctx context.Context, st *AccountStatus) error {
	var lastScan sql.NullInt64
	if st.LastScan != nil {
		lastScan = sql.NullInt64{Int64: toMillis(*st.LastScan), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_status (
			name, connected, idle_supported, llm_provider, llm_model,
			last_scan, paused, errors, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			connected = excluded.connected,
			idle_supported = excluded.idle_supported,
			llm_provider = excluded.llm_provider,
			llm_model = excluded.llm_model,
			last_scan = excluded.last_scan,
			paused = excluded.paused,
			errors = excluded.errors,
			updated_at = excluded.updated_at`,
		st.Name, st.Connected, st.IdleSupported, st.LLMProvider, st.LLMModel,
		lastScan, st.Paused, st.Errors, toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting account status %s: %w", st.Name, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAccountStatus(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM account_status WHERE name = ?", name); err != nil {
		return fmt.Errorf("deleting account status %s: %w", name, err)
	}
	return nil
}

func (s *SQLiteStore) GetAccountStatus(ctx context.Context, name string) (*AccountStatus, error) {
	var row accountStatusRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM account_status WHERE name = ?", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting account status %s: %w", name, err)
	}
	return row.status(), nil
}

func (s *SQLiteStore) ListAccountStatuses(ctx context.Context) ([]*AccountStatus, error) {
	var rows []accountStatusRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM account_status ORDER BY name"); err != nil {
		return nil, fmt.Errorf("listing account statuses: %w", err)
	}

	out := make([]*AccountStatus, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].status())
	}
	return out, nil
}

type providerStatusRow struct {
	Name               string        `db:"name"`
	Model              string        `db:"model"`
	RequestsToday      int64         `db:"requests_today"`
	RequestsTotal      int64         `db:"requests_total"`
	RequestsLastMinute int           `db:"requests_last_minute"`
	RPMLimit           sql.NullInt64 `db:"rpm_limit"`
	RateLimited        bool          `db:"rate_limited"`
	UpdatedAt          int64         `db:"updated_at"`
}

// ReplaceProviderStatuses stores a snapshot of every provider, dropping
// rows for providers no longer present.
func (s *SQLiteStore) ReplaceProviderStatuses(ctx context.Context, statuses []ProviderStatus) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM provider_status"); err != nil {
		return fmt.Errorf("clearing provider status: %w", err)
	}

	for _, p := range statuses {
		var limit sql.NullInt64
		if p.RPMLimit != nil {
			limit = sql.NullInt64{Int64: int64(*p.RPMLimit), Valid: true}
		}

		updated := p.UpdatedAt
		if updated.IsZero() {
			updated = time.Now()
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO provider_status (
				name, model, requests_today, requests_total,
				requests_last_minute, rpm_limit, rate_limited, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Model, p.RequestsToday, p.RequestsTotal,
			p.RequestsLastMinute, limit, p.RateLimited, toMillis(updated),
		)
		if err != nil {
			return fmt.Errorf("inserting provider status %s: %w", p.Name, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListProviderStatuses(ctx context.Context) ([]ProviderStatus, error) {
	var rows []providerStatusRow
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM provider_status ORDER BY name"); err != nil {
		return nil, fmt.Errorf("listing provider statuses: %w", err)
	}

	out := make([]ProviderStatus, 0, len(rows))
	for _, r := range rows {
		p := ProviderStatus{
			Name:               r.Name,
			Model:              r.Model,
			RequestsToday:      r.RequestsToday,
			RequestsTotal:      r.RequestsTotal,
			RequestsLastMinute: r.RequestsLastMinute,
			RateLimited:        r.RateLimited,
			UpdatedAt:          fromMillis(r.UpdatedAt),
		}

		if r.RPMLimit.Valid {
			limit := int(r.RPMLimit.Int64)
			p.RPMLimit = &limit
		}

		out = append(out, p)
	}
	return out, nil
}
