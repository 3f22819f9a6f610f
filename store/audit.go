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
	"fmt"
	"time"
)

type auditRow struct {
	ID         int64   `db:"id"`
	Account    string  `db:"account"`
	Folder     string  `db:"folder"`
	UID        int64   `db:"uid"`
	MessageID  string  `db:"message_id"`
	Subject    string  `db:"subject"`
	Action     string  `db:"action"`
	Target     string  `db:"target"`
	Confidence float64 `db:"confidence"`
	Provider   string  `db:"provider"`
	Model      string  `db:"model"`
	CreatedAt  int64   `db:"created_at"`
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (
			account, folder, uid, message_id, subject, action,
			target, confidence, provider, model, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Account, e.Folder, int64(e.UID), e.MessageID, e.Subject, e.Action,
		e.Target, e.Confidence, e.Provider, e.Model, toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// ListAudit returns the most recent entries for account, newest first.
// An empty account lists every account.
func (s *SQLiteStore) ListAudit(ctx context.Context, account string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := "SELECT * FROM audit_log"
	var args []interface{}
	if account != "" {
		query += " WHERE account = ?"
		args = append(args, account)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing audit log: %w", err)
	}

	out := make([]*AuditEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, &AuditEntry{
			ID:         r.ID,
			Account:    r.Account,
			Folder:     r.Folder,
			UID:        uint32(r.UID),
			MessageID:  r.MessageID,
			Subject:    r.Subject,
			Action:     r.Action,
			Target:     r.Target,
			Confidence: r.Confidence,
			Provider:   r.Provider,
			Model:      r.Model,
			CreatedAt:  fromMillis(r.CreatedAt),
		})
	}
	return out, nil
}
