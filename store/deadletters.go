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
	"strings"
	"time"

	"github.com/google/uuid"
)

type deadLetterRow struct {
	ID         string  `db:"id"`
	Account    string  `db:"account"`
	Folder     string  `db:"folder"`
	UID        int64   `db:"uid"`
	MessageID  string  `db:"message_id"`
	Subject    string  `db:"subject"`
	Sender     string  `db:"sender"`
	Action     string  `db:"action"`
	Confidence float64 `db:"confidence"`
	Reason     string  `db:"reason"`
	Status     string  `db:"status"`
	CreatedAt  int64   `db:"created_at"`
	UpdatedAt  int64   `db:"updated_at"`
}

func (r *deadLetterRow) deadLetter() *DeadLetter {
	return &DeadLetter{
		ID:         r.ID,
		Account:    r.Account,
		Folder:     r.Folder,
		UID:        uint32(r.UID),
		MessageID:  r.MessageID,
		Subject:    r.Subject,
		Sender:     r.Sender,
		Action:     r.Action,
		Confidence: r.Confidence,
		Reason:     r.Reason,
		Status:     DeadLetterStatus(r.Status),
		CreatedAt:  fromMillis(r.CreatedAt),
		UpdatedAt:  fromMillis(r.UpdatedAt),
	}
}

// CreateDeadLetter inserts dl, filling in its ID, status and timestamps
// when they are unset.
func (s *SQLiteStore) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}

	if dl.Status == "" {
		dl.Status = DeadLetterPending
	}

	now := time.Now()
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = now
	}
	dl.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			id, account, folder, uid, message_id, subject, sender,
			action, confidence, reason, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.Account, dl.Folder, int64(dl.UID), dl.MessageID, dl.Subject, dl.Sender,
		dl.Action, dl.Confidence, dl.Reason, string(dl.Status),
		toMillis(dl.CreatedAt), toMillis(dl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("creating dead letter: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	var row deadLetterRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM dead_letters WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, fmt.Errorf("getting dead letter %s: %w", id, err)
	}
	return row.deadLetter(), nil
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, f DeadLetterFilter) ([]*DeadLetter, error) {
	var conditions []string
	var args []interface{}

	if f.Account != "" {
		conditions = append(conditions, "account = ?")
		args = append(args, f.Account)
	}

	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT * FROM dead_letters"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	var rows []deadLetterRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}

	out := make([]*DeadLetter, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].deadLetter())
	}
	return out, nil
}

func (s *SQLiteStore) UpdateDeadLetterStatus(ctx context.Context, id string, status DeadLetterStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE dead_letters SET status = ?, updated_at = ? WHERE id = ?",
		string(status), toMillis(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("updating dead letter %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM dead_letters WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dead letter %s: %w", id, err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
