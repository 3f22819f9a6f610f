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
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type AccountStatus struct {
	Name          string     `json:"name"`
	Connected     bool       `json:"connected"`
	IdleSupported bool       `json:"idle_supported"`
	LLMProvider   string     `json:"llm_provider"`
	LLMModel      string     `json:"llm_model"`
	LastScan      *time.Time `json:"last_scan,omitempty"`
	Paused        bool       `json:"paused"`
	Errors        int        `json:"errors"`
}

type ProviderStatus struct {
	Name               string    `json:"name"`
	Model              string    `json:"model"`
	RequestsToday      int64     `json:"requests_today"`
	RequestsTotal      int64     `json:"requests_total"`
	RequestsLastMinute int       `json:"requests_last_minute"`
	RPMLimit           *int      `json:"rpm_limit,omitempty"`
	RateLimited        bool      `json:"rate_limited"`
	UpdatedAt          time.Time `json:"updated_at"`
}

type DeadLetterStatus string

const (
	DeadLetterPending   DeadLetterStatus = "pending"
	DeadLetterResolved  DeadLetterStatus = "resolved"
	DeadLetterDismissed DeadLetterStatus = "dismissed"
)

// DeadLetter is a message the classifier was not confident enough about,
// or suggested an action the account does not allow.
type DeadLetter struct {
	ID         string           `json:"id"`
	Account    string           `json:"account"`
	Folder     string           `json:"folder"`
	UID        uint32           `json:"uid"`
	MessageID  string           `json:"message_id"`
	Subject    string           `json:"subject"`
	Sender     string           `json:"sender"`
	Action     string           `json:"action"`
	Confidence float64          `json:"confidence"`
	Reason     string           `json:"reason"`
	Status     DeadLetterStatus `json:"status"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

type DeadLetterFilter struct {
	Account string
	Status  DeadLetterStatus
	Limit   int
}

type AuditEntry struct {
	ID         int64     `json:"id"`
	Account    string    `json:"account"`
	Folder     string    `json:"folder"`
	UID        uint32    `json:"uid"`
	MessageID  string    `json:"message_id"`
	Subject    string    `json:"subject"`
	Action     string    `json:"action"`
	Target     string    `json:"target,omitempty"`
	Confidence float64   `json:"confidence"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}
