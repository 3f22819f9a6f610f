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

package pipeline

import (
	"context"
	"time"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/llm"
	"github.com/vs49688/mailtriage/store"
)

// ProcessedKeyword marks messages that have been classified.
const ProcessedKeyword = "$MailTriaged"

type Action string

const (
	ActionNone     Action = "none"
	ActionMarkRead Action = "mark_read"
	ActionFlag     Action = "flag"
	ActionArchive  Action = "archive"
	ActionSpam     Action = "spam"
	ActionDelete   Action = "delete"
	ActionMove     Action = "move"
)

type Message struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Date      time.Time
	Body      string
}

type Mailbox interface {
	// Unprocessed returns up to limit messages in folder that do not carry
	// ProcessedKeyword, oldest first.
	Unprocessed(ctx context.Context, folder string, limit int) ([]*Message, error)

	MarkProcessed(ctx context.Context, folder string, uid uint32) error

	// Apply performs action on the message. target is the destination
	// folder for archive, spam and move.
	Apply(ctx context.Context, folder string, uid uint32, action Action, target string) error
}

// AccountContext is what a processing run needs to know about an account.
// It is replaced, never mutated, when the account changes.
type AccountContext struct {
	Account *config.Account
	Mailbox Mailbox
	Binding *llm.Binding
}

type Processor interface {
	ProcessMailbox(ctx context.Context, actx *AccountContext, folder string) error
}

type DeadLetterSink interface {
	CreateDeadLetter(ctx context.Context, dl *store.DeadLetter) error
}

type AuditSink interface {
	AppendAudit(ctx context.Context, e *store.AuditEntry) error
}
