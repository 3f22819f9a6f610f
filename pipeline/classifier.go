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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/llm"
	"github.com/vs49688/mailtriage/metrics"
	"github.com/vs49688/mailtriage/store"
)

const systemPrompt = `You triage email. Reply with a single JSON object and nothing else:
{"action": "<one of: none, mark_read, flag, archive, spam, delete, move>",
 "target": "<destination folder, only for move>",
 "confidence": <number between 0 and 1>,
 "reason": "<short explanation>"}`

const maxPromptBody = 4000

// errUnparseable marks a model reply that held no usable decision.
var errUnparseable = errors.New("unparseable model reply")

type Decision struct {
	Action     Action  `json:"action"`
	Target     string  `json:"target"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type Config struct {
	DeadLetters DeadLetterSink
	Audit       AuditSink
	Metrics     *metrics.Metrics
	BatchSize   int
	Log         *log.Entry
}

// Classifier is the default Processor. Each message is classified once.
// Confident decisions the account allows are applied, the rest are
// dead-lettered for review.
type Classifier struct {
	cfg Config
}

func NewClassifier(cfg *Config) *Classifier {
	ourCfg := *cfg
	if ourCfg.BatchSize <= 0 {
		ourCfg.BatchSize = 20
	}

	if ourCfg.Log == nil {
		ourCfg.Log = log.NewEntry(log.StandardLogger())
	}

	return &Classifier{cfg: ourCfg}
}

func (c *Classifier) ProcessMailbox(ctx context.Context, actx *AccountContext, folder string) error {
	e := c.cfg.Log.WithFields(log.Fields{"account": actx.Account.Name, "folder": folder})

	seen := map[uint32]struct{}{}
	var errs []error
	for {
		msgs, err := actx.Mailbox.Unprocessed(ctx, folder, c.cfg.BatchSize)
		if err != nil {
			return errors.Join(append(errs, fmt.Errorf("listing unprocessed messages: %w", err))...)
		}

		fresh := 0
		for _, msg := range msgs {
			if _, ok := seen[msg.UID]; ok {
				continue
			}
			seen[msg.UID] = struct{}{}
			fresh++

			if err := c.processMessage(ctx, actx, folder, msg); err != nil {
				if errors.Is(err, llm.ErrRateLimited) || ctx.Err() != nil {
					e.WithError(err).Warn("pipeline_run_aborted")
					return errors.Join(append(errs, err)...)
				}

				e.WithError(err).WithField("uid", msg.UID).Warn("pipeline_message_failed")
				errs = append(errs, err)
			}
		}

		if fresh == 0 || len(msgs) < c.cfg.BatchSize {
			break
		}
	}

	e.WithField("messages", len(seen)).Debug("pipeline_run_complete")
	return errors.Join(errs...)
}

func (c *Classifier) processMessage(ctx context.Context, actx *AccountContext, folder string, msg *Message) error {
	dec, err := c.classify(ctx, actx, msg)
	if errors.Is(err, errUnparseable) {
		c.cfg.Log.WithError(err).WithFields(log.Fields{
			"account": actx.Account.Name,
			"folder":  folder,
			"uid":     msg.UID,
		}).Warn("pipeline_reply_unparseable")
		return c.deadLetter(ctx, actx, folder, msg, &Decision{}, err.Error())
	} else if err != nil {
		return fmt.Errorf("classifying uid %v: %w", msg.UID, err)
	}

	acc := actx.Account
	reason := ""
	switch {
	case !acc.Allows(string(dec.Action)):
		reason = fmt.Sprintf("action %q not allowed", dec.Action)
	case dec.Confidence < acc.ConfidenceThreshold:
		reason = fmt.Sprintf("confidence %.2f below threshold %.2f", dec.Confidence, acc.ConfidenceThreshold)
	case dec.Action == ActionMove && dec.Target == "":
		reason = "move without target folder"
	}

	if reason != "" {
		return c.deadLetter(ctx, actx, folder, msg, dec, reason+": "+dec.Reason)
	}

	target := dec.Target
	switch dec.Action {
	case ActionArchive:
		target = acc.ArchiveFolder
	case ActionSpam:
		target = acc.SpamFolder
	case ActionMove:
	default:
		target = ""
	}

	// Mark first so the keyword travels with the message if it is moved.
	if err := actx.Mailbox.MarkProcessed(ctx, folder, msg.UID); err != nil {
		return err
	}

	if err := actx.Mailbox.Apply(ctx, folder, msg.UID, dec.Action, target); err != nil {
		return fmt.Errorf("applying %v to uid %v: %w", dec.Action, msg.UID, err)
	}

	c.cfg.Metrics.Action(acc.Name, string(dec.Action))
	c.cfg.Log.WithFields(log.Fields{
		"account":    acc.Name,
		"folder":     folder,
		"uid":        msg.UID,
		"action":     dec.Action,
		"target":     target,
		"confidence": dec.Confidence,
	}).Info("pipeline_action_applied")

	if c.cfg.Audit != nil {
		return c.cfg.Audit.AppendAudit(ctx, &store.AuditEntry{
			Account:    acc.Name,
			Folder:     folder,
			UID:        msg.UID,
			MessageID:  msg.MessageID,
			Subject:    msg.Subject,
			Action:     string(dec.Action),
			Target:     target,
			Confidence: dec.Confidence,
			Provider:   actx.Binding.Provider,
			Model:      actx.Binding.Model,
		})
	}

	return nil
}

// deadLetter records msg for manual review and marks it processed so it
// is not classified again.
func (c *Classifier) deadLetter(ctx context.Context, actx *AccountContext, folder string, msg *Message, dec *Decision, reason string) error {
	name := actx.Account.Name
	if c.cfg.DeadLetters != nil {
		err := c.cfg.DeadLetters.CreateDeadLetter(ctx, &store.DeadLetter{
			Account:    name,
			Folder:     folder,
			UID:        msg.UID,
			MessageID:  msg.MessageID,
			Subject:    msg.Subject,
			Sender:     msg.From,
			Action:     string(dec.Action),
			Confidence: dec.Confidence,
			Reason:     reason,
		})
		if err != nil {
			return err
		}
	}

	c.cfg.Metrics.Action(name, "dead_letter")
	return actx.Mailbox.MarkProcessed(ctx, folder, msg.UID)
}

func (c *Classifier) classify(ctx context.Context, actx *AccountContext, msg *Message) (*Decision, error) {
	body := truncate(msg.Body, maxPromptBody)

	prompt := fmt.Sprintf("Allowed actions: %v\nFrom: %v\nSubject: %v\nDate: %v\n\n%v",
		strings.Join(append([]string{"none"}, actx.Account.AllowedActions...), ", "),
		msg.From, msg.Subject, msg.Date.Format("2006-01-02 15:04"), body)

	resp, err := actx.Binding.Client.Complete(ctx, &llm.Request{System: systemPrompt, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	dec, err := ParseDecision(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnparseable, err)
	}
	return dec, nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ParseDecision extracts the JSON object from a model reply, tolerating
// surrounding prose or code fences.
func ParseDecision(text string) (*Decision, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in reply: %q", text)
	}

	var d Decision
	if err := json.Unmarshal([]byte(text[start:end+1]), &d); err != nil {
		return nil, fmt.Errorf("decoding decision: %w", err)
	}

	d.Action = Action(strings.ToLower(strings.TrimSpace(string(d.Action))))
	if d.Action == "" {
		d.Action = ActionNone
	}

	return &d, nil
}
