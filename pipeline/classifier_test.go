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
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/llm"
	"github.com/vs49688/mailtriage/store"
)

type appliedAction struct {
	UID    uint32
	Action Action
	Target string
}

type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[uint32]*Message
	processed map[uint32]bool
	applied   []appliedAction
	listErr   error
}

func newFakeMailbox(msgs ...*Message) *fakeMailbox {
	mb := &fakeMailbox{messages: map[uint32]*Message{}, processed: map[uint32]bool{}}
	for _, m := range msgs {
		mb.messages[m.UID] = m
	}
	return mb
}

func (m *fakeMailbox) Unprocessed(ctx context.Context, folder string, limit int) ([]*Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}

	var out []*Message
	for uid, msg := range m.messages {
		if !m.processed[uid] {
			out = append(out, msg)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *fakeMailbox) MarkProcessed(ctx context.Context, folder string, uid uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[uid] = true
	return nil
}

func (m *fakeMailbox) Apply(ctx context.Context, folder string, uid uint32, action Action, target string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applied = append(m.applied, appliedAction{UID: uid, Action: action, Target: target})
	return nil
}

// scriptedCompleter answers by subject.
type scriptedCompleter struct {
	replies map[string]string
	errs    map[string]error
	calls   int
}

func (c *scriptedCompleter) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	c.calls++
	for subject, err := range c.errs {
		if strings.Contains(req.Prompt, "Subject: "+subject+"\n") {
			return nil, err
		}
	}

	for subject, reply := range c.replies {
		if strings.Contains(req.Prompt, "Subject: "+subject+"\n") {
			return &llm.Response{Text: reply}, nil
		}
	}

	return &llm.Response{Text: `{"action":"none","confidence":1}`}, nil
}

func testAccount() *config.Account {
	return &config.Account{
		Name:                "work",
		Folders:             []string{"INBOX"},
		AllowedActions:      []string{"archive", "spam", "flag"},
		ConfidenceThreshold: 0.7,
		ArchiveFolder:       "Archive",
		SpamFolder:          "Junk",
	}
}

func openStore(t *testing.T) *store.SQLiteStore {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestParseDecision(t *testing.T) {
	d, err := ParseDecision("Sure!\n```json\n{\"action\": \"Archive\", \"confidence\": 0.9, \"reason\": \"newsletter\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, ActionArchive, d.Action)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, "newsletter", d.Reason)

	d, err = ParseDecision(`{"confidence": 0.2}`)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, d.Action)

	_, err = ParseDecision("I cannot help with that")
	assert.Error(t, err)

	_, err = ParseDecision("{not json}")
	assert.Error(t, err)
}

func TestProcessMailbox(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mb := newFakeMailbox(
		&Message{UID: 1, Subject: "weekly digest"},
		&Message{UID: 2, Subject: "cheap pills"},
		&Message{UID: 3, Subject: "unsure"},
		&Message{UID: 4, Subject: "wipe it"},
		&Message{UID: 5, Subject: "hello"},
	)

	comp := &scriptedCompleter{replies: map[string]string{
		"weekly digest": `{"action":"archive","confidence":0.95,"reason":"newsletter"}`,
		"cheap pills":   `{"action":"spam","confidence":0.99,"reason":"spam"}`,
		"unsure":        `{"action":"archive","confidence":0.4,"reason":"maybe"}`,
		"wipe it":       `{"action":"delete","confidence":0.99,"reason":"junk"}`,
	}}

	actx := &AccountContext{
		Account: testAccount(),
		Mailbox: mb,
		Binding: &llm.Binding{Provider: "openai", Model: "gpt-4o-mini", Client: comp},
	}

	c := NewClassifier(&Config{DeadLetters: s, Audit: s, BatchSize: 2})
	require.NoError(t, c.ProcessMailbox(ctx, actx, "INBOX"))

	assert.Equal(t, 5, comp.calls)
	for uid := uint32(1); uid <= 5; uid++ {
		assert.True(t, mb.processed[uid], "uid %v not marked", uid)
	}

	assert.Equal(t, []appliedAction{
		{UID: 1, Action: ActionArchive, Target: "Archive"},
		{UID: 2, Action: ActionSpam, Target: "Junk"},
		{UID: 5, Action: ActionNone},
	}, mb.applied)

	dls, err := s.ListDeadLetters(ctx, store.DeadLetterFilter{Account: "work"})
	require.NoError(t, err)
	require.Len(t, dls, 2)

	byUID := map[uint32]*store.DeadLetter{}
	for _, dl := range dls {
		byUID[dl.UID] = dl
	}
	require.Contains(t, byUID, uint32(3))
	require.Contains(t, byUID, uint32(4))
	assert.Contains(t, byUID[3].Reason, "below threshold")
	assert.Contains(t, byUID[4].Reason, "not allowed")
	assert.Equal(t, store.DeadLetterPending, byUID[4].Status)

	audit, err := s.ListAudit(ctx, "work", 10)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	assert.Equal(t, "gpt-4o-mini", audit[0].Model)

	// Nothing is left, so a second run classifies nothing.
	require.NoError(t, c.ProcessMailbox(ctx, actx, "INBOX"))
	assert.Equal(t, 5, comp.calls)
}

func TestProcessMailboxRateLimitAborts(t *testing.T) {
	mb := newFakeMailbox(
		&Message{UID: 1, Subject: "a"},
		&Message{UID: 2, Subject: "b"},
		&Message{UID: 3, Subject: "c"},
	)

	comp := &scriptedCompleter{errs: map[string]error{"b": llm.ErrRateLimited}}
	actx := &AccountContext{
		Account: testAccount(),
		Mailbox: mb,
		Binding: &llm.Binding{Provider: "openai", Model: "m", Client: comp},
	}

	c := NewClassifier(&Config{})
	err := c.ProcessMailbox(context.Background(), actx, "INBOX")
	assert.ErrorIs(t, err, llm.ErrRateLimited)
	assert.Equal(t, 2, comp.calls)
	assert.True(t, mb.processed[1])
	assert.False(t, mb.processed[2])
	assert.False(t, mb.processed[3])
}

func TestProcessMailboxFailedMessageRetriedNextRun(t *testing.T) {
	mb := newFakeMailbox(
		&Message{UID: 1, Subject: "a"},
		&Message{UID: 2, Subject: "broken"},
		&Message{UID: 3, Subject: "c"},
	)

	comp := &scriptedCompleter{errs: map[string]error{"broken": errors.New("upstream returned 502")}}
	actx := &AccountContext{
		Account: testAccount(),
		Mailbox: mb,
		Binding: &llm.Binding{Provider: "openai", Model: "m", Client: comp},
	}

	c := NewClassifier(&Config{BatchSize: 1})
	err := c.ProcessMailbox(context.Background(), actx, "INBOX")
	assert.Error(t, err)
	assert.True(t, mb.processed[1])
	assert.False(t, mb.processed[2])
	assert.Equal(t, 2, comp.calls)

	// The failed message blocks the batch, so later messages wait.
	assert.False(t, mb.processed[3])

	delete(comp.errs, "broken")
	require.NoError(t, c.ProcessMailbox(context.Background(), actx, "INBOX"))
	assert.True(t, mb.processed[2])
	assert.True(t, mb.processed[3])
}

func TestProcessMailboxUnparseableDeadLettered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	mb := newFakeMailbox(
		&Message{UID: 1, Subject: "garbled", MessageID: "a@b"},
		&Message{UID: 2, Subject: "fine"},
	)

	comp := &scriptedCompleter{replies: map[string]string{"garbled": "I'd archive this one."}}
	actx := &AccountContext{
		Account: testAccount(),
		Mailbox: mb,
		Binding: &llm.Binding{Provider: "openai", Model: "m", Client: comp},
	}

	c := NewClassifier(&Config{DeadLetters: s, BatchSize: 1})
	require.NoError(t, c.ProcessMailbox(ctx, actx, "INBOX"))
	assert.True(t, mb.processed[1])
	assert.True(t, mb.processed[2])
	assert.Equal(t, []appliedAction{{UID: 2, Action: ActionNone}}, mb.applied)

	dls, err := s.ListDeadLetters(ctx, store.DeadLetterFilter{Account: "work"})
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal(t, uint32(1), dls[0].UID)
	assert.Contains(t, dls[0].Reason, "unparseable")

	require.NoError(t, c.ProcessMailbox(ctx, actx, "INBOX"))
	assert.Equal(t, 2, comp.calls)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel", truncate("hello", 3))

	// "П" and "р" are two bytes each; cutting at 3 would split "р".
	assert.Equal(t, "П", truncate("Привет", 3))
	assert.Equal(t, "Пр", truncate("Привет", 4))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("日本", 3000), maxPromptBody)))
}

func TestProcessMailboxListError(t *testing.T) {
	mb := newFakeMailbox()
	mb.listErr = errors.New("connection lost")

	actx := &AccountContext{
		Account: testAccount(),
		Mailbox: mb,
		Binding: &llm.Binding{Client: &scriptedCompleter{}},
	}

	err := NewClassifier(&Config{}).ProcessMailbox(context.Background(), actx, "INBOX")
	assert.ErrorIs(t, err, mb.listErr)
}
