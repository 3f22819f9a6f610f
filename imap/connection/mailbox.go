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

package connection

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	goImap "github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/imap"
	"github.com/vs49688/mailtriage/pipeline"
)

func (c *Connection) Unprocessed(ctx context.Context, folder string, limit int) ([]*pipeline.Message, error) {
	var out []*pipeline.Message
	err := c.withControl(ctx, func(cl imap.Client) error {
		if err := c.selectLocked(cl, folder); err != nil {
			return err
		}

		criteria := goImap.NewSearchCriteria()
		criteria.WithoutFlags = []string{pipeline.ProcessedKeyword, goImap.DeletedFlag}

		uids, err := cl.UidSearch(criteria)
		if err != nil {
			return err
		}

		if len(uids) == 0 {
			return nil
		}

		sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
		if limit > 0 && len(uids) > limit {
			uids = uids[:limit]
		}

		seqset := new(goImap.SeqSet)
		seqset.AddNum(uids...)

		section := &goImap.BodySectionName{Peek: true}
		items := []goImap.FetchItem{goImap.FetchUid, section.FetchItem()}

		ch := make(chan *goImap.Message, len(uids))
		if err := cl.UidFetch(seqset, items, ch); err != nil {
			return err
		}

		for msg := range ch {
			m, err := parseMessage(msg)
			if err != nil {
				c.log.WithError(err).WithFields(log.Fields{
					"folder": folder,
					"uid":    msg.Uid,
				}).Warn("connection_message_parse_failed")
			}
			out = append(out, m)
		}

		return nil
	})

	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, err
}

func (c *Connection) MarkProcessed(ctx context.Context, folder string, uid uint32) error {
	return c.store(ctx, folder, uid, pipeline.ProcessedKeyword)
}

func (c *Connection) store(ctx context.Context, folder string, uid uint32, flag string) error {
	return c.withControl(ctx, func(cl imap.Client) error {
		if err := c.selectLocked(cl, folder); err != nil {
			return err
		}

		return storeFlag(cl, uid, flag)
	})
}

func storeFlag(cl imap.Client, uid uint32, flag string) error {
	seqset := new(goImap.SeqSet)
	seqset.AddNum(uid)
	return cl.UidStore(seqset, goImap.FormatFlagsOp(goImap.AddFlags, true), []interface{}{flag}, nil)
}

func (c *Connection) Apply(ctx context.Context, folder string, uid uint32, action pipeline.Action, target string) error {
	switch action {
	case pipeline.ActionNone:
		return nil
	case pipeline.ActionMarkRead:
		return c.store(ctx, folder, uid, goImap.SeenFlag)
	case pipeline.ActionFlag:
		return c.store(ctx, folder, uid, goImap.FlaggedFlag)
	case pipeline.ActionDelete:
		return c.withControl(ctx, func(cl imap.Client) error {
			if err := c.selectLocked(cl, folder); err != nil {
				return err
			}

			if err := storeFlag(cl, uid, goImap.DeletedFlag); err != nil {
				return err
			}

			return cl.Expunge(nil)
		})
	case pipeline.ActionArchive, pipeline.ActionSpam, pipeline.ActionMove:
		if target == "" {
			return fmt.Errorf("%v requires a destination folder", action)
		}

		return c.withControl(ctx, func(cl imap.Client) error {
			if err := c.selectLocked(cl, folder); err != nil {
				return err
			}

			return c.moveLocked(cl, uid, target)
		})
	}

	return fmt.Errorf("unknown action %q", action)
}

func (c *Connection) moveLocked(cl imap.Client, uid uint32, target string) error {
	seqset := new(goImap.SeqSet)
	seqset.AddNum(uid)

	if c.canMove {
		return cl.UidMove(seqset, target)
	}

	if err := cl.UidCopy(seqset, target); err != nil {
		return err
	}

	if err := storeFlag(cl, uid, goImap.DeletedFlag); err != nil {
		return err
	}

	return cl.Expunge(nil)
}

func parseMessage(msg *goImap.Message) (*pipeline.Message, error) {
	out := &pipeline.Message{UID: msg.Uid}

	var body goImap.Literal
	for _, l := range msg.Body {
		body = l
		break
	}

	if body == nil {
		return out, fmt.Errorf("server returned no body")
	}

	mr, err := mail.CreateReader(body)
	if err != nil && !message.IsUnknownCharset(err) {
		return out, err
	}
	defer mr.Close()

	h := mr.Header
	out.Subject, _ = h.Subject()
	out.MessageID, _ = h.MessageID()
	out.Date, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		out.From = from[0].String()
	} else {
		out.From = h.Get("From")
	}

	var text, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return out, err
		}

		ih, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := ih.ContentType()
		if ct != "text/plain" && ct != "text/html" && ct != "" {
			continue
		}

		b, err := io.ReadAll(io.LimitReader(p.Body, maxBodyBytes))
		if err != nil {
			return out, err
		}

		if ct == "text/html" {
			if html == "" {
				html = string(b)
			}
		} else if text == "" {
			text = string(b)
		}
	}

	if text != "" {
		out.Body = strings.TrimSpace(text)
	} else {
		out.Body = strings.TrimSpace(html)
	}

	return out, nil
}
