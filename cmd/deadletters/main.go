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


package deadletters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vs49688/mailtriage/cmd/config"
	"github.com/vs49688/mailtriage/store"
)

var errMissingID = errors.New("a dead letter id is required")

type Store interface {
	GetDeadLetter(ctx context.Context, id string) (*store.DeadLetter, error)
	ListDeadLetters(ctx context.Context, f store.DeadLetterFilter) ([]*store.DeadLetter, error)
	UpdateDeadLetterStatus(ctx context.Context, id string, status store.DeadLetterStatus) error
	DeleteDeadLetter(ctx context.Context, id string) error
}

type listConfig struct {
	Account string
	Status  string
	Limit   int
	JSON    bool
}

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &config.CliConfig{}
	list := &listConfig{}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "dead-letters",
		Usage: "Review messages the classifier did not act on",
		Flags: cfg.Parameters(),
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List dead letters",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "account", Usage: "only this account", Destination: &list.Account},
					&cli.StringFlag{Name: "status", Usage: "pending/resolved/dismissed, empty for all", Destination: &list.Status, Value: string(store.DeadLetterPending)},
					&cli.IntFlag{Name: "limit", Usage: "maximum entries to show", Destination: &list.Limit, Value: 50},
					&cli.BoolFlag{Name: "json", Usage: "print as json", Destination: &list.JSON},
				},
				Action: func(c *cli.Context) error {
					return withStore(cfg, func(s Store) error {
						return listDeadLetters(c.Context, s, list, os.Stdout)
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Show a dead letter",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					return withStore(cfg, func(s Store) error {
						return showDeadLetter(c.Context, s, c.Args().First(), os.Stdout)
					})
				},
			},
			statusCommand(cfg, "resolve", "Mark a dead letter as handled", store.DeadLetterResolved),
			statusCommand(cfg, "dismiss", "Dismiss a dead letter", store.DeadLetterDismissed),
			statusCommand(cfg, "reopen", "Return a dead letter to pending", store.DeadLetterPending),
			{
				Name:      "delete",
				Usage:     "Delete a dead letter",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					return withStore(cfg, func(s Store) error {
						id := c.Args().First()
						if err := s.DeleteDeadLetter(c.Context, id); err != nil {
							return err
						}
						log.WithField("id", id).Info("dead_letter_deleted")
						return nil
					})
				},
			},
		},
	})
	return app
}

func statusCommand(cfg *config.CliConfig, name string, usage string, status store.DeadLetterStatus) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "<id>...",
		Action: func(c *cli.Context) error {
			return withStore(cfg, func(s Store) error {
				return setStatus(c.Context, s, c.Args().Slice(), status)
			})
		},
	}
}

func withStore(cfg *config.CliConfig, fn func(s Store) error) error {
	cfg.ConfigureLogging()

	db, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db)
}

func listDeadLetters(ctx context.Context, s Store, cfg *listConfig, w io.Writer) error {
	dls, err := s.ListDeadLetters(ctx, store.DeadLetterFilter{
		Account: cfg.Account,
		Status:  store.DeadLetterStatus(cfg.Status),
		Limit:   cfg.Limit,
	})
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dls)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tACCOUNT\tFOLDER\tUID\tACTION\tCONFIDENCE\tSTATUS\tSUBJECT")
	for _, dl := range dls {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%.2f\t%v\t%v\n",
			dl.ID, dl.Account, dl.Folder, dl.UID, dl.Action, dl.Confidence, dl.Status, dl.Subject)
	}
	return tw.Flush()
}

func showDeadLetter(ctx context.Context, s Store, id string, w io.Writer) error {
	if id == "" {
		return errMissingID
	}

	dl, err := s.GetDeadLetter(ctx, id)
	if err != nil {
		return fmt.Errorf("%v: %w", id, err)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dl)
}

func setStatus(ctx context.Context, s Store, ids []string, status store.DeadLetterStatus) error {
	if len(ids) == 0 {
		return errMissingID
	}

	for _, id := range ids {
		if err := s.UpdateDeadLetterStatus(ctx, id, status); err != nil {
			return fmt.Errorf("%v: %w", id, err)
		}
		log.WithFields(log.Fields{"id": id, "status": status}).Info("dead_letter_updated")
	}
	return nil
}
