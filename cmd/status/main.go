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


package status

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vs49688/mailtriage/cmd/config"
	"github.com/vs49688/mailtriage/store"
)

type Store interface {
	ListAccountStatuses(ctx context.Context) ([]*store.AccountStatus, error)
	ListProviderStatuses(ctx context.Context) ([]store.ProviderStatus, error)
	ListAudit(ctx context.Context, account string, limit int) ([]*store.AuditEntry, error)
}

type statusConfig struct {
	config.CliConfig
	JSON bool
}

type auditConfig struct {
	config.CliConfig
	Account string
	Limit   int
	JSON    bool
}

// Snapshot is the last state written by a running instance.
type Snapshot struct {
	Accounts  []*store.AccountStatus `json:"accounts"`
	Providers []store.ProviderStatus `json:"providers"`
}

func RegisterCommand(app *cli.App) *cli.App {
	scfg := &statusConfig{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "status",
		Usage: "Show account and provider status recorded by a running instance",
		Flags: append(scfg.Parameters(), &cli.BoolFlag{
			Name:        "json",
			Usage:       "print as json",
			Destination: &scfg.JSON,
		}),
		Action: func(c *cli.Context) error {
			return withStore(&scfg.CliConfig, func(s Store) error {
				return printStatus(c.Context, s, scfg.JSON, os.Stdout)
			})
		},
	})

	acfg := &auditConfig{}
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "audit",
		Usage: "Show actions taken by the classifier",
		Flags: append(acfg.Parameters(), []cli.Flag{
			&cli.StringFlag{Name: "account", Usage: "only this account", Destination: &acfg.Account},
			&cli.IntFlag{Name: "limit", Usage: "maximum entries to show", Destination: &acfg.Limit, Value: 50},
			&cli.BoolFlag{Name: "json", Usage: "print as json", Destination: &acfg.JSON},
		}...),
		Action: func(c *cli.Context) error {
			return withStore(&acfg.CliConfig, func(s Store) error {
				return printAudit(c.Context, s, acfg, os.Stdout)
			})
		},
	})

	return app
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

func printStatus(ctx context.Context, s Store, asJSON bool, w io.Writer) error {
	accounts, err := s.ListAccountStatuses(ctx)
	if err != nil {
		return err
	}

	providers, err := s.ListProviderStatuses(ctx)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(&Snapshot{Accounts: accounts, Providers: providers})
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ACCOUNT\tCONNECTED\tIDLE\tPAUSED\tERRORS\tLLM\tLAST SCAN")
	for _, a := range accounts {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v/%v\t%v\n",
			a.Name, a.Connected, a.IdleSupported, a.Paused, a.Errors, a.LLMProvider, a.LLMModel, formatTime(a.LastScan))
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "PROVIDER\tMODEL\tTODAY\tTOTAL\tLAST MINUTE\tLIMITED\tUPDATED")
	for _, p := range providers {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			p.Name, p.Model, p.RequestsToday, p.RequestsTotal, formatRate(p.RequestsLastMinute, p.RPMLimit), p.RateLimited, formatTime(&p.UpdatedAt))
	}

	return tw.Flush()
}

func printAudit(ctx context.Context, s Store, cfg *auditConfig, w io.Writer) error {
	entries, err := s.ListAudit(ctx, cfg.Account, cfg.Limit)
	if err != nil {
		return err
	}

	if cfg.JSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACCOUNT\tFOLDER\tUID\tACTION\tTARGET\tCONFIDENCE\tSUBJECT")
	for _, e := range entries {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%.2f\t%v\n",
			formatTime(&e.CreatedAt), e.Account, e.Folder, e.UID, e.Action, e.Target, e.Confidence, e.Subject)
	}
	return tw.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}

func formatRate(n int, limit *int) string {
	if limit == nil {
		return fmt.Sprint(n)
	}
	return fmt.Sprintf("%v/%v", n, *limit)
}
