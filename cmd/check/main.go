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


package check

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/vs49688/mailtriage/cmd/config"
	appconfig "github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/imap/connection"
	"github.com/vs49688/mailtriage/retry"
)

type checkConfig struct {
	config.CliConfig
	Accounts cli.StringSlice
	Attempts int
	Timeout  time.Duration
}

func RegisterCommand(app *cli.App) *cli.App {
	cfg := &checkConfig{}
	flags := cfg.Parameters()
	flags = append(flags, []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "account",
			Usage:       "account to check. may be repeated, defaults to all",
			Destination: &cfg.Accounts,
		},
		&cli.IntFlag{
			Name:        "attempts",
			Usage:       "connection attempts per account",
			EnvVars:     []string{"MAILTRIAGE_CHECK_ATTEMPTS"},
			Destination: &cfg.Attempts,
			Value:       retry.DefaultMaxAttempts,
		},
		&cli.DurationFlag{
			Name:        "timeout",
			Usage:       "timeout of each attempt",
			EnvVars:     []string{"MAILTRIAGE_CHECK_TIMEOUT"},
			Destination: &cfg.Timeout,
			Value:       connection.DefaultProbeTimeout,
		},
	}...)

	app.Commands = append(app.Commands, &cli.Command{
		Name:   "check",
		Usage:  "Test the connection to each account",
		Flags:  flags,
		Action: func(context *cli.Context) error { return check(context, cfg) },
	})
	return app
}

func selectAccounts(conf *appconfig.Config, names []string) ([]*appconfig.Account, error) {
	if len(names) == 0 {
		return conf.Accounts, nil
	}

	out := make([]*appconfig.Account, 0, len(names))
	for _, name := range names {
		acc, ok := conf.Account(name)
		if !ok {
			return nil, fmt.Errorf("unknown account %q", name)
		}
		out = append(out, acc)
	}
	return out, nil
}

func check(ctx *cli.Context, cfg *checkConfig) error {
	cfg.ConfigureLogging()

	conf, err := cfg.Load()
	if err != nil {
		return err
	}

	accounts, err := selectAccounts(conf, cfg.Accounts.Value())
	if err != nil {
		return err
	}

	factory := &connection.Factory{
		Secrets: &appconfig.SecretResolver{},
		Log:     log.WithField("component", "connection"),
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Attempts

	failed := 0
	for _, acc := range accounts {
		el := log.WithField("account", acc.Name)

		folders, err := factory.ProbeAccount(ctx.Context, acc, policy, cfg.Timeout)
		if err != nil {
			failed++

			var rerr *retry.RetryError
			if errors.As(err, &rerr) {
				el = el.WithField("attempts", rerr.Attempts)
			}
			el.WithError(err).Error("check_failed")
			continue
		}

		for _, f := range folders {
			el.WithFields(log.Fields{
				"folder":   f.Name,
				"messages": f.Messages,
				"unseen":   f.Unseen,
				"uid_next": f.UidNext,
			}).Info("check_folder")
		}
		el.Info("check_ok")
	}

	if failed > 0 {
		return fmt.Errorf("%v of %v accounts failed", failed, len(accounts))
	}
	return nil
}
