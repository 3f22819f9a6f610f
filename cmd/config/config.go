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


package config

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	appconfig "github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/store"
)

func DefaultConfig() CliConfig {
	return CliConfig{
		ConfigFile: "mailtriage.yaml",
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

func (cfg *CliConfig) Parameters() []cli.Flag {
	def := DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to the configuration file",
			EnvVars:     []string{"MAILTRIAGE_CONFIG"},
			Destination: &cfg.ConfigFile,
			Value:       def.ConfigFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "logging level",
			EnvVars:     []string{"MAILTRIAGE_LOG_LEVEL"},
			Destination: &cfg.LogLevel,
			Value:       def.LogLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "logging format (text/json)",
			EnvVars:     []string{"MAILTRIAGE_LOG_FORMAT"},
			Destination: &cfg.LogFormat,
			Value:       def.LogFormat,
		},
	}
}

// ConfigureLogging applies the level and format to the standard logger.
// An unparseable level leaves the current one in place.
func (cfg *CliConfig) ConfigureLogging() {
	ConfigureLogger(log.StandardLogger(), cfg.LogLevel, cfg.LogFormat)
}

func ConfigureLogger(logger *log.Logger, level string, format string) {
	if lvl, err := log.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}

	if format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
}

func (cfg *CliConfig) Load() (*appconfig.Config, error) {
	return appconfig.Load(cfg.ConfigFile)
}

// OpenStore opens the database named by the configuration file.
func (cfg *CliConfig) OpenStore() (*store.SQLiteStore, error) {
	conf, err := cfg.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(conf.Settings.Database)
}
