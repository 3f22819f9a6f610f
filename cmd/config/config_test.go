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
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2/endpoints"
)

func TestOAuth2Config_Resolve(t *testing.T) {
	t.Run("google", func(t *testing.T) {
		cfg := DefaultOAuth2Config()
		cfg.ClientID = "client"
		cfg.ClientSecret = "secret"

		assert.NoError(t, cfg.Resolve())
		assert.Equal(t, "client", cfg.Config.ClientID)
		assert.Equal(t, "secret", cfg.Config.ClientSecret)
		assert.Equal(t, endpoints.Google, cfg.Config.Endpoint)
		assert.Equal(t, []string{"https://mail.google.com/"}, cfg.Config.Scopes)
	})

	t.Run("provider_case_insensitive", func(t *testing.T) {
		cfg := OAuth2Config{Provider: "Microsoft", ClientID: "client"}

		assert.NoError(t, cfg.Resolve())
		assert.Equal(t, endpoints.AzureAD("common"), cfg.Config.Endpoint)
		assert.Contains(t, cfg.Config.Scopes, "offline_access")
	})

	t.Run("overrides", func(t *testing.T) {
		cfg := DefaultOAuth2Config()
		cfg.ClientID = "client"
		cfg.TokenURL = "https://token.example.com"
		cfg.Scopes = *cli.NewStringSlice("a", "b")

		assert.NoError(t, cfg.Resolve())
		assert.Equal(t, endpoints.Google.AuthURL, cfg.Config.Endpoint.AuthURL)
		assert.Equal(t, "https://token.example.com", cfg.Config.Endpoint.TokenURL)
		assert.Equal(t, []string{"a", "b"}, cfg.Config.Scopes)
	})

	t.Run("custom", func(t *testing.T) {
		cfg := OAuth2Config{
			Provider: "custom",
			ClientID: "client",
			AuthURL:  "https://auth.example.com",
			TokenURL: "https://token.example.com",
		}

		assert.NoError(t, cfg.Resolve())
		assert.Equal(t, "https://auth.example.com", cfg.Config.Endpoint.AuthURL)
		assert.Empty(t, cfg.Config.Scopes)
	})

	t.Run("custom_missing_endpoint", func(t *testing.T) {
		cfg := OAuth2Config{Provider: "custom", ClientID: "client", AuthURL: "https://auth.example.com"}
		assert.ErrorIs(t, cfg.Resolve(), errMissingEndpoint)
	})

	t.Run("unknown_provider", func(t *testing.T) {
		cfg := OAuth2Config{Provider: "yahoo", ClientID: "client"}
		assert.ErrorIs(t, cfg.Resolve(), errUnknownProvider)
	})

	t.Run("missing_client_id", func(t *testing.T) {
		cfg := DefaultOAuth2Config()
		assert.ErrorIs(t, cfg.Resolve(), errMissingClientID)
	})
}

func TestConfigureLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		logger := log.New()
		ConfigureLogger(logger, "debug", "json")

		assert.Equal(t, log.DebugLevel, logger.GetLevel())
		assert.IsType(t, &log.JSONFormatter{}, logger.Formatter)
	})

	t.Run("invalid_level", func(t *testing.T) {
		logger := log.New()
		logger.SetLevel(log.WarnLevel)
		ConfigureLogger(logger, "loud", "text")

		assert.Equal(t, log.WarnLevel, logger.GetLevel())
		assert.IsType(t, &log.TextFormatter{}, logger.Formatter)
	})
}

func TestCliConfig_Parameters(t *testing.T) {
	cfg := CliConfig{}
	app := cli.App{
		Flags:  cfg.Parameters(),
		Action: func(*cli.Context) error { return nil },
	}

	t.Setenv("MAILTRIAGE_LOG_FORMAT", "json")
	assert.NoError(t, app.Run([]string{"mailtriage", "--config", "other.yaml"}))

	assert.Equal(t, "other.yaml", cfg.ConfigFile)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}
