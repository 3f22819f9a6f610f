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
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

type oauthProvider struct {
	Endpoint oauth2.Endpoint
	Scopes   []string
}

var oauthProviders = map[string]oauthProvider{
	"google": {
		Endpoint: endpoints.Google,
		Scopes:   []string{"https://mail.google.com/"},
	},
	"microsoft": {
		Endpoint: endpoints.AzureAD("common"),
		Scopes:   []string{"https://outlook.office.com/IMAP.AccessAsUser.All", "offline_access"},
	},
}

func DefaultOAuth2Config() OAuth2Config {
	return OAuth2Config{
		Provider: "google",
	}
}

func (cfg *OAuth2Config) Parameters() []cli.Flag {
	def := DefaultOAuth2Config()

	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "oauth2 provider (google/microsoft/custom)",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_PROVIDER"},
			Destination: &cfg.Provider,
			Value:       def.Provider,
		},
		&cli.StringFlag{
			Name:        "client-id",
			Usage:       "oauth2 client id",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_CLIENT_ID"},
			Destination: &cfg.ClientID,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "client-secret",
			Usage:       "oauth2 client secret",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_CLIENT_SECRET"},
			Destination: &cfg.ClientSecret,
		},
		&cli.StringFlag{
			Name:        "auth-url",
			Usage:       "authorization endpoint. overrides the provider's",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_AUTH_URL"},
			Destination: &cfg.AuthURL,
		},
		&cli.StringFlag{
			Name:        "token-url",
			Usage:       "token endpoint. overrides the provider's",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_TOKEN_URL"},
			Destination: &cfg.TokenURL,
		},
		&cli.StringSliceFlag{
			Name:        "scope",
			Usage:       "scopes to request. overrides the provider's",
			EnvVars:     []string{"MAILTRIAGE_OAUTH2_SCOPES"},
			Destination: &cfg.Scopes,
		},
	}
}

// Resolve builds cfg.Config from the provider preset and any overrides.
func (cfg *OAuth2Config) Resolve() error {
	if cfg.ClientID == "" {
		return errMissingClientID
	}

	var p oauthProvider
	switch name := strings.ToLower(cfg.Provider); name {
	case "", "custom":
		if cfg.AuthURL == "" || cfg.TokenURL == "" {
			return errMissingEndpoint
		}
	default:
		var ok bool
		if p, ok = oauthProviders[name]; !ok {
			return fmt.Errorf("%w: %v", errUnknownProvider, cfg.Provider)
		}
	}

	if cfg.AuthURL != "" {
		p.Endpoint.AuthURL = cfg.AuthURL
	}

	if cfg.TokenURL != "" {
		p.Endpoint.TokenURL = cfg.TokenURL
	}

	if scopes := cfg.Scopes.Value(); len(scopes) > 0 {
		p.Scopes = scopes
	}

	cfg.Config = oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     p.Endpoint,
		Scopes:       p.Scopes,
	}

	return nil
}
