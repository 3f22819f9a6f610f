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

	"github.com/emersion/go-sasl"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/imap"
	"github.com/vs49688/mailtriage/imap/client"
)

type Factory struct {
	Clients imap.ClientFactory
	Secrets *config.SecretResolver
	Log     *log.Entry
}

// NewConnection resolves the account's credentials and returns an
// unconnected Connection.
func (f *Factory) NewConnection(acc *config.Account) (*Connection, error) {
	secrets := f.Secrets
	if secrets == nil {
		secrets = &config.SecretResolver{}
	}

	password, err := secrets.Password(&acc.IMAP)
	if err != nil {
		return nil, fmt.Errorf("%v: resolving credentials: %w", acc.Name, err)
	}

	auth, err := NewAuthenticator(&acc.IMAP, password)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", acc.Name, err)
	}

	clients := f.Clients
	if clients == nil {
		clients = &client.Factory{}
	}

	return New(&Config{
		Account: acc,
		Auth:    auth,
		Clients: clients,
		Log:     f.Log,
	}), nil
}

// NewAuthenticator picks the login mechanism for cfg. For oauthbearer the
// secret is a refresh token.
func NewAuthenticator(cfg *config.IMAPConfig, secret string) (imap.Authenticatable, error) {
	switch cfg.AuthMethod {
	case config.AuthNormal, "":
		return imap.NewNormalAuthenticator(cfg.Username, secret), nil
	case config.AuthPlain:
		return imap.NewSASLAuthenticator(sasl.NewPlainClient("", cfg.Username, secret)), nil
	case config.AuthOAuthBearer:
		oc := &oauth2.Config{
			ClientID:     cfg.OAuth2.ClientID,
			ClientSecret: cfg.OAuth2.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.OAuth2.AuthURL,
				TokenURL: cfg.OAuth2.TokenURL,
			},
			Scopes: cfg.OAuth2.Scopes,
		}

		src := oc.TokenSource(context.Background(), &oauth2.Token{RefreshToken: secret})
		return imap.NewOAuthBearerAuthenticator(cfg.Username, oauth2.ReuseTokenSource(nil, src)), nil
	}

	return nil, fmt.Errorf("unknown auth method %q", cfg.AuthMethod)
}
