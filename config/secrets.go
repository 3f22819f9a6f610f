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
	"os"
	"strings"

	"github.com/99designs/keyring"
)

const KeyringService = "mailtriage"

// SecretResolver turns the credential fields of an account into a secret.
type SecretResolver struct {
	// OpenKeyring defaults to OpenKeyring below.
	OpenKeyring func() (keyring.Keyring, error)
}

func OpenKeyring() (keyring.Keyring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: KeyringService,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailtriage/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailtriage-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Password returns the IMAP password, or the OAuth2 refresh token for
// oauthbearer accounts. Sources are tried in order: inline, file, keyring.
func (r *SecretResolver) Password(c *IMAPConfig) (string, error) {
	if c.Password != "" {
		return c.Password, nil
	}

	if c.PasswordFile != "" {
		pass, err := os.ReadFile(c.PasswordFile)
		if err != nil {
			return "", err
		}

		return strings.TrimSpace(string(pass)), nil
	}

	if c.PasswordKeyring != "" {
		open := r.OpenKeyring
		if open == nil {
			open = OpenKeyring
		}

		ring, err := open()
		if err != nil {
			return "", err
		}

		item, err := ring.Get(c.PasswordKeyring)
		if err != nil {
			return "", fmt.Errorf("getting credential %q: %w", c.PasswordKeyring, err)
		}

		return string(item.Data), nil
	}

	return "", errMissingPassword
}
