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
	"errors"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

var (
	errUnknownProvider = errors.New("unknown oauth2 provider")
	errMissingClientID = errors.New("client id is required")
	errMissingEndpoint = errors.New("custom provider requires both auth and token urls")
)

// CliConfig holds the flags shared by every command.
type CliConfig struct {
	ConfigFile string `json:"config_file"`
	LogLevel   string `json:"log_level"`
	LogFormat  string `json:"log_format"`
}

type OAuth2Config struct {
	Provider     string          `json:"provider"`
	ClientID     string          `json:"client_id"`
	ClientSecret string          `json:"-"`
	AuthURL      string          `json:"auth_url"`
	TokenURL     string          `json:"token_url"`
	Scopes       cli.StringSlice `json:"-"`

	// Config is filled in by Resolve.
	Config oauth2.Config `json:"-"`
}
