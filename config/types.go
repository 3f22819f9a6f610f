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
	"time"
)

var (
	errNoAccounts      = errors.New("no accounts configured")
	errMissingPassword = errors.New("one of \"password\", \"password_file\" or \"password_keyring\" is required")
)

const (
	AuthNormal      = "normal"
	AuthPlain       = "plain"
	AuthOAuthBearer = "oauthbearer"

	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Actions an account may allow the classifier to take.
var KnownActions = []string{"none", "mark_read", "flag", "archive", "spam", "delete", "move"}

type Config struct {
	Accounts  []*Account `mapstructure:"accounts"`
	Providers []Provider `mapstructure:"providers"`
	Settings  Settings   `mapstructure:"settings"`
}

type Account struct {
	Name                string     `mapstructure:"name"`
	IMAP                IMAPConfig `mapstructure:"imap"`
	Folders             []string   `mapstructure:"folders"`
	AllowedActions      []string   `mapstructure:"allowed_actions"`
	LLM                 LLMBinding `mapstructure:"llm"`
	ConfidenceThreshold float64    `mapstructure:"confidence_threshold"`
	ArchiveFolder       string     `mapstructure:"archive_folder"`
	SpamFolder          string     `mapstructure:"spam_folder"`
}

type IMAPConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	PasswordFile    string        `mapstructure:"password_file"`
	PasswordKeyring string        `mapstructure:"password_keyring"`
	TLS             *bool         `mapstructure:"tls"`
	TLSSkipVerify   bool          `mapstructure:"tls_skip_verify"`
	AuthMethod      string        `mapstructure:"auth_method"`
	OAuth2          OAuth2Config  `mapstructure:"oauth2"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Debug           bool          `mapstructure:"debug"`
}

type OAuth2Config struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	AuthURL      string   `mapstructure:"auth_url"`
	TokenURL     string   `mapstructure:"token_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type LLMBinding struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

type Provider struct {
	Name      string        `mapstructure:"name"`
	Type      string        `mapstructure:"type"`
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	RPMLimit  int           `mapstructure:"rpm_limit"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type Settings struct {
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	ProcessDebounce       time.Duration `mapstructure:"process_debounce"`
	ReconnectBaseDelay    time.Duration `mapstructure:"reconnect_base_delay"`
	ReconnectMaxDelay     time.Duration `mapstructure:"reconnect_max_delay"`
	BatchSize             int           `mapstructure:"batch_size"`
	Database              string        `mapstructure:"database"`
	MetricsListen         string        `mapstructure:"metrics_listen"`
	ProviderStatsInterval time.Duration `mapstructure:"provider_stats_interval"`
}

func (c *IMAPConfig) UseTLS() bool {
	return c.TLS == nil || *c.TLS
}

func (c *Config) Account(name string) (*Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return nil, false
}

func (a *Account) Allows(action string) bool {
	if action == "none" {
		return true
	}

	for _, allowed := range a.AllowedActions {
		if allowed == action {
			return true
		}
	}
	return false
}

func (a *Account) Watches(folder string) bool {
	for _, f := range a.Folders {
		if f == folder {
			return true
		}
	}
	return false
}
