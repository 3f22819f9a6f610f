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
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func DefaultSettings() Settings {
	return Settings{
		PollInterval:          time.Minute,
		ProcessDebounce:       5 * time.Second,
		ReconnectBaseDelay:    time.Second,
		ReconnectMaxDelay:     time.Minute,
		BatchSize:             20,
		Database:              "mailtriage.db",
		MetricsListen:         "",
		ProviderStatsInterval: time.Minute,
	}
}

func newViper(path string) *viper.Viper {
	def := DefaultSettings()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MAILTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("settings.poll_interval", def.PollInterval)
	v.SetDefault("settings.process_debounce", def.ProcessDebounce)
	v.SetDefault("settings.reconnect_base_delay", def.ReconnectBaseDelay)
	v.SetDefault("settings.reconnect_max_delay", def.ReconnectMaxDelay)
	v.SetDefault("settings.batch_size", def.BatchSize)
	v.SetDefault("settings.database", def.Database)
	v.SetDefault("settings.metrics_listen", def.MetricsListen)
	v.SetDefault("settings.provider_stats_interval", def.ProviderStatsInterval)
	return v
}

// Load reads, normalises and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) normalize() {
	for _, a := range c.Accounts {
		a.Name = strings.TrimSpace(a.Name)

		if len(a.Folders) == 0 {
			a.Folders = []string{"INBOX"}
		}

		if a.ArchiveFolder == "" {
			a.ArchiveFolder = "Archive"
		}

		if a.SpamFolder == "" {
			a.SpamFolder = "Junk"
		}

		if a.ConfidenceThreshold == 0 {
			a.ConfidenceThreshold = 0.7
		}

		m := &a.IMAP
		if m.AuthMethod == "" {
			m.AuthMethod = AuthNormal
		}
		m.AuthMethod = strings.ToLower(m.AuthMethod)

		if m.Port == 0 {
			if m.UseTLS() {
				m.Port = 993
			} else {
				m.Port = 143
			}
		}

		if m.Timeout == 0 {
			m.Timeout = 30 * time.Second
		}

		m.Password = os.ExpandEnv(m.Password)
		m.OAuth2.ClientSecret = os.ExpandEnv(m.OAuth2.ClientSecret)
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		p.Type = strings.ToLower(p.Type)
		p.APIKey = os.ExpandEnv(p.APIKey)

		if p.Timeout == 0 {
			p.Timeout = 60 * time.Second
		}

		if p.MaxTokens == 0 {
			p.MaxTokens = 512
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Accounts) == 0 {
		return errNoAccounts
	}

	providers := map[string]*Provider{}
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("provider %v: name is required", i)
		}

		if _, ok := providers[p.Name]; ok {
			return fmt.Errorf("provider %q: duplicate name", p.Name)
		}

		switch p.Type {
		case ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("provider %q: unsupported type %q", p.Name, p.Type)
		}

		if p.RPMLimit < 0 {
			return fmt.Errorf("provider %q: rpm_limit must not be negative", p.Name)
		}

		providers[p.Name] = p
	}

	names := map[string]struct{}{}
	for i, a := range c.Accounts {
		if a.Name == "" {
			return fmt.Errorf("account %v: name is required", i)
		}

		if _, ok := names[a.Name]; ok {
			return fmt.Errorf("account %q: duplicate name", a.Name)
		}
		names[a.Name] = struct{}{}

		if err := a.validate(providers); err != nil {
			return fmt.Errorf("account %q: %w", a.Name, err)
		}
	}

	return nil
}

func (a *Account) validate(providers map[string]*Provider) error {
	if a.IMAP.Host == "" {
		return fmt.Errorf("imap.host is required")
	}

	if a.IMAP.Username == "" {
		return fmt.Errorf("imap.username is required")
	}

	switch a.IMAP.AuthMethod {
	case AuthNormal, AuthPlain:
		if a.IMAP.Password == "" && a.IMAP.PasswordFile == "" && a.IMAP.PasswordKeyring == "" {
			return errMissingPassword
		}
	case AuthOAuthBearer:
		if a.IMAP.OAuth2.TokenURL == "" || a.IMAP.OAuth2.ClientID == "" {
			return fmt.Errorf("oauth2.client_id and oauth2.token_url are required for %v auth", AuthOAuthBearer)
		}

		if a.IMAP.Password == "" && a.IMAP.PasswordFile == "" && a.IMAP.PasswordKeyring == "" {
			return errMissingPassword
		}
	default:
		return fmt.Errorf("unsupported auth method: %v", a.IMAP.AuthMethod)
	}

	if a.ConfidenceThreshold < 0 || a.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be within [0, 1]")
	}

	for _, action := range a.AllowedActions {
		if !isKnownAction(action) {
			return fmt.Errorf("unknown action %q", action)
		}
	}

	if a.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}

	if _, ok := providers[a.LLM.Provider]; !ok {
		return fmt.Errorf("llm.provider %q is not defined", a.LLM.Provider)
	}

	return nil
}

func isKnownAction(action string) bool {
	for _, known := range KnownActions {
		if known == action {
			return true
		}
	}
	return false
}

func (c *IMAPConfig) HostPort() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
