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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
settings:
  process_debounce: 10s
providers:
  - name: openai
    type: OpenAI
    model: gpt-4o-mini
    api_key: ${MAILTRIAGE_TEST_KEY}
    rpm_limit: 30
  - name: claude
    type: anthropic
    model: claude-3-5-haiku-latest
accounts:
  - name: personal
    imap:
      host: imap.example.com
      username: me@example.com
      password: hunter2
    allowed_actions: [mark_read, archive]
    llm:
      provider: openai
  - name: work
    imap:
      host: mail.example.org
      port: 1143
      tls: false
      username: me@example.org
      password_file: /run/secrets/work
    folders: [INBOX, Support]
    confidence_threshold: 0.9
    llm:
      provider: claude
      model: claude-3-5-sonnet-latest
`

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("MAILTRIAGE_TEST_KEY", "sk-test")

	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, 10*time.Second, cfg.Settings.ProcessDebounce)
	assert.Equal(t, time.Minute, cfg.Settings.PollInterval)
	assert.Equal(t, 20, cfg.Settings.BatchSize)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, ProviderOpenAI, cfg.Providers[0].Type)
	assert.Equal(t, "sk-test", cfg.Providers[0].APIKey)
	assert.Equal(t, 30, cfg.Providers[0].RPMLimit)

	personal, ok := cfg.Account("personal")
	require.True(t, ok)
	assert.Equal(t, []string{"INBOX"}, personal.Folders)
	assert.True(t, personal.IMAP.UseTLS())
	assert.Equal(t, "imap.example.com:993", personal.IMAP.HostPort())
	assert.Equal(t, AuthNormal, personal.IMAP.AuthMethod)
	assert.Equal(t, 0.7, personal.ConfidenceThreshold)
	assert.True(t, personal.Allows("archive"))
	assert.True(t, personal.Allows("none"))
	assert.False(t, personal.Allows("delete"))

	work, ok := cfg.Account("work")
	require.True(t, ok)
	assert.False(t, work.IMAP.UseTLS())
	assert.Equal(t, "mail.example.org:1143", work.IMAP.HostPort())
	assert.True(t, work.Watches("Support"))
	assert.Equal(t, "claude-3-5-sonnet-latest", work.LLM.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		config string
		want   string
	}{
		{"no accounts", "providers: []\n", "no accounts"},
		{"unknown provider", `
providers: [{name: a, type: openai}]
accounts:
  - name: x
    imap: {host: h, username: u, password: p}
    llm: {provider: b}
`, `"b" is not defined`},
		{"duplicate account", `
providers: [{name: a, type: openai}]
accounts:
  - {name: x, imap: {host: h, username: u, password: p}, llm: {provider: a}}
  - {name: x, imap: {host: h, username: u, password: p}, llm: {provider: a}}
`, "duplicate name"},
		{"missing password", `
providers: [{name: a, type: openai}]
accounts:
  - {name: x, imap: {host: h, username: u}, llm: {provider: a}}
`, "password"},
		{"bad action", `
providers: [{name: a, type: openai}]
accounts:
  - {name: x, imap: {host: h, username: u, password: p}, llm: {provider: a}, allowed_actions: [explode]}
`, `unknown action "explode"`},
		{"bad provider type", `
providers: [{name: a, type: cohere}]
accounts:
  - {name: x, imap: {host: h, username: u, password: p}, llm: {provider: a}}
`, "unsupported type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.config))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecretResolver(t *testing.T) {
	r := &SecretResolver{
		OpenKeyring: func() (keyring.Keyring, error) {
			return keyring.NewArrayKeyring([]keyring.Item{
				{Key: "personal", Data: []byte("from-keyring")},
			}), nil
		},
	}

	pass, err := r.Password(&IMAPConfig{Password: "inline", PasswordKeyring: "personal"})
	require.NoError(t, err)
	assert.Equal(t, "inline", pass)

	file := filepath.Join(t.TempDir(), "pass")
	require.NoError(t, os.WriteFile(file, []byte("  from-file\n"), 0o600))
	pass, err = r.Password(&IMAPConfig{PasswordFile: file})
	require.NoError(t, err)
	assert.Equal(t, "from-file", pass)

	pass, err = r.Password(&IMAPConfig{PasswordKeyring: "personal"})
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", pass)

	_, err = r.Password(&IMAPConfig{PasswordKeyring: "missing"})
	assert.ErrorIs(t, err, keyring.ErrKeyNotFound)

	_, err = r.Password(&IMAPConfig{})
	assert.Error(t, err)
}

func TestWatch(t *testing.T) {
	path := writeConfig(t, testConfig)

	ch := make(chan *Config, 4)
	Watch(path, func(cfg *Config, err error) {
		if err != nil {
			return
		}

		select {
		case ch <- cfg:
		default:
		}
	})

	updated := testConfig + `
  - name: extra
    imap: {host: h, username: u, password: p}
    llm: {provider: openai}
`
	// Give the watcher a moment to register.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	select {
	case cfg := <-ch:
		_, ok := cfg.Account("extra")
		assert.True(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
