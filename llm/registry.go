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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/metrics"
	"github.com/vs49688/mailtriage/ratelimit"
)

var (
	ErrRateLimited     = errors.New("llm: provider rate limit reached")
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

type Request struct {
	System string
	Prompt string
}

type Response struct {
	Text string
}

type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Binding is an account's resolved provider and model.
type Binding struct {
	Provider string
	Model    string
	Client   Completer
}

type RegistryConfig struct {
	Limiter    *ratelimit.Limiter
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Log        *log.Entry
}

// Registry owns the provider table. Bindings look their provider up on
// every call so a reload takes effect without re-resolving.
type Registry struct {
	cfg RegistryConfig

	mu        sync.RWMutex
	providers map[string]config.Provider
}

func NewRegistry(cfg *RegistryConfig) *Registry {
	ourCfg := *cfg
	if ourCfg.Limiter == nil {
		ourCfg.Limiter = ratelimit.New(nil)
	}

	if ourCfg.HTTPClient == nil {
		ourCfg.HTTPClient = &http.Client{}
	}

	if ourCfg.Log == nil {
		ourCfg.Log = log.NewEntry(log.StandardLogger())
	}

	return &Registry{
		cfg:       ourCfg,
		providers: map[string]config.Provider{},
	}
}

// Register replaces the provider table.
func (r *Registry) Register(providers []config.Provider) {
	table := make(map[string]config.Provider, len(providers))
	limits := make([]ratelimit.Provider, 0, len(providers))
	for _, p := range providers {
		table[p.Name] = p
		limits = append(limits, ratelimit.Provider{Name: p.Name, Model: p.Model, RPMLimit: p.RPMLimit})
	}

	r.mu.Lock()
	r.providers = table
	r.mu.Unlock()

	r.cfg.Limiter.Configure(limits)
	r.cfg.Log.WithField("count", len(providers)).Info("llm_providers_registered")
}

func (r *Registry) lookup(name string) (config.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Resolve binds provider and model. An empty model selects the provider's
// default.
func (r *Registry) Resolve(provider string, model string) (*Binding, error) {
	p, ok := r.lookup(provider)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, provider)
	}

	if model == "" {
		model = p.Model
	}

	if model == "" {
		return nil, fmt.Errorf("provider %v has no default model", provider)
	}

	return &Binding{
		Provider: provider,
		Model:    model,
		Client:   &providerClient{r: r, provider: provider, model: model},
	}, nil
}

func (r *Registry) Stats() []ratelimit.Stats {
	return r.cfg.Limiter.Stats()
}
