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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vs49688/mailtriage/config"
	"github.com/vs49688/mailtriage/metrics"
)

const (
	defaultOpenAIBaseURL    = "https://api.openai.com/v1"
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	maxErrorBody            = 512
)

type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%v: unexpected status %v: %v", e.Provider, e.StatusCode, e.Body)
}

type providerClient struct {
	r        *Registry
	provider string
	model    string
}

func (c *providerClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	p, ok := c.r.lookup(c.provider)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownProvider, c.provider)
	}

	if !c.r.cfg.Limiter.Acquire(c.provider) {
		c.r.cfg.Metrics.LLMRequest(c.provider, metrics.ResultRateLimited)
		return nil, ErrRateLimited
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	var resp *Response
	var err error
	switch p.Type {
	case config.ProviderAnthropic:
		resp, err = c.anthropic(ctx, &p, req)
	default:
		resp, err = c.openai(ctx, &p, req)
	}

	e := c.r.cfg.Log.WithFields(log.Fields{"provider": c.provider, "model": c.model})
	if err != nil {
		c.r.cfg.Metrics.LLMRequest(c.provider, metrics.ResultError)
		e.WithError(err).Warn("llm_request_failed")
		return nil, err
	}

	c.r.cfg.Metrics.LLMRequest(c.provider, metrics.ResultOK)
	e.Trace("llm_request_complete")
	return resp, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *providerClient) openai(ctx context.Context, p *config.Provider, req *Request) (*Response, error) {
	base := p.BaseURL
	if base == "" {
		base = defaultOpenAIBaseURL
	}

	body := openAIRequest{
		Model:     c.model,
		MaxTokens: p.MaxTokens,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.Prompt},
		},
	}

	headers := http.Header{}
	if p.APIKey != "" {
		headers.Set("Authorization", "Bearer "+p.APIKey)
	}

	var out openAIResponse
	if err := c.post(ctx, strings.TrimSuffix(base, "/")+"/chat/completions", headers, &body, &out); err != nil {
		return nil, err
	}

	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%v: response contained no choices", c.provider)
	}

	return &Response{Text: out.Choices[0].Message.Content}, nil
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Messages  []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (c *providerClient) anthropic(ctx context.Context, p *config.Provider, req *Request) (*Response, error) {
	base := p.BaseURL
	if base == "" {
		base = defaultAnthropicBaseURL
	}

	body := anthropicRequest{
		Model:     c.model,
		MaxTokens: p.MaxTokens,
		System:    req.System,
		Messages:  []chatMessage{{Role: "user", Content: req.Prompt}},
	}

	headers := http.Header{}
	headers.Set("x-api-key", p.APIKey)
	headers.Set("anthropic-version", anthropicVersion)

	var out anthropicResponse
	if err := c.post(ctx, strings.TrimSuffix(base, "/")+"/v1/messages", headers, &body, &out); err != nil {
		return nil, err
	}

	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return nil, fmt.Errorf("%v: response contained no text", c.provider)
	}

	return &Response{Text: sb.String()}, nil
}

func (c *providerClient) post(ctx context.Context, url string, headers http.Header, in interface{}, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header = headers
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.r.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Provider: c.provider, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%v: decoding response: %w", c.provider, err)
	}

	return nil
}
