package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
)

// Client talks to a control Server.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for the server at base, e.g.
// "http://127.0.0.1:7070". A nil hc means http.DefaultClient.
func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) List(ctx context.Context) ([]api.Rule, error) {
	var rules []api.Rule
	err := c.do(ctx, http.MethodGet, "/rules", nil, &rules)
	return rules, err
}

func (c *Client) Get(ctx context.Context, id string) (api.Rule, error) {
	var rule api.Rule
	err := c.do(ctx, http.MethodGet, "/rules/"+url.PathEscape(id), nil, &rule)
	return rule, err
}

// Put creates rule when its ID is empty and replaces it otherwise.
func (c *Client) Put(ctx context.Context, rule api.Rule) (api.Rule, error) {
	var saved api.Rule
	if rule.ID == "" {
		err := c.do(ctx, http.MethodPost, "/rules", rule, &saved)
		return saved, err
	}
	err := c.do(ctx, http.MethodPut, "/rules/"+url.PathEscape(rule.ID), rule, &saved)
	return saved, err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rules/"+url.PathEscape(id), nil, nil)
}

func (c *Client) SetRuleEnabled(ctx context.Context, id string, enabled bool) (api.Rule, error) {
	var rule api.Rule
	err := c.do(ctx, http.MethodPut, "/rules/"+url.PathEscape(id)+"/enabled", EnabledPayload{Enabled: enabled}, &rule)
	return rule, err
}

func (c *Client) ImportCurl(ctx context.Context, command, name string) (api.Rule, error) {
	var rule api.Rule
	err := c.do(ctx, http.MethodPost, "/rules/import/curl", CurlImportRequest{Command: command, Name: name}, &rule)
	return rule, err
}

func (c *Client) Enabled(ctx context.Context) (bool, error) {
	var body EnabledPayload
	err := c.do(ctx, http.MethodGet, "/enabled", nil, &body)
	return body.Enabled, err
}

func (c *Client) SetEnabled(ctx context.Context, enabled bool) error {
	return c.do(ctx, http.MethodPut, "/enabled", EnabledPayload{Enabled: enabled}, nil)
}

func (c *Client) Resolve(ctx context.Context, rawURL, method string) (api.MatchDecision, error) {
	var body ResolveResponse
	if err := c.do(ctx, http.MethodPost, "/resolve", ResolveRequest{URL: rawURL, Method: method}, &body); err != nil {
		return api.Passthrough(), err
	}
	return api.MatchDecision{ShouldMock: body.ShouldMock, Response: body.Response}.Normalize(), nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errx.Wrap(ErrRequest, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errx.Wrap(ErrRequest, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errx.Wrap(ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&e)
		if resp.StatusCode == http.StatusNotFound && strings.HasPrefix(path, "/rules/") {
			return errx.With(api.ErrRuleNotFound, ": %s", e.Error)
		}
		return errx.With(ErrUnexpectedStatus, ": %s %s: %d %s", method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errx.Wrap(ErrDecodeResponse, err)
	}
	return nil
}
