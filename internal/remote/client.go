package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/dsms/internal/apperr"
	"github.com/starford/dsms/internal/models"
)

// DefaultTimeout is the maximum time to wait for a backend response.
const DefaultTimeout = 120 * time.Second

// Config describes how to reach and authenticate against a backend.
type Config struct {
	HostURL    string
	Token      string
	Username   string
	Password   string
	Timeout    time.Duration
	SSLVerify  bool
	AutoReauth bool
	// Repository is the triple store repository used for subgraphs.
	Repository string
}

// Client implements Backend over the DSMS REST API.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	cfg        Config

	mu    sync.Mutex
	token string
}

// NewClient creates a client. A token without the "Bearer " prefix gets one.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.HostURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, apperr.Invalidf("host_url", "%q is not an absolute URL", cfg.HostURL)
	}
	if cfg.Token != "" && (cfg.Username != "" || cfg.Password != "") {
		return nil, apperr.Invalidf("token", "either a token or username and password may be set, not both")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Repository == "" {
		cfg.Repository = "knowledge-items"
	}
	if logger == nil {
		logger = slog.Default()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !cfg.SSLVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}
	c := &Client{
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		logger:     logger.With(slog.String("component", "remote")),
		cfg:        cfg,
		token:      bearer(cfg.Token),
	}
	if c.token == "" && !c.hasCredentials() {
		c.logger.Warn("remote: no token or credentials configured, requests are unauthenticated")
	}
	return c, nil
}

// HostURL returns the backend base URL.
func (c *Client) HostURL() string { return c.base.String() }

// Token returns the current authorization header value.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func bearer(token string) string {
	if token == "" || strings.HasPrefix(token, "Bearer ") {
		return token
	}
	return "Bearer " + token
}

func (c *Client) hasCredentials() bool {
	return c.cfg.Username != "" && c.cfg.Password != ""
}

// Authenticate exchanges the configured credentials for a token.
func (c *Client) Authenticate(ctx context.Context) error {
	if !c.hasCredentials() {
		return fmt.Errorf("remote: authenticate: %w: no credentials", apperr.ErrUnauthorized)
	}
	endpoint := c.endpoint("api", "users", "token")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("remote: authenticate: %w", err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("remote: authenticate: %w: %v", apperr.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("remote: authenticate: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &apperr.RemoteError{Op: "authenticate", Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}
	var tok models.Token
	if err := json.Unmarshal(body, &tok); err != nil {
		return fmt.Errorf("remote: authenticate: parse response: %w", err)
	}
	c.mu.Lock()
	c.token = bearer(tok.Token)
	c.mu.Unlock()
	c.logger.Debug("remote: token issued", slog.String("user", c.cfg.Username))
	return nil
}

// tokenExpired reports whether the current token is a JWT past its expiry.
// Opaque tokens never expire locally.
func (c *Client) tokenExpired() bool {
	raw := strings.TrimPrefix(c.Token(), "Bearer ")
	if raw == "" {
		return c.hasCredentials()
	}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return false
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Now().After(exp.Time)
}

func (c *Client) canReauth() bool {
	return c.cfg.AutoReauth && c.hasCredentials()
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	u.Path = path.Join(append([]string{u.Path}, segments...)...)
	if strings.HasSuffix(segments[len(segments)-1], "/") {
		u.Path += "/"
	}
	return u.String()
}

type request struct {
	method      string
	segments    []string
	query       url.Values
	body        []byte
	contentType string
	// id and op label errors.
	id string
	op string
}

func jsonRequest(method, op, id string, v any, segments ...string) (request, error) {
	r := request{method: method, op: op, id: id, segments: segments}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return r, fmt.Errorf("remote: %s: encode body: %w", op, err)
		}
		r.body = data
		r.contentType = "application/json"
	}
	return r, nil
}

// do executes r, re-authenticating once on an expired token or a 401.
func (c *Client) do(ctx context.Context, r request) (*http.Response, []byte, error) {
	if c.canReauth() && c.tokenExpired() {
		if err := c.Authenticate(ctx); err != nil {
			return nil, nil, err
		}
	}
	resp, body, err := c.send(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && c.canReauth() {
		c.logger.Info("remote: token rejected, re-authenticating", slog.String("op", r.op))
		if err := c.Authenticate(ctx); err != nil {
			return nil, nil, err
		}
		resp, body, err = c.send(ctx, r)
		if err != nil {
			return nil, nil, err
		}
	}
	return resp, body, nil
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, []byte, error) {
	endpoint := c.endpoint(r.segments...)
	if len(r.query) > 0 {
		endpoint += "?" + r.query.Encode()
	}
	var reader io.Reader
	if r.body != nil {
		reader = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, endpoint, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: %s: create request: %w", r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", tok)
	}

	c.logger.Debug("remote: request",
		slog.String("op", r.op),
		slog.String("method", r.method),
		slog.String("url", endpoint))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, fmt.Errorf("remote: %s: %w", r.op, err)
		}
		return nil, nil, fmt.Errorf("remote: %s: %w: %v", r.op, apperr.ErrConnectivity, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: %s: read response: %w", r.op, err)
	}
	return resp, body, nil
}

// call executes r and fails on any non-2xx status.
func (c *Client) call(ctx context.Context, r request) ([]byte, error) {
	resp, body, err := c.do(ctx, r)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("remote: request failed",
			slog.String("op", r.op),
			slog.Int("status", resp.StatusCode),
			slog.String("body", string(body)))
		return nil, &apperr.RemoteError{
			ID:      r.id,
			Op:      r.op,
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(body)),
		}
	}
	return body, nil
}

func (c *Client) callJSON(ctx context.Context, r request, out any) error {
	body, err := c.call(ctx, r)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("remote: %s: parse response: %w", r.op, err)
	}
	return nil
}

// Ping checks that the backend answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.call(ctx, request{method: http.MethodGet, op: "ping", segments: []string{"api", "knowledge", "docs"}})
	return err
}
