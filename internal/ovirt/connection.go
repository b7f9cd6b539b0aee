// Package ovirt is a small client for the oVirt engine REST API (v4, JSON).
package ovirt

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"ovirt-backup/internal/helpers"
)

const ssoScope = "ovirt-app-api"

// Options configures a connection to the engine.
type Options struct {
	// URL of the API root, e.g. https://engine.example.com/ovirt-engine/api.
	URL      string
	Username string
	Password string
	// CAFile is the PEM bundle trusted for the engine certificate.
	CAFile   string
	Insecure bool
	Timeout  time.Duration
	Logger   logrus.FieldLogger
	// HTTPClient overrides the client built from CAFile and Insecure.
	HTTPClient *http.Client
}

// Client is an authenticated session against the engine.
type Client struct {
	api    string
	sso    string
	token  string
	http   *http.Client
	logger logrus.FieldLogger
}

// Connect opens a session. Failures to reach the engine or to authenticate
// are returned wrapped in ErrAuth.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("engine url is required")
	}
	base := strings.TrimRight(opts.URL, "/")
	c := &Client{
		api:    base,
		sso:    strings.TrimSuffix(base, "/api") + "/sso/oauth",
		http:   opts.HTTPClient,
		logger: opts.Logger,
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.http == nil {
		hc, err := newHTTPClient(opts)
		if err != nil {
			return nil, err
		}
		c.http = hc
	}

	token, err := c.requestToken(ctx, opts.Username, opts.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	c.token = token
	c.logger.Debugf("connected to %s as %s", base, opts.Username)
	return c, nil
}

func newHTTPClient(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.Insecure}
	if opts.CAFile != "" {
		pem, err := os.ReadFile(opts.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", opts.CAFile)
		}
		tlsConfig.RootCAs = pool
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

func (c *Client) requestToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("scope", ssoScope)
	form.Set("username", username)
	form.Set("password", password)

	res, err := c.postForm(ctx, c.sso+"/token", form)
	if err != nil {
		return "", err
	}
	if msg := res.Get("error_description").String(); msg != "" {
		return "", fmt.Errorf("%s", msg)
	}
	if code := res.Get("error").String(); code != "" {
		return "", fmt.Errorf("%s", code)
	}
	token := res.Get("access_token").String()
	if token == "" {
		return "", fmt.Errorf("sso response carries no access token")
	}
	return token, nil
}

// Close revokes the session token.
func (c *Client) Close(ctx context.Context) error {
	if c.token == "" {
		return nil
	}
	form := url.Values{}
	form.Set("scope", ssoScope)
	form.Set("token", c.token)
	if _, err := c.postForm(ctx, c.sso+"/revoke", form); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	c.token = ""
	c.logger.Debug("disconnected from engine")
	return nil
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	res := gjson.ParseBytes(body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if msg := res.Get("error_description").String(); msg != "" {
			return gjson.Result{}, fmt.Errorf("sso returned %d: %s", resp.StatusCode, msg)
		}
		return gjson.Result{}, fmt.Errorf("sso returned %d", resp.StatusCode)
	}
	return res, nil
}

// do sends a request to path below the API root and returns the parsed body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body string) (gjson.Result, error) {
	endpoint := c.api + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Version", "4")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if runID, ok := helpers.GetRunID(ctx); ok {
		req.Header.Set("Correlation-Id", runID)
	}

	c.logger.Debugf("%s %s", method, path)
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%s %s: failed to read response: %w", method, path, err)
	}
	res := gjson.ParseBytes(data)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := res.Get("reason").String()
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return gjson.Result{}, fmt.Errorf("%s %s: %w", method, path, &APIError{
			Code:   resp.StatusCode,
			Reason: reason,
			Detail: res.Get("detail").String(),
		})
	}
	return res, nil
}
