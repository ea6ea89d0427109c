package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"secure-fields/internal/auth"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 200 * time.Millisecond
)

// Client wraps the reveal protocol with per-request timeout, bounded
// exponential-backoff retry for transient failures, and error
// classification. Safe for concurrent use.
type Client struct {
	base        string
	hc          *http.Client
	session     auth.Session
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option    { return func(c *Client) { c.timeout = d } }
func WithMaxAttempts(n int) Option          { return func(c *Client) { c.maxAttempts = n } }
func WithBackoff(d time.Duration) Option    { return func(c *Client) { c.backoff = d } }
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.hc = hc } }

func New(baseURL string, session auth.Session, opts ...Option) *Client {
	c := &Client{
		base:        strings.TrimRight(baseURL, "/"),
		hc:          &http.Client{},
		session:     session,
		timeout:     defaultTimeout,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Reveal is a decrypted value plus the advisory window the server suggests
// for keeping it on screen.
type Reveal struct {
	Plaintext string
	ExpiresIn time.Duration
}

func (c *Client) Reveal(ctx context.Context, fieldID string) (Reveal, error) {
	var resp struct {
		Plaintext string `json:"plaintext"`
		ExpiresIn int    `json:"expires_in"`
	}
	err := c.post(ctx, fmt.Sprintf("/secure-fields/%s/reveal", fieldID), map[string]any{}, &resp)
	if err != nil {
		return Reveal{}, err
	}
	return Reveal{
		Plaintext: resp.Plaintext,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

func (c *Client) Save(ctx context.Context, fieldID, value string) error {
	var resp struct {
		Success bool `json:"success"`
	}
	return c.post(ctx, fmt.Sprintf("/secure-fields/%s/save", fieldID), map[string]string{"value": value}, &resp)
}

// post retries transient failures with doubling backoff up to the attempt
// ceiling. Terminal classifications return immediately.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindValidation, Message: err.Error(), cause: err}
	}

	var last *Error
	delay := c.backoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return classifyTransport(ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}

		last = c.once(ctx, path, payload, out)
		if last == nil {
			return nil
		}
		if !last.Retryable() {
			return last
		}
	}
	return last
}

func (c *Client) once(ctx context.Context, path string, payload []byte, out any) *Error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindValidation, Message: err.Error(), cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.session.Token)
	req.Header.Set(auth.CSRFHeader, c.session.CSRF)

	resp, err := c.hc.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, readErrorMessage(resp.Body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindServer, Message: "malformed response", cause: err}
		}
	}
	return nil
}

func readErrorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return "request failed"
}
