// Package rest is the HTTP DataSource speaking the dataedit row API:
// windowed row pages and atomic change-set submissions guarded by a
// per-session CSRF token.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/suhitaghosh10/oeplatform"
)

const (
	DefaultBasePath = "/api/v0"
	SessionPath     = "/session"
	ChangesPath     = "/changes"

	CSRFHeader      = "X-CSRFToken"
	CSRFCookie      = "csrftoken"
	applicationJSON = "application/json"
)

type (
	// TokenStore is the cookie-like per-session store the authenticity
	// token is read from before each submission.
	TokenStore interface {
		Token() (string, bool)
		SetToken(token string)
	}

	SessionTokens struct {
		mu    sync.Mutex
		token string
	}

	Client struct {
		base   string
		hc     *http.Client
		tokens TokenStore
	}

	Option func(c *Client)
)

var _ oeplatform.DataSource = (*Client)(nil)

func NewSessionTokens() *SessionTokens { return &SessionTokens{} }

func (s *SessionTokens) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, s.token != ""
}

func (s *SessionTokens) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func WithTokenStore(tokens TokenStore) Option {
	return func(c *Client) { c.tokens = tokens }
}

func NewClient(base string, options ...Option) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		tokens: NewSessionTokens(),
	}
	for _, option := range options {
		option(c)
	}
	if c.hc == nil {
		jar, _ := cookiejar.New(nil)
		c.hc = &http.Client{Jar: jar}
	}
	return c
}

func (c *Client) rowsURL(ref oeplatform.TableRef) string {
	return fmt.Sprintf("%s%s/schema/%s/tables/%s/rows",
		c.base, DefaultBasePath, url.PathEscape(ref.Schema), url.PathEscape(ref.Table))
}

// Fetch requests one page of rows. Non-2xx responses surface as
// *FetchError carrying the status and the backend's message.
func (c *Client) Fetch(ctx context.Context, ref oeplatform.TableRef, page oeplatform.Page) (*oeplatform.RowPage, error) {
	u := c.rowsURL(ref) + "?offset=" + strconv.Itoa(page.Offset) + "&limit=" + strconv.Itoa(page.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}
	req.Header.Set("Accept", applicationJSON)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &oeplatform.FetchError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &oeplatform.FetchError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	result := new(oeplatform.RowPage)
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, &oeplatform.FetchError{Message: "decode row page: " + err.Error()}
	}
	return result, nil
}

// EnsureToken fetches a fresh session token when the store is empty and
// returns the current one.
func (c *Client) EnsureToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.Token(); ok {
		return token, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+DefaultBasePath+SessionPath, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session request failed (status %d): %s", resp.StatusCode, readMessage(resp.Body))
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode session token: %w", err)
	}
	c.tokens.SetToken(body.Token)
	return body.Token, nil
}

// Save submits one change-set with the session's authenticity token.
// Per-row rejections come back inside the SaveResult; transport and
// validation failures surface as *SubmitError.
func (c *Client) Save(ctx context.Context, ref oeplatform.TableRef, cs oeplatform.ChangeSet) (*oeplatform.SaveResult, error) {
	token, err := c.EnsureToken(ctx)
	if err != nil {
		return nil, &oeplatform.SubmitError{Message: err.Error()}
	}

	payload, err := json.Marshal(cs)
	if err != nil {
		return nil, &oeplatform.SubmitError{Message: "encode change-set: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rowsURL(ref)+ChangesPath, bytes.NewReader(payload))
	if err != nil {
		return nil, &oeplatform.SubmitError{Message: err.Error()}
	}
	req.Header.Set("Content-Type", applicationJSON)
	req.Header.Set(CSRFHeader, token)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &oeplatform.SubmitError{Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &oeplatform.SubmitError{Status: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	result := new(oeplatform.SaveResult)
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, &oeplatform.SubmitError{Message: "decode save result: " + err.Error()}
	}
	return result, nil
}

func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return err.Error()
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(raw))
}
