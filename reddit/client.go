package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

const (
	defaultAPIHost  = "https://oauth.reddit.com"
	defaultAuthHost = "https://www.reddit.com"

	// reddit paginates listings at 100 items per page
	pageSize = 100
)

// Credentials for a reddit "script" type OAuth application, acting as the
// bot account.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
}

// Client talks to the reddit OAuth API on behalf of a single bot account.
// It implements Directory, plus the write operations the orchestration
// layer needs (contributor grants, modmail, inbox).
//
// All methods serialize through an internal rate limiter; retries for
// transient upstream failures are handled by the underlying HTTP client.
type Client struct {
	// Host is the OAuth API base URL. If not set, defaults to oauth.reddit.com.
	Host string
	// AuthHost is the token-endpoint base URL. If not set, defaults to www.reddit.com.
	AuthHost string
	// Client is an HTTP client to use. If not set, defaults to RobustHTTPClient().
	Client      *http.Client
	Credentials Credentials
	UserAgent   string
	// Limiter bounds outbound request rate. If not set, requests are unthrottled.
	Limiter *rate.Limiter

	tokenLk     sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ Directory = (*Client)(nil)

type leveledSlog struct {
	inner *slog.Logger
}

// re-writes HTTP client ERROR to WARN level (because of retries)
func (l leveledSlog) Error(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Warn(msg string, keysAndValues ...interface{}) {
	l.inner.Warn(msg, keysAndValues...)
}

func (l leveledSlog) Info(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

// re-writes HTTP client DEBUG to INFO level (this is where retry is logged)
func (l leveledSlog) Debug(msg string, keysAndValues ...interface{}) {
	l.inner.Info(msg, keysAndValues...)
}

// RobustHTTPClient returns an HTTP client with general-purpose defaults
// around timeouts and retries: connection errors, 5xx, and 429 responses
// (respecting Retry-After) are retried with backoff. Intermediate failures
// are logged at WARN level.
func RobustHTTPClient() *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = retryablehttp.LeveledLogger(leveledSlog{slog.Default().With("component", "http")})
	client := retryClient.StandardClient()
	client.Timeout = 20 * time.Second
	return client
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return RobustHTTPClient()
	}
	return c.Client
}

func (c *Client) apiHost() string {
	if c.Host == "" {
		return defaultAPIHost
	}
	return c.Host
}

func (c *Client) authHost() string {
	if c.AuthHost == "" {
		return defaultAuthHost
	}
	return c.AuthHost
}

// APIError is a non-2xx response from the reddit API which doesn't map to a
// more specific sentinel error.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit API error: HTTP %d: %s", e.StatusCode, e.Body)
}

type tokenResponse struct {
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
}

// ensureToken refreshes the OAuth token if missing or near expiry, using the
// password grant for script applications.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.tokenLk.Lock()
	defer c.tokenLk.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.Credentials.Username)
	form.Set("password", c.Credentials.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authHost()+"/api/v1/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.Credentials.ClientID, c.Credentials.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.UserAgent)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decoding access token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("access token response missing token")
	}
	c.token = tok.AccessToken
	// refresh a minute early to avoid racing the deadline
	c.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return c.token, nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, form url.Values, out any) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	token, err := c.ensureToken(ctx)
	if err != nil {
		return err
	}

	uri := c.apiHost() + path
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", c.UserAgent)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", path, ErrRateLimited)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, form, out)
}

// reddit wraps most payloads in kind/data envelopes ("things")
type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

// jsonEnvelope is the response shape of form-API endpoints called with
// api_type=json; errors are triples of [code, message, field].
type jsonEnvelope struct {
	JSON struct {
		Errors [][]string `json:"errors"`
	} `json:"json"`
}

func (e *jsonEnvelope) firstError() (code, message string, ok bool) {
	if len(e.JSON.Errors) == 0 || len(e.JSON.Errors[0]) < 2 {
		return "", "", false
	}
	return e.JSON.Errors[0][0], e.JSON.Errors[0][1], true
}

// Me returns the authenticated bot account, verifying credentials.
func (c *Client) Me(ctx context.Context) (*Account, error) {
	var acct Account
	if err := c.get(ctx, "/api/v1/me", nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

// Account resolves a username to account metadata. Returns ErrNotFound for
// deleted or never-registered usernames.
func (c *Client) Account(ctx context.Context, username string) (*Account, error) {
	var t thing
	if err := c.get(ctx, "/user/"+url.PathEscape(username)+"/about", nil, &t); err != nil {
		return nil, err
	}
	var acct Account
	if err := json.Unmarshal(t.Data, &acct); err != nil {
		return nil, fmt.Errorf("decoding account: %w", err)
	}
	return &acct, nil
}

// Comments returns up to limit of the account's most recent comments across
// all subreddits, newest first, paging through the listing API.
func (c *Client) Comments(ctx context.Context, username string, limit int) ([]Comment, error) {
	var comments []Comment
	after := ""
	for limit <= 0 || len(comments) < limit {
		params := url.Values{}
		params.Set("limit", fmt.Sprint(pageSize))
		params.Set("sort", "new")
		if after != "" {
			params.Set("after", after)
		}
		var page listing
		if err := c.get(ctx, "/user/"+url.PathEscape(username)+"/comments", params, &page); err != nil {
			return nil, err
		}
		for _, child := range page.Data.Children {
			var comment Comment
			if err := json.Unmarshal(child.Data, &comment); err != nil {
				return nil, fmt.Errorf("decoding comment: %w", err)
			}
			comments = append(comments, comment)
			if limit > 0 && len(comments) == limit {
				return comments, nil
			}
		}
		if page.Data.After == "" || len(page.Data.Children) == 0 {
			break
		}
		after = page.Data.After
	}
	return comments, nil
}

type modNotesPage struct {
	ModNotes    []ModNote `json:"mod_notes"`
	EndCursor   string    `json:"end_cursor"`
	HasNextPage bool      `json:"has_next_page"`
}

// ModNotes returns every mod note for the account in the subreddit,
// paginating to exhaustion.
func (c *Client) ModNotes(ctx context.Context, subreddit, username string) ([]ModNote, error) {
	var notes []ModNote
	cursor := ""
	for {
		params := url.Values{}
		params.Set("subreddit", subreddit)
		params.Set("user", username)
		params.Set("limit", fmt.Sprint(pageSize))
		if cursor != "" {
			params.Set("before", cursor)
		}
		var page modNotesPage
		if err := c.get(ctx, "/api/mod/notes", params, &page); err != nil {
			return nil, err
		}
		notes = append(notes, page.ModNotes...)
		if !page.HasNextPage || page.EndCursor == "" {
			return notes, nil
		}
		cursor = page.EndCursor
	}
}

// AddContributor grants the account the subreddit's "approved user"
// (contributor) permission. Returns ErrRateLimited when the subreddit has
// hit its invite rate limit; the grant may be retried later.
func (c *Client) AddContributor(ctx context.Context, subreddit, username string) error {
	form := url.Values{}
	form.Set("name", username)
	form.Set("type", "contributor")
	form.Set("api_type", "json")
	var envelope jsonEnvelope
	if err := c.post(ctx, "/r/"+url.PathEscape(subreddit)+"/api/friend", form, &envelope); err != nil {
		return err
	}
	if code, message, ok := envelope.firstError(); ok {
		if strings.Contains(code, "RATELIMIT") {
			return fmt.Errorf("adding contributor %s: %w", username, ErrRateLimited)
		}
		return fmt.Errorf("adding contributor %s: %s: %s", username, code, message)
	}
	return nil
}

type userList struct {
	Data struct {
		After    string `json:"after"`
		Children []struct {
			Name string `json:"name"`
		} `json:"children"`
	} `json:"data"`
}

// Moderators returns the subreddit's moderator usernames.
func (c *Client) Moderators(ctx context.Context, subreddit string) ([]string, error) {
	var list userList
	if err := c.get(ctx, "/r/"+url.PathEscape(subreddit)+"/about/moderators", nil, &list); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(list.Data.Children))
	for _, child := range list.Data.Children {
		names = append(names, child.Name)
	}
	return names, nil
}

// Contributors returns the subreddit's approved-user usernames, paging
// through the listing API to exhaustion.
func (c *Client) Contributors(ctx context.Context, subreddit string) ([]string, error) {
	var names []string
	after := ""
	for {
		params := url.Values{}
		params.Set("limit", fmt.Sprint(pageSize))
		if after != "" {
			params.Set("after", after)
		}
		var list userList
		if err := c.get(ctx, "/r/"+url.PathEscape(subreddit)+"/about/contributors", params, &list); err != nil {
			return nil, err
		}
		for _, child := range list.Data.Children {
			names = append(names, child.Name)
		}
		if list.Data.After == "" || len(list.Data.Children) == 0 {
			return names, nil
		}
		after = list.Data.After
	}
}

// UnreadMessages returns the bot inbox's unread items, newest first.
func (c *Client) UnreadMessages(ctx context.Context) ([]Message, error) {
	params := url.Values{}
	params.Set("limit", fmt.Sprint(pageSize))
	var page listing
	if err := c.get(ctx, "/message/unread", params, &page); err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		var message Message
		if err := json.Unmarshal(child.Data, &message); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// MarkRead marks an inbox item (by fullname) as read.
func (c *Client) MarkRead(ctx context.Context, fullname string) error {
	form := url.Values{}
	form.Set("id", fullname)
	return c.post(ctx, "/api/read_message", form, nil)
}

// ReplyToMessage posts a reply to an inbox message or comment, by parent
// fullname.
func (c *Client) ReplyToMessage(ctx context.Context, parentFullname, body string) error {
	form := url.Values{}
	form.Set("thing_id", parentFullname)
	form.Set("text", body)
	form.Set("api_type", "json")
	var envelope jsonEnvelope
	if err := c.post(ctx, "/api/comment", form, &envelope); err != nil {
		return err
	}
	if code, message, ok := envelope.firstError(); ok {
		return fmt.Errorf("replying to %s: %s: %s", parentFullname, code, message)
	}
	return nil
}

// ComposeMessage sends a private message to a user.
func (c *Client) ComposeMessage(ctx context.Context, to, subject, body string) error {
	form := url.Values{}
	form.Set("to", to)
	form.Set("subject", subject)
	form.Set("text", body)
	form.Set("api_type", "json")
	var envelope jsonEnvelope
	if err := c.post(ctx, "/api/compose", form, &envelope); err != nil {
		return err
	}
	if code, message, ok := envelope.firstError(); ok {
		return fmt.Errorf("messaging %s: %s: %s", to, code, message)
	}
	return nil
}

type modmailPage struct {
	Conversations   map[string]modmailConversation `json:"conversations"`
	ConversationIDs []string                       `json:"conversationIds"`
}

type modmailConversation struct {
	ID          string `json:"id"`
	NumMessages int    `json:"numMessages"`
	Authors     []struct {
		Name string `json:"name"`
	} `json:"authors"`
}

// ModmailConversations lists modmail threads for the subreddit, newest
// first. state follows the modmail API ("all", "new", "archived", ...).
func (c *Client) ModmailConversations(ctx context.Context, subreddit, state string) ([]ModmailConversation, error) {
	params := url.Values{}
	params.Set("entity", subreddit)
	params.Set("state", state)
	params.Set("limit", fmt.Sprint(pageSize))
	var page modmailPage
	if err := c.get(ctx, "/api/mod/conversations", params, &page); err != nil {
		return nil, err
	}
	conversations := make([]ModmailConversation, 0, len(page.ConversationIDs))
	for _, id := range page.ConversationIDs {
		raw, ok := page.Conversations[id]
		if !ok {
			continue
		}
		conversation := ModmailConversation{ID: raw.ID, NumMessages: raw.NumMessages}
		for _, author := range raw.Authors {
			conversation.Authors = append(conversation.Authors, author.Name)
		}
		conversations = append(conversations, conversation)
	}
	return conversations, nil
}

// ModmailReply posts a reply on a modmail conversation. Internal replies are
// moderator-only notes, invisible to the account.
func (c *Client) ModmailReply(ctx context.Context, conversationID, body string, internal bool) error {
	form := url.Values{}
	form.Set("body", body)
	form.Set("isInternal", fmt.Sprint(internal))
	form.Set("isAuthorHidden", "false")
	return c.post(ctx, "/api/mod/conversations/"+url.PathEscape(conversationID), form, nil)
}
