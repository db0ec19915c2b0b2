// Package supabase talks to the Supabase Auth (GoTrue) API and keeps the
// CLI's signed-in session on disk.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"

	"talk-pdf/internal/auth"
	"talk-pdf/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Session is a signed-in Supabase session.
type Session struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in,omitempty"`
	ExpiresAt    int64       `json:"expires_at,omitempty"`
	User         domain.User `json:"user"`
}

// APIError is a non-2xx answer from the Auth API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("supabase: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) HTTPStatusCode() int { return e.StatusCode }

type errorBody struct {
	ErrorDescription string `json:"error_description"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
}

func (b errorBody) text() string {
	for _, s := range []string{b.ErrorDescription, b.Msg, b.Message, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// Client wraps a gotrue client keyed by the project's anon key.
type Client struct {
	api       gotrue.Client
	transport http.RoundTripper
	now       func() time.Time
}

func NewClient(baseURL, anonKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("supabase: url must not be empty")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("supabase: invalid url: %w", err)
	}
	anonKey = strings.TrimSpace(anonKey)
	if anonKey == "" {
		return nil, errors.New("supabase: anon key must not be empty")
	}
	return &Client{
		api:       gotrue.New("", anonKey).WithCustomGoTrueURL(baseURL + "/auth/v1"),
		transport: http.DefaultTransport,
		now:       time.Now,
	}, nil
}

// gotrue calls take no context, so every call gets an http.Client whose
// transport carries ctx.
func (c *Client) with(ctx context.Context, token string) gotrue.Client {
	api := c.api.WithClient(http.Client{
		Timeout:   defaultTimeout,
		Transport: contextTransport{ctx: ctx, next: c.transport},
	})
	if token != "" {
		api = api.WithToken(token)
	}
	return api
}

// Verify resolves an access token to its user by asking the Auth server.
func (c *Client) Verify(ctx context.Context, token string) (domain.User, error) {
	res, err := c.with(ctx, token).GetUser()
	if err != nil {
		err = apiError(err)
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return domain.User{}, fmt.Errorf("%w: %w", auth.ErrInvalidToken, err)
		}
		return domain.User{}, err
	}
	user := toUser(res.User)
	if user.ID == "" {
		return domain.User{}, fmt.Errorf("%w: user has no id", auth.ErrInvalidToken)
	}
	return user, nil
}

func (c *Client) SignIn(ctx context.Context, email, password string) (Session, error) {
	res, err := c.with(ctx, "").SignInWithEmailPassword(email, password)
	if err != nil {
		return Session{}, apiError(err)
	}
	return c.session(res.Session), nil
}

// SignUp registers a user. When the project requires email confirmation the
// returned Session has no access token and only User is set.
func (c *Client) SignUp(ctx context.Context, email, password string) (Session, error) {
	res, err := c.with(ctx, "").Signup(types.SignupRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, apiError(err)
	}
	if res.AccessToken == "" {
		return Session{User: toUser(res.User)}, nil
	}
	return c.session(res.Session), nil
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	res, err := c.with(ctx, "").RefreshToken(refreshToken)
	if err != nil {
		return Session{}, apiError(err)
	}
	return c.session(res.Session), nil
}

// SignOut revokes the session behind token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	if err := c.with(ctx, token).Logout(); err != nil {
		return apiError(err)
	}
	return nil
}

func (c *Client) session(s types.Session) Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresIn:    int64(s.ExpiresIn),
		ExpiresAt:    s.ExpiresAt,
		User:         toUser(s.User),
	}
	if out.ExpiresAt == 0 && out.ExpiresIn > 0 {
		out.ExpiresAt = c.now().Unix() + out.ExpiresIn
	}
	return out
}

func toUser(u types.User) domain.User {
	if u.ID == uuid.Nil {
		return domain.User{Email: u.Email}
	}
	return domain.User{ID: u.ID.String(), Email: u.Email}
}

// apiError turns gotrue's "response status code N: body" errors into an
// APIError. Anything else is a transport or decoding failure.
func apiError(err error) error {
	var code int
	msg := err.Error()
	if _, scanErr := fmt.Sscanf(msg, "response status code %d", &code); scanErr != nil {
		return fmt.Errorf("supabase: %w", err)
	}
	body := ""
	if _, rest, ok := strings.Cut(msg, ": "); ok {
		body = strings.TrimSpace(rest)
	}
	var eb errorBody
	_ = json.Unmarshal([]byte(body), &eb)
	text := eb.text()
	if text == "" && !strings.HasPrefix(body, "{") {
		text = body
	}
	if text == "" {
		text = http.StatusText(code)
	}
	return &APIError{StatusCode: code, Message: text}
}

type contextTransport struct {
	ctx  context.Context
	next http.RoundTripper
}

func (t contextTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	return t.next.RoundTrip(r.WithContext(t.ctx))
}
