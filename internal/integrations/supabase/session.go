package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"talk-pdf/internal/domain"
)

// ErrNoSession is returned when nobody is signed in.
var ErrNoSession = errors.New("supabase: no saved session")

// refreshSkew renews tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// DefaultSessionPath is where the CLI keeps its session when none is configured.
func DefaultSessionPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("supabase: locate config dir: %w", err)
	}
	return filepath.Join(dir, "talkpdf", "session.json"), nil
}

// SessionFile persists a Session as JSON readable only by the owner.
type SessionFile struct {
	path string
}

func NewSessionFile(path string) (*SessionFile, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		var err error
		if path, err = DefaultSessionPath(); err != nil {
			return nil, err
		}
	}
	return &SessionFile{path: path}, nil
}

func (f *SessionFile) Path() string { return f.path }

func (f *SessionFile) Load() (Session, error) {
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("supabase: read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return Session{}, fmt.Errorf("supabase: decode session: %w", err)
	}
	if s.AccessToken == "" {
		return Session{}, ErrNoSession
	}
	return s, nil
}

// Save writes the session atomically with 0600 permissions.
func (f *SessionFile) Save(s Session) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("supabase: create session dir: %w", err)
	}
	raw, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("supabase: encode session: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("supabase: write session: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("supabase: replace session: %w", err)
	}
	return nil
}

// Clear removes the saved session. A missing file is not an error.
func (f *SessionFile) Clear() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("supabase: remove session: %w", err)
	}
	return nil
}

type authAPI interface {
	Refresh(ctx context.Context, refreshToken string) (Session, error)
	SignOut(ctx context.Context, token string) error
}

// Resolver supplies the CLI with the current session, refreshing it when the
// access token is about to expire.
type Resolver struct {
	api  authAPI
	file *SessionFile
	now  func() time.Time
}

func NewResolver(api authAPI, file *SessionFile) (*Resolver, error) {
	if api == nil {
		return nil, errors.New("supabase: auth client must not be nil")
	}
	if file == nil {
		return nil, errors.New("supabase: session file must not be nil")
	}
	return &Resolver{api: api, file: file, now: time.Now}, nil
}

func (r *Resolver) Resolve(ctx context.Context) (string, domain.User, error) {
	s, err := r.file.Load()
	if err != nil {
		return "", domain.User{}, err
	}
	if s.ExpiresAt > 0 && !r.now().Add(refreshSkew).Before(time.Unix(s.ExpiresAt, 0)) {
		if s.RefreshToken == "" {
			return "", domain.User{}, ErrNoSession
		}
		refreshed, err := r.api.Refresh(ctx, s.RefreshToken)
		if err != nil {
			return "", domain.User{}, fmt.Errorf("supabase: refresh session: %w", err)
		}
		if refreshed.User.ID == "" {
			refreshed.User = s.User
		}
		if err := r.file.Save(refreshed); err != nil {
			return "", domain.User{}, err
		}
		s = refreshed
	}
	return s.AccessToken, s.User, nil
}

// SignOut revokes the session remotely and always forgets it locally.
func (r *Resolver) SignOut(ctx context.Context, token string) error {
	remoteErr := r.api.SignOut(ctx, token)
	if err := r.file.Clear(); err != nil {
		return err
	}
	if remoteErr != nil {
		return fmt.Errorf("supabase: sign out: %w", remoteErr)
	}
	return nil
}
