package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Secret yields a credential on demand.
type Secret interface {
	Value(ctx context.Context) (string, error)
}

// Static is a Secret with a fixed value, used when keys come from local
// configuration instead of Parameter Store.
type Static string

func (s Static) Value(context.Context) (string, error) {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return "", errors.New("paramstore: secret is empty")
	}
	return v, nil
}

// tokenPayload is the JSON shape stored in SSM for tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// TokenSecret fetches a token parameter on first use and caches it for the
// lifetime of the process. Failed fetches are not cached.
type TokenSecret struct {
	getter Getter
	name   string

	mu    sync.Mutex
	token string
}

// NewTokenSecret returns a Secret backed by the parameter called name.
func NewTokenSecret(g Getter, name string) (*TokenSecret, error) {
	if g == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &TokenSecret{getter: g, name: name}, nil
}

func (s *TokenSecret) Value(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}

	raw, err := s.getter.GetParameter(ctx, s.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token %q: %w", s.name, err)
	}
	token, err := parseToken(raw)
	if err != nil {
		return "", fmt.Errorf("paramstore: token %q: %w", s.name, err)
	}
	s.token = token
	return token, nil
}

// parseToken accepts either {"token":"..."} or the bare token string.
func parseToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "{") {
		var tp tokenPayload
		if err := json.Unmarshal([]byte(raw), &tp); err != nil {
			return "", fmt.Errorf("unmarshal token value as JSON: %w", err)
		}
		raw = strings.TrimSpace(tp.Token)
	}
	if raw == "" {
		return "", errors.New("token is empty")
	}
	return raw, nil
}
