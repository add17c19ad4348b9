package carrier

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// session owns the carrier's bearer token. It logs in on first use and
// again whenever a call reports the token expired.
type session struct {
	mu    sync.Mutex
	token string
	login func(ctx context.Context) (string, error)
}

func (s *session) current(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" {
		return s.token, nil
	}
	token, err := s.login(ctx)
	if err != nil {
		return "", err
	}
	s.token = token
	return token, nil
}

// invalidate drops stale only if nobody refreshed it already.
func (s *session) invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == stale {
		s.token = ""
	}
}

func (c *Client) authenticate(ctx context.Context) (string, error) {
	var out loginResponse
	res, err := c.send(ctx, http.MethodPost, "/v1/external/auth/login", "", loginRequest{
		Email:    c.cfg.Email,
		Password: c.cfg.Password,
	}, &out)
	if err != nil {
		return "", err
	}
	if res.status != http.StatusOK || out.Token == "" {
		return "", fmt.Errorf("%w: login failed with status %d: %s", errUnauthenticated, res.status, res.message)
	}
	return out.Token, nil
}
