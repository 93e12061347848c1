// Package auth obtains access tokens from the chat server's HTTP API.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=6"`
	Name     string  `json:"name" validate:"required"`
	Avatar   *string `json:"avatar"`
}

type tokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Msg     string `json:"msg"`
}

// Client talks to the auth endpoints below BaseURL.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
}

// NewClient returns a Client for the API rooted at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, req LoginRequest) (string, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := c.validate.Struct(req); err != nil {
		return "", apperr.New(apperr.ErrUnauthenticated, "login", "email and password are required", err)
	}
	return c.token(ctx, "login", "/auth/login", req)
}

// Register creates an account and returns its access token.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := c.validate.Struct(req); err != nil {
		return "", apperr.New(apperr.ErrUnauthenticated, "register", "email, password and name are required", err)
	}
	return c.token(ctx, "register", "/auth/register", req)
}

func (c *Client) token(ctx context.Context, op, path string, body any) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("%s: server URL not set", op)
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal %s request: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debugf("auth: POST %s", path)
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Connection(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", apperr.Connection(op, err)
	}

	var out tokenResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		if resp.StatusCode >= 500 {
			return "", apperr.Connection(op, fmt.Errorf("status %d", resp.StatusCode))
		}
		return "", fmt.Errorf("%s: unexpected response (status %d)", op, resp.StatusCode)
	}
	if !out.Success || out.Token == "" {
		msg := out.Msg
		if msg == "" {
			msg = fmt.Sprintf("%s failed", op)
		}
		return "", apperr.New(apperr.ErrUnauthenticated, op, msg, nil)
	}
	return out.Token, nil
}
