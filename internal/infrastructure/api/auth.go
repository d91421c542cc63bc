package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/clinicroom/waiting-room/internal/core/domain"
	"github.com/clinicroom/waiting-room/internal/core/ports"
)

type authClient struct {
	c *Client
}

type wireUser struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Type   string `json:"type"`
	TypeID int    `json:"type_id"`
}

type loginResponse struct {
	Status        string   `json:"status"`
	User          wireUser `json:"user"`
	Authorisation struct {
		Token     string `json:"token"`
		Type      string `json:"type"`
		ExpiresIn int    `json:"expires_in"`
	} `json:"authorisation"`
}

func (a *authClient) Login(ctx context.Context, creds ports.Credentials) (*ports.LoginResult, error) {
	var out loginResponse
	if err := a.c.do(ctx, http.MethodPost, "/api/login", creds, &out); err != nil {
		// A 401 before any token exists is a bad password, not a dead session.
		if errors.Is(err, domain.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
		}
		return nil, err
	}

	role, err := domain.ParseRole(out.User.Type)
	if err != nil {
		return nil, fmt.Errorf("login response: %w", err)
	}

	return &ports.LoginResult{
		Identity: domain.Identity{
			ID:     out.User.ID,
			Name:   out.User.Name,
			Email:  out.User.Email,
			Role:   role,
			RoleID: out.User.TypeID,
		},
		Token:     out.Authorisation.Token,
		ExpiresIn: out.Authorisation.ExpiresIn,
	}, nil
}

func (a *authClient) Logout(ctx context.Context) error {
	return a.c.do(ctx, http.MethodPost, "/api/logout", nil, nil)
}
