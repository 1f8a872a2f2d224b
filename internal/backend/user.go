package backend

import (
	"context"
	"net/http"

	"github.com/tphakala/farmdash/internal/entities"
	"github.com/tphakala/farmdash/internal/errors"
)

// UserClient talks to the user service: authentication, farmer profiles and crops.
type UserClient struct {
	c *Client
}

// NewUserClient wraps a Client configured for the user service.
func NewUserClient(c *Client) *UserClient {
	return &UserClient{c: c}
}

// Credentials is the body of POST /auth/sign-in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the body of POST /auth/sign-up.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Phone     string `json:"phone,omitempty"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// SignIn exchanges credentials for a JWT.
func (u *UserClient) SignIn(ctx context.Context, creds Credentials) (string, error) {
	return u.token(ctx, "/auth/sign-in", creds)
}

// SignUp registers a farmer and returns a JWT.
func (u *UserClient) SignUp(ctx context.Context, reg Registration) (string, error) {
	return u.token(ctx, "/auth/sign-up", reg)
}

func (u *UserClient) token(ctx context.Context, path string, body any) (string, error) {
	var out tokenResponse
	if err := u.c.doJSON(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.Newf("auth response did not contain a token").
			Component("backend").
			Category(errors.CategoryAuthentication).
			Context("path", path).
			Build()
	}
	return out.Token, nil
}

// GetFarmer returns a farmer profile.
func (u *UserClient) GetFarmer(ctx context.Context, id string) (*entities.Farmer, error) {
	var out entities.Farmer
	if err := u.c.getJSON(ctx, "/farmers/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCrops returns every crop of a farmer.
func (u *UserClient) ListCrops(ctx context.Context, farmerID string) ([]entities.Crop, error) {
	var out []entities.Crop
	if err := u.c.getJSON(ctx, "/crops/farmer/"+escape(farmerID), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateCrop registers a crop.
func (u *UserClient) CreateCrop(ctx context.Context, crop entities.Crop) (*entities.Crop, error) {
	var out entities.Crop
	if err := u.c.doJSON(ctx, http.MethodPost, "/crops", nil, crop, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCrop replaces a crop.
func (u *UserClient) UpdateCrop(ctx context.Context, crop entities.Crop) (*entities.Crop, error) {
	var out entities.Crop
	if err := u.c.doJSON(ctx, http.MethodPut, "/crops/"+escape(crop.ID.String()), nil, crop, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteCrop removes a crop.
func (u *UserClient) DeleteCrop(ctx context.Context, id string) error {
	return u.c.doJSON(ctx, http.MethodDelete, "/crops/"+escape(id), nil, nil, nil)
}
