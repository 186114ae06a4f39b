package service

import (
	"context"
	"errors"
	"strings"

	"github.com/adwski/chat-backend/backend/model"
)

type (
	RegisterRequest struct {
		Name     string `json:"name"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Pic      string `json:"pic"`
	}

	LoginRequest struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	AuthResponse struct {
		ID    string `json:"_id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Pic   string `json:"pic"`
		Token string `json:"token"`
	}
)

func (svc *Service) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Name == "" || req.Email == "" || req.Password == "" {
		return nil, validation("please enter all the required fields")
	}

	hash, err := svc.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Name:     req.Name,
		Email:    req.Email,
		Password: hash,
		Pic:      req.Pic,
	}
	if err = svc.store.CreateUser(ctx, user); err != nil {
		return nil, storeErr(err, "user with this email")
	}
	svc.logger.Debug().Str("userID", user.ID).Msg("user registered")
	return svc.authResponse(user)
}

func (svc *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := svc.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil && !errors.Is(err, model.ErrRecordNotFound) {
		return nil, err
	}
	if user == nil || !svc.hasher.Verify(req.Password, user.Password) {
		return nil, errors.Join(ErrUnauthorized, errors.New("invalid email or password"))
	}
	return svc.authResponse(user)
}

// Authenticate resolves bearer token to user id.
func (svc *Service) Authenticate(token string) (string, error) {
	userID, err := svc.tokens.Validate(token)
	if err != nil {
		return "", errors.Join(ErrUnauthorized, err)
	}
	return userID, nil
}

func (svc *Service) SearchUsers(ctx context.Context, callerID, search string) ([]model.User, error) {
	return svc.store.SearchUsers(ctx, strings.TrimSpace(search), callerID)
}

func (svc *Service) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := svc.store.UserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, "user")
	}
	return user, nil
}

func (svc *Service) authResponse(user *model.User) (*AuthResponse, error) {
	token, err := svc.tokens.Issue(user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
		Pic:   user.Pic,
		Token: token,
	}, nil
}
