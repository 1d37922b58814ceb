package user

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

const tokenTTL = 24 * time.Hour

type Service struct {
	repo      *Repository
	jwtSecret string
}

type Claims struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func NewService(repo *Repository, secret string) *Service {
	return &Service{
		repo:      repo,
		jwtSecret: secret,
	}
}

func (s *Service) Register(ctx context.Context, req *RegisterRequest) (*User, error) {
	hashedPwd, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &User{
		Username: req.Username,
		Password: string(hashedPwd),
	}

	if _, err := s.repo.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	return &User{ID: u.ID, Username: u.Username}, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	u, err := s.repo.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)); err != nil {
		return nil, err
	}

	ss, err := s.issueToken(u.ID, u.Username)
	if err != nil {
		return nil, err
	}

	return &LoginResponse{
		AccessToken: ss,
		ID:          u.ID,
		Username:    u.Username,
		Avatar:      u.Avatar,
	}, nil
}

func (s *Service) ValidateToken(tokenString string) (int, string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.jwtSecret), nil
	})
	if err != nil {
		return 0, "", err
	}
	if !token.Valid {
		return 0, "", jwt.ErrSignatureInvalid
	}

	return claims.ID, claims.Username, nil
}

// UpdateProfile applies a rename and/or avatar change for the authenticated
// user. A rename stales the username claim in outstanding tokens, so the
// response carries a freshly issued one.
func (s *Service) UpdateProfile(ctx context.Context, username string, req *UpdateProfileRequest) (*UpdateProfileResponse, error) {
	current := username
	renamed := false

	if req.Username != "" && req.Username != username {
		if err := s.repo.Rename(ctx, username, req.Username); err != nil {
			return nil, err
		}
		current = req.Username
		renamed = true
	}

	if req.Avatar != "" {
		if err := s.repo.UpdateAvatar(ctx, current, req.Avatar); err != nil {
			return nil, err
		}
	}

	u, err := s.repo.GetUserByUsername(ctx, current)
	if err != nil {
		return nil, err
	}

	res := &UpdateProfileResponse{User: u}
	if renamed {
		if res.AccessToken, err = s.issueToken(u.ID, u.Username); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (s *Service) SearchUsers(ctx context.Context, query string) ([]User, error) {
	return s.repo.SearchUsers(ctx, query)
}

func (s *Service) issueToken(id int, username string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ID:       id,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "whyhot",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
		},
	})
	return token.SignedString([]byte(s.jwtSecret))
}
