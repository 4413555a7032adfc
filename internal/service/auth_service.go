package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bankledger/internal/auth"
	"bankledger/internal/config"
	"bankledger/internal/model"
	"bankledger/internal/repository"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrMissingFields      = errors.New("please fill in all required fields")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidAge         = errors.New("age must be between 18 and 100")
	ErrInvalidGender      = errors.New("gender must be Male, Female or Other")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

const (
	minAge = 18
	maxAge = 100
)

type AuthService struct {
	db         *gorm.DB
	users      *repository.UserRepository
	accounts   *repository.AccountRepository
	tokens     *auth.TokenIssuer
	bcryptCost int
	log        zerolog.Logger
}

func NewAuthService(db *gorm.DB, tokens *auth.TokenIssuer, cfg *config.Config, log zerolog.Logger) *AuthService {
	return &AuthService{
		db:         db,
		users:      repository.NewUserRepository(db),
		accounts:   repository.NewAccountRepository(db),
		tokens:     tokens,
		bcryptCost: cfg.Auth.BcryptCost,
		log:        log,
	}
}

type SignupRequest struct {
	Username string
	Password string
	FullName string
	Age      int
	Gender   string
	Email    string
	Phone    string
}

// Signup registers a user and opens its account (zero balance, with the
// submitted profile) in one transaction.
func (s *AuthService) Signup(ctx context.Context, req *SignupRequest) (*model.User, *model.Account, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		return nil, nil, ErrMissingFields
	}
	profile, err := NormalizeProfile(model.Profile{
		FullName: req.FullName,
		Age:      req.Age,
		Gender:   req.Gender,
		Email:    req.Email,
		Phone:    req.Phone,
	})
	if err != nil {
		return nil, nil, err
	}

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, nil, storeError("signup", err)
	}
	if taken {
		return nil, nil, ErrUsernameTaken
	}
	taken, err = s.users.ExistsByEmail(ctx, profile.Email)
	if err != nil {
		return nil, nil, storeError("signup", err)
	}
	if taken {
		return nil, nil, ErrEmailTaken
	}

	hash, err := auth.HashPassword(req.Password, s.bcryptCost)
	if err != nil {
		return nil, nil, err
	}

	user := &model.User{
		Username:     req.Username,
		Email:        profile.Email,
		PasswordHash: hash,
	}
	account := &model.Account{Profile: profile}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.users.Create(ctx, tx, user); err != nil {
			return err
		}
		account.OwnerID = user.ID
		return s.accounts.Create(ctx, tx, account)
	})
	if err != nil {
		err = storeError("signup", err)
		s.log.Error().Err(err).Str("username", req.Username).Msg("signup failed")
		return nil, nil, err
	}

	s.log.Info().Int64("owner_id", user.ID).Str("username", user.Username).Msg("user registered")
	return user, account, nil
}

// NormalizeProfile trims the profile fields and checks that every one is
// present, the age is within 18..100 and the gender is a known value.
func NormalizeProfile(p model.Profile) (model.Profile, error) {
	p.FullName = strings.TrimSpace(p.FullName)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.FullName == "" || p.Gender == "" || p.Email == "" || p.Phone == "" {
		return p, ErrMissingFields
	}
	if p.Age < minAge || p.Age > maxAge {
		return p, ErrInvalidAge
	}
	if !model.ValidGender(p.Gender) {
		return p, ErrInvalidGender
	}
	return p, nil
}

// Login checks the password and returns a signed access token.
func (s *AuthService) Login(ctx context.Context, username, password string) (string, time.Time, *model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", time.Time{}, nil, ErrInvalidCredentials
		}
		return "", time.Time{}, nil, storeError("login", err)
	}

	ok, err := auth.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if !ok {
		return "", time.Time{}, nil, ErrInvalidCredentials
	}

	token, expires, err := s.tokens.Issue(auth.Principal{OwnerID: user.ID, Username: user.Username, Email: user.Email})
	if err != nil {
		return "", time.Time{}, nil, fmt.Errorf("issue token: %w", err)
	}
	return token, expires, user, nil
}
