// Package users provides operator accounts and bearer-token auth for the
// dashboard-facing API surface.
package users

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

// User is an operator account
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`

	passwordHash string
}

// Service manages accounts and issues HS256 bearer tokens signed with the
// Core master secret.
type Service struct {
	db     *sql.DB
	secret []byte
	expiry time.Duration
	log    zerolog.Logger
}

// NewService creates the user service
func NewService(db *sql.DB, masterSecret string, expiry time.Duration, log zerolog.Logger) *Service {
	if expiry <= 0 {
		expiry = 30 * time.Minute
	}
	return &Service{
		db:     db,
		secret: []byte(masterSecret),
		expiry: expiry,
		log:    log.With().Str("service", "users").Logger(),
	}
}

// Create registers an operator account
func (s *Service) Create(username, password string) (*User, error) {
	if username == "" || len(password) < 8 {
		return nil, fmt.Errorf("username required and password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		ID:        uuid.NewString(),
		Username:  username,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.Exec(`
		INSERT INTO users (id, username, password_hash, is_active, created_at)
		VALUES (?, ?, ?, 1, ?)
	`, u.ID, u.Username, string(hash), u.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("insert user %s: %w", username, err)
	}
	s.log.Info().Str("username", username).Msg("Operator account created")
	return u, nil
}

// GetByUsername returns a user, or nil
func (s *Service) GetByUsername(username string) (*User, error) {
	row := s.db.QueryRow(`SELECT id, username, password_hash, is_active, created_at FROM users WHERE username = ?`, username)
	var (
		u       User
		active  int
		created int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.passwordHash, &active, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", username, err)
	}
	u.IsActive = active == 1
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// IssueToken authenticates the credentials and returns a signed bearer token
func (s *Service) IssueToken(username, password string) (string, error) {
	u, err := s.GetByUsername(username)
	if err != nil {
		return "", err
	}
	if u == nil || !u.IsActive {
		return "", fmt.Errorf("invalid credentials")
	}
	if bcrypt.CompareHashAndPassword([]byte(u.passwordHash), []byte(password)) != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	claims := jwt.MapClaims{
		"sub": u.Username,
		"exp": time.Now().Add(s.expiry).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates a bearer token and returns the account it names
func (s *Service) VerifyToken(tokenString string) (*User, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	username, _ := claims["sub"].(string)
	if username == "" {
		return nil, fmt.Errorf("token missing subject")
	}

	u, err := s.GetByUsername(username)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, fmt.Errorf("unknown or inactive user")
	}
	return u, nil
}
