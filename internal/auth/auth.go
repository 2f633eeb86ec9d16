package auth

import (
	"errors"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Options configures the authenticator
type Options struct {
	Enabled   bool
	Username  string
	Password  string // Plaintext or a bcrypt hash
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator handles user authentication
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates an authenticator. Enabling it without a password
// is an error, since nobody could ever log in.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	username := opts.Username
	if username == "" {
		username = "admin"
	}

	var passwordHash []byte
	if opts.Enabled {
		switch {
		case opts.Password == "":
			return nil, errors.New("auth enabled but no password configured")
		case len(opts.Password) == 60 && opts.Password[0] == '$':
			// Already a bcrypt hash
			passwordHash = []byte(opts.Password)
		default:
			hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
			if err != nil {
				return nil, err
			}
			passwordHash = hash
		}
		log.Printf("[Auth] Enabled for user %q", username)
	}

	return &Authenticator{
		enabled:      opts.Enabled,
		username:     username,
		passwordHash: passwordHash,
		jwtManager:   NewJWTManager(opts.JWTSecret, opts.JWTExpiry),
	}, nil
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, err
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// JWTManager returns the JWT manager
func (a *Authenticator) JWTManager() *JWTManager {
	return a.jwtManager
}

// HashPassword creates a bcrypt hash of a password (utility function)
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
