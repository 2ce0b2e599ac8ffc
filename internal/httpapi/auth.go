package httpapi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"trumi/inventory/internal/domain"
)

const tokenIssuer = "trumi-inventory"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errInactiveAccount    = errors.New("account is inactive")
	errInvalidToken       = errors.New("invalid or expired token")
	errUserExists         = errors.New("username already exists")
)

// UserStore is where logins persist. The manager keeps a copy in memory and
// re-reads the store before every login so accounts created elsewhere (the
// CLI, another replica) become usable without a restart.
type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type account struct {
	hash      string
	role      string
	active    bool
	createdAt time.Time
}

type AuthManager struct {
	key   []byte
	ttl   time.Duration
	store UserStore

	mu       sync.RWMutex
	accounts map[string]account
}

type accessClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, ttl time.Duration, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	m := &AuthManager{
		key:      []byte(secret),
		ttl:      ttl,
		store:    users,
		accounts: map[string]account{},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.refresh(ctx)
	return m
}

func normalizeUsername(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (m *AuthManager) lookup(username string) (account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[username]
	return acc, ok
}

func (m *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	m.refresh(ctx)

	username := normalizeUsername(req.Username)
	acc, ok := m.lookup(username)
	if !ok || !passwordMatches(acc.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acc.active {
		return domain.LoginResponse{}, errInactiveAccount
	}

	expiresAt := time.Now().UTC().Add(m.ttl)
	token, err := m.issue(domain.Actor{Username: username, Role: acc.role}, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{AccessToken: token, Role: acc.role, ExpiresAt: expiresAt.Format(time.RFC3339)}, nil
}

// ParseToken accepts only HS256 tokens issued by this service.
func (m *AuthManager) ParseToken(raw string) (domain.Actor, error) {
	var claims accessClaims
	_, err := jwtlib.ParseWithClaims(raw, &claims, func(*jwtlib.Token) (any, error) {
		return m.key, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithIssuer(tokenIssuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return domain.Actor{}, errInvalidToken
	}
	if claims.Subject == "" {
		return domain.Actor{}, errInvalidToken
	}
	return domain.Actor{Username: claims.Subject, Role: claims.Role}, nil
}

func (m *AuthManager) issue(actor domain.Actor, expiresAt time.Time) (string, error) {
	now := time.Now().UTC()
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, accessClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   actor.Username,
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
		},
		Role: actor.Role,
	}).SignedString(m.key)
}

func checkNewUser(username string, req domain.UserCreateRequest) (string, error) {
	switch {
	case len(username) < 4:
		return "", fmt.Errorf("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return "", fmt.Errorf("username must not contain spaces")
	case len(req.Password) < 8:
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		return domain.RoleViewer, nil
	}
	if role != domain.RoleAdmin && role != domain.RoleViewer {
		return "", fmt.Errorf("role must be %s or %s", domain.RoleAdmin, domain.RoleViewer)
	}
	return role, nil
}

// CreateUser adds a login. Role defaults to viewer.
func (m *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	m.refresh(ctx)

	username := normalizeUsername(req.Username)
	role, err := checkNewUser(username, req)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if _, taken := m.lookup(username); taken {
		return domain.UserAccount{}, errUserExists
	}

	hash, err := bcryptHash(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.UserAccount{Username: username, Password: hash, Role: role, Active: true, CreatedAt: time.Now().UTC()}
	if m.store != nil {
		if err := m.store.CreateUser(ctx, user); err != nil {
			return domain.UserAccount{}, err
		}
	}

	m.mu.Lock()
	m.accounts[username] = account{hash: hash, role: role, active: true, createdAt: user.CreatedAt}
	m.mu.Unlock()

	user.Password = ""
	return user, nil
}

// ListUsers returns every known login sorted by username, without hashes.
func (m *AuthManager) ListUsers(ctx context.Context) []domain.UserAccount {
	m.refresh(ctx)

	m.mu.RLock()
	out := make([]domain.UserAccount, 0, len(m.accounts))
	for username, acc := range m.accounts {
		out = append(out, domain.UserAccount{Username: username, Role: acc.role, Active: acc.active, CreatedAt: acc.createdAt})
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return out
}

// refresh reloads accounts from the store. Passwords still stored in plain
// text are hashed and written back.
func (m *AuthManager) refresh(ctx context.Context) {
	if m.store == nil {
		return
	}
	users, err := m.store.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to load users")
		return
	}

	loaded := make(map[string]account, len(users))
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		loaded[username] = account{
			hash:      m.upgradeLegacyPassword(ctx, username, user.Password),
			role:      user.Role,
			active:    user.Active,
			createdAt: user.CreatedAt,
		}
	}

	m.mu.Lock()
	for username, acc := range loaded {
		m.accounts[username] = acc
	}
	m.mu.Unlock()
}

func (m *AuthManager) upgradeLegacyPassword(ctx context.Context, username string, stored string) string {
	if stored == "" || isBcrypt(stored) {
		return stored
	}
	hash, err := bcryptHash(stored)
	if err != nil {
		log.Warn().Err(err).Str("username", username).Msg("failed to hash plain-text password")
		return ""
	}
	if err := m.store.UpdateUserPassword(ctx, username, hash); err != nil {
		log.Warn().Err(err).Str("username", username).Msg("failed to upgrade plain-text password")
	}
	return hash
}

func passwordMatches(hash string, plain string) bool {
	if strings.TrimSpace(plain) == "" || !isBcrypt(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func bcryptHash(plain string) (string, error) {
	raw, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	return string(raw), err
}

func isBcrypt(value string) bool {
	_, err := bcrypt.Cost([]byte(value))
	return err == nil
}
