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

	"coursecart/backend/internal/domain"
)

const tokenIssuer = "coursecart"

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errUnauthenticated    = errors.New("missing or invalid bearer token")
	errForbiddenRole      = errors.New("role not allowed for this operation")
	errInvalidManagerPIN  = errors.New("invalid manager pin")
)

// Role sets guarding the routes. Staff run baskets and orders; offers, vouchers,
// refunds and accounts are admin only.
var (
	staffRoles = []string{domain.RoleStaff, domain.RoleAdmin}
	adminRoles = []string{domain.RoleAdmin}
)

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// AuthManager issues staff tokens and guards refund decisions with the manager PIN.
// Accounts live in the user store and are cached here by username.
type AuthManager struct {
	mu         sync.RWMutex
	secret     []byte
	tokenTTL   time.Duration
	managerPIN string
	userStore  UserStore
	accounts   map[string]account
}

type account struct {
	hash string
	user domain.StaffUser
}

type staffClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, managerPIN string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	// An unset PIN stays empty and never validates.
	pinHash := ""
	if pin := strings.TrimSpace(managerPIN); pin != "" {
		if hashed, err := hashPassword(pin); err == nil {
			pinHash = hashed
		} else {
			log.Error().Err(err).Msg("hash manager pin")
		}
	}

	manager := &AuthManager{
		secret:     []byte(secret),
		tokenTTL:   tokenTTL,
		managerPIN: pinHash,
		userStore:  userStore,
		accounts:   make(map[string]account),
	}
	manager.loadUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	// Picks up accounts created by other replicas.
	a.loadUsers(ctx)
	username := normalizeUsername(req.Username)
	acct, ok := a.lookup(username)
	if !ok || !verifyPassword(acct.hash, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !acct.user.Active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, acct.user.Role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		Role:        acct.user.Role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Authorize resolves the actor behind an Authorization header and checks it holds
// one of roles. An empty roles list admits any signed in actor.
func (a *AuthManager) Authorize(header string, roles ...string) (domain.Actor, error) {
	token, ok := bearerToken(header)
	if !ok {
		return domain.Actor{}, errUnauthenticated
	}
	actor, err := a.ParseToken(token)
	if err != nil {
		return domain.Actor{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s", errForbiddenRole, actor.Role)
	}
	return actor, nil
}

// AuthorizeRefundDecision lets an admin approve or deny a refund once the manager
// PIN checks out.
func (a *AuthManager) AuthorizeRefundDecision(actor domain.Actor, pin string) error {
	if !slices.Contains(adminRoles, actor.Role) {
		return fmt.Errorf("%w: %s", errForbiddenRole, actor.Role)
	}
	if !a.ValidateManagerPIN(pin) {
		return errInvalidManagerPIN
	}
	return nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &staffClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (any, error) {
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}), jwtlib.WithIssuer(tokenIssuer))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username string, role string, expiresAt time.Time) (string, error) {
	claims := staffClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    tokenIssuer,
		},
		Role: role,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *AuthManager) ValidateManagerPIN(pin string) bool {
	return verifyPassword(a.managerPIN, strings.TrimSpace(pin))
}

// CreateStaff opens a staff account. Admins are provisioned out of band.
func (a *AuthManager) CreateStaff(ctx context.Context, req domain.StaffCreateRequest) (domain.StaffUser, error) {
	a.loadUsers(ctx)
	username := normalizeUsername(req.Username)
	switch {
	case len(username) < 4:
		return domain.StaffUser{}, fmt.Errorf("username must be at least 4 characters")
	case strings.ContainsAny(username, " \t\r\n"):
		return domain.StaffUser{}, fmt.Errorf("username must not contain spaces")
	case len(strings.TrimSpace(req.Password)) < 8:
		return domain.StaffUser{}, fmt.Errorf("password must be at least 8 characters")
	}
	if _, exists := a.lookup(username); exists {
		return domain.StaffUser{}, fmt.Errorf("username already exists")
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.StaffUser{}, fmt.Errorf("failed to hash password")
	}
	user := domain.StaffUser{Username: username, Role: domain.RoleStaff, Active: true, CreatedAt: time.Now().UTC()}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  user.Username,
			Password:  hash,
			Role:      user.Role,
			Active:    user.Active,
			CreatedAt: user.CreatedAt,
		}); err != nil {
			return domain.StaffUser{}, err
		}
	}

	a.mu.Lock()
	a.accounts[username] = account{hash: hash, user: user}
	a.mu.Unlock()
	return user, nil
}

func (a *AuthManager) ListStaff(ctx context.Context) []domain.StaffUser {
	a.loadUsers(ctx)
	a.mu.RLock()
	result := make([]domain.StaffUser, 0, len(a.accounts))
	for _, acct := range a.accounts {
		result = append(result, acct.user)
	}
	a.mu.RUnlock()
	slices.SortFunc(result, func(x, y domain.StaffUser) int {
		return strings.Compare(x.Username, y.Username)
	})
	return result
}

func (a *AuthManager) lookup(username string) (account, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	acct, ok := a.accounts[username]
	return acct, ok
}

// loadUsers refreshes the account cache from the user store. Seeded accounts may
// still carry a plain password; those are hashed and written back.
func (a *AuthManager) loadUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}
	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "auth").Msg("load users")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, user := range users {
		username := normalizeUsername(user.Username)
		if username == "" {
			continue
		}
		hash := user.Password
		if !isPasswordHash(hash) {
			upgraded, err := hashPassword(hash)
			if err != nil {
				continue
			}
			hash = upgraded
			if err := a.userStore.UpdateUserPassword(ctx, username, hash); err != nil {
				log.Warn().Err(err).Str("username", username).Msg("rehash stored password")
			}
		}
		a.accounts[username] = account{
			hash: hash,
			user: domain.StaffUser{Username: username, Role: user.Role, Active: user.Active, CreatedAt: user.CreatedAt},
		}
	}
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func verifyPassword(hash string, input string) bool {
	if !isPasswordHash(hash) || strings.TrimSpace(input) == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
