// Package auth decides who may read which packages.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/gate"
	"github.com/ippclub/dora-registry/internal/model"
	"github.com/ippclub/dora-registry/internal/store"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthorized is returned when credentials are missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when a known user lacks access.
	ErrForbidden = errors.New("forbidden")
)

// Access groups understood in package rules.
const (
	GroupAll           = "$all"
	GroupAnonymous     = "$anonymous"
	GroupAuthenticated = "$authenticated"
)

// Auth checks credentials and package access.
type Auth struct {
	users  map[string][]byte
	rules  []config.PackageRule
	logger *zap.Logger
}

// New creates an Auth from the auth section of the configuration.
func New(cfg config.Auth, logger *zap.Logger) *Auth {
	users := make(map[string][]byte, len(cfg.Users))
	for name, hash := range cfg.Users {
		users[name] = []byte(hash)
	}
	return &Auth{
		users:  users,
		rules:  cfg.Packages,
		logger: logger,
	}
}

// Authenticate verifies a password against the user's bcrypt hash.
func (a *Auth) Authenticate(name, password string) (model.RemoteUser, error) {
	hash, ok := a.users[name]
	if !ok {
		return model.Anonymous, ErrUnauthorized
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return model.Anonymous, ErrUnauthorized
	}
	return model.RemoteUser{Name: name}, nil
}

// Allow reports whether user may read pkg. Anonymous users are told to
// authenticate; known users are refused.
func (a *Auth) Allow(user model.RemoteUser, pkg string) error {
	rule, ok := a.ruleFor(pkg)
	if ok && granted(rule.Access, user) {
		return nil
	}
	if !user.Authenticated() {
		return fmt.Errorf("%w: authorization required to access package %s", ErrUnauthorized, pkg)
	}
	return fmt.Errorf("%w: user %s is not allowed to access package %s", ErrForbidden, user.Name, pkg)
}

// ProcessStream checks access to the package and opens the tarball.
func (a *Auth) ProcessStream(ctx context.Context, name, filename string, user model.RemoteUser, raw *store.Tarball) (gate.Stream, error) {
	if err := a.Allow(user, name); err != nil {
		return nil, err
	}
	r, err := raw.Open()
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *Auth) ruleFor(pkg string) (config.PackageRule, bool) {
	for _, rule := range a.rules {
		if matchPattern(rule.Pattern, pkg) {
			return rule, true
		}
	}
	return config.PackageRule{}, false
}

func granted(access []string, user model.RemoteUser) bool {
	for _, entry := range access {
		switch entry {
		case GroupAll:
			return true
		case GroupAnonymous:
			if !user.Authenticated() {
				return true
			}
		case GroupAuthenticated:
			if user.Authenticated() {
				return true
			}
		default:
			if user.Authenticated() && entry == user.Name {
				return true
			}
		}
	}
	return false
}

// matchPattern matches a package name against a rule pattern.
// Supports: exact match, "**" (any), "@*/*" (scoped packages), "@scope/*" and "prefix*".
func matchPattern(pattern, name string) bool {
	if pattern == name || pattern == "**" {
		return true
	}

	if pattern == "@*/*" {
		return strings.HasPrefix(name, "@") && strings.Contains(name, "/")
	}

	if strings.HasPrefix(pattern, "@") && strings.HasSuffix(pattern, "/*") {
		scope := strings.TrimSuffix(pattern, "/*")
		return strings.HasPrefix(name, scope+"/")
	}

	if strings.HasSuffix(pattern, "*") && !strings.Contains(pattern, "/") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}

	return false
}

type userKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user model.RemoteUser) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the request's user, anonymous if none was set.
func UserFromContext(ctx context.Context) model.RemoteUser {
	if u, ok := ctx.Value(userKey{}).(model.RemoteUser); ok {
		return u
	}
	return model.Anonymous
}

// Middleware resolves HTTP Basic credentials into the request's remote user.
// Requests without credentials continue as anonymous; bad credentials are rejected.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name, password, ok := r.BasicAuth()
		if !ok {
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), model.Anonymous)))
			return
		}

		user, err := a.Authenticate(name, password)
		if err != nil {
			a.logger.Info("rejected credentials", zap.String("user", name))
			w.Header().Set("WWW-Authenticate", `Basic realm="registry"`)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": ErrUnauthorized.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}
