package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"navsphere/api/internal/auth"
	"navsphere/api/internal/blob"
	"navsphere/api/internal/config"
	"navsphere/api/internal/engine"
	"navsphere/api/internal/navigation"
	"navsphere/api/internal/rbac"
	"navsphere/api/internal/session"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// userNamespace derives stable user ids from display names.
var userNamespace = uuid.MustParse("6f1c2a4e-9b7d-4f0a-8e35-2d1b7c9a0e41")

type Session struct {
	Token      string
	UserID     string
	UserName   string
	Role       string
	JTI        string
	StoreToken string
	ExpiresAt  time.Time
}

// MutationResult is what a navigation edit reports back. Changed is false
// for a no-op, in which case nothing was written and Version is unchanged.
type MutationResult struct {
	Changed bool
	Version string
	Message string
}

type AddCategoryInput struct {
	Category navigation.Category
	Position int
}

type sessionStore interface {
	Save(context.Context, string, session.Record, time.Time) error
	Lookup(context.Context, string) (session.Record, error)
	Revoke(context.Context, string) error
	Ping(context.Context) error
}

type navigationEngine interface {
	Read(context.Context, string) (navigation.Document, string, error)
	Apply(context.Context, string, engine.Actor, engine.Mutation) (engine.Outcome, error)
}

// CredentialVerifier checks an access token presented at login. It returns
// the token commits should be made with, which may be empty when the store
// needs no per-user credential.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, token string) (string, error)
}

type Service struct {
	cfg      config.Config
	engine   navigationEngine
	resolver *navigation.Resolver
	sessions sessionStore
	verifier CredentialVerifier
	logger   log.FieldLogger
}

func New(cfg config.Config, eng *engine.Engine, resolver *navigation.Resolver, sessions *session.RedisStore, verifier CredentialVerifier) *Service {
	return &Service{
		cfg:      cfg,
		engine:   eng,
		resolver: resolver,
		sessions: sessions,
		verifier: verifier,
		logger:   log.WithField("component", "app"),
	}
}

// Login starts a session. Without an access token the session is read-only.
// A token is verified before the session is granted write access; a rejected
// token fails the login instead of falling back to a viewer.
func (s *Service) Login(ctx context.Context, name, accessToken string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}
	accessToken = strings.TrimSpace(accessToken)

	role := rbac.RoleViewer
	storeToken := ""
	if accessToken != "" {
		verified, err := s.verifyCredential(ctx, accessToken)
		if err != nil {
			return Session{}, err
		}
		role = rbac.RoleEditor
		storeToken = verified
	}

	userID := uuid.NewSHA1(userNamespace, []byte(strings.ToLower(userName))).String()
	jti := uuid.NewString()
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), userID, userName, string(role), jti, s.cfg.AccessTTL())
	if err != nil {
		return Session{}, err
	}

	record := session.Record{
		UserID:      userID,
		DisplayName: userName,
		Role:        string(role),
		StoreToken:  storeToken,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.sessions.Save(ctx, jti, record, expiresAt); err != nil {
		return Session{}, err
	}

	s.logger.WithFields(log.Fields{"user_id": userID, "role": role}).Info("session issued")
	return Session{
		Token:      token,
		UserID:     userID,
		UserName:   userName,
		Role:       string(role),
		JTI:        jti,
		StoreToken: storeToken,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *Service) verifyCredential(ctx context.Context, accessToken string) (string, error) {
	if s.verifier == nil {
		return "", invalidCredential()
	}
	storeToken, err := s.verifier.VerifyCredential(ctx, accessToken)
	switch {
	case err == nil:
		return storeToken, nil
	case errors.Is(err, blob.ErrUnauthorized), errors.Is(err, auth.ErrInvalidCredential):
		s.logger.WithError(err).Warn("access token rejected")
		return "", invalidCredential()
	default:
		return "", fmt.Errorf("verify access token: %w", err)
	}
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	record, err := s.sessions.Lookup(ctx, claims.ID)
	if errors.Is(err, session.ErrNotFound) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, err
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return Session{
		Token:      token,
		UserID:     record.UserID,
		UserName:   record.DisplayName,
		Role:       record.Role,
		JTI:        claims.ID,
		StoreToken: record.StoreToken,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.sessions.Revoke(ctx, session.JTI)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// GetResolvedNavigation returns the document with icon paths rewritten to
// absolute URLs for display. The stored document is left untouched.
func (s *Service) GetResolvedNavigation(ctx context.Context) (navigation.Document, error) {
	doc, _, err := s.engine.Read(ctx, s.cfg.NavigationPath)
	if err != nil {
		return navigation.Document{}, err
	}
	return s.resolver.ResolveDocument(doc), nil
}

// GetNavigation returns the stored document as-is together with its version.
func (s *Service) GetNavigation(ctx context.Context, session Session) (navigation.Document, string, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return navigation.Document{}, "", forbidden()
	}
	return s.engine.Read(ctx, s.cfg.NavigationPath)
}

func (s *Service) MoveCategoryToBottom(ctx context.Context, id string, session Session) (MutationResult, error) {
	return s.mutate(ctx, session, func(doc navigation.Document) (navigation.Change, error) {
		return navigation.MoveToBottom(doc, id)
	})
}

func (s *Service) MoveCategoryToTop(ctx context.Context, id string, session Session) (MutationResult, error) {
	return s.mutate(ctx, session, func(doc navigation.Document) (navigation.Change, error) {
		return navigation.MoveToTop(doc, id)
	})
}

func (s *Service) MoveCategory(ctx context.Context, id string, position int, session Session) (MutationResult, error) {
	return s.mutate(ctx, session, func(doc navigation.Document) (navigation.Change, error) {
		return navigation.Move(doc, id, position)
	})
}

func (s *Service) AddCategory(ctx context.Context, input AddCategoryInput, session Session) (MutationResult, error) {
	return s.mutate(ctx, session, func(doc navigation.Document) (navigation.Change, error) {
		return navigation.Insert(doc, input.Category, input.Position)
	})
}

func (s *Service) RemoveCategory(ctx context.Context, id string, session Session) (MutationResult, error) {
	return s.mutate(ctx, session, func(doc navigation.Document) (navigation.Change, error) {
		return navigation.Remove(doc, id)
	})
}

// Ready reports whether the session store and the navigation document can
// be reached, keyed by dependency.
func (s *Service) Ready(ctx context.Context) map[string]error {
	checks := map[string]error{
		"sessions": s.sessions.Ping(ctx),
	}
	_, _, err := s.engine.Read(ctx, s.cfg.NavigationPath)
	checks["navigation"] = err
	return checks
}

func (s *Service) mutate(ctx context.Context, session Session, mutation engine.Mutation) (MutationResult, error) {
	// Without a credential the engine itself rejects the call before any
	// store access, so only authenticated callers are role-checked here.
	if session.Token != "" && !s.Can(session.Role, rbac.ActionWrite) {
		return MutationResult{}, forbidden()
	}

	outcome, err := s.engine.Apply(ctx, s.cfg.NavigationPath, engine.Actor{
		ID:         session.UserID,
		Name:       session.UserName,
		Credential: session.Token,
		StoreToken: session.StoreToken,
	}, mutation)
	if err != nil {
		return MutationResult{}, err
	}
	return MutationResult{
		Changed: outcome.Changed,
		Version: outcome.Version,
		Message: outcome.Summary,
	}, nil
}
