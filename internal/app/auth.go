package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"wolkeposter/pkg/auth"
	"wolkeposter/pkg/domain"
)

// Login validates credentials and returns the user with a fresh session
// token. Every failure mode returns the same ErrInvalidCredentials. The
// totpCode is accepted for API compatibility but not verified; no
// account in the system has a TOTP secret enrolled.
func (a *App) Login(username, password, totpCode string) (domain.User, string, error) {
	_ = totpCode
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return domain.User{}, "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByUsername(username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("create session: %w", err)
	}
	return user, token, nil
}

// Me resolves a session token to its user.
func (a *App) Me(token string) (domain.User, bool, error) {
	userID, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("lookup user: %w", err)
	}
	return user, ok, nil
}

// Logout invalidates the session token. Unknown tokens are a no-op.
func (a *App) Logout(token string) error {
	return a.sessions.DeleteSession(token)
}

// SeedAdmin creates the initial admin account when the user table is
// empty, so a fresh deployment is immediately usable.
func (a *App) SeedAdmin(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil
	}
	count, err := a.store.UserCount()
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if count > 0 {
		return nil
	}
	if err := auth.ValidatePassword(password); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash seed password: %w", err)
	}
	user := domain.User{
		ID:           newEntityID(),
		Username:     username,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("save seed admin: %w", err)
	}
	slog.Info("seeded initial admin user", "username", username)
	return nil
}
