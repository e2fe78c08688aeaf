package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/cyhinverse/YiBu-sub004/internal/accounts"
	"github.com/cyhinverse/YiBu-sub004/internal/audit"
	"github.com/cyhinverse/YiBu-sub004/internal/config"
	"github.com/cyhinverse/YiBu-sub004/internal/models"
	"github.com/cyhinverse/YiBu-sub004/internal/sessions"
	"github.com/cyhinverse/YiBu-sub004/internal/tokens"
	"github.com/cyhinverse/YiBu-sub004/pkg/logger"
)

const banDateFormat = "Jan 2, 2006 15:04 MST"

// Service is the session authority: it turns credentials into token pairs,
// rotates refresh tokens with a bounded history, revokes sessions and owns
// the account-credential mutations.
type Service struct {
	cfg      *config.Config
	accounts accounts.Repository
	records  sessions.Repository
	audit    *audit.Logger
}

func NewService(cfg *config.Config, ar accounts.Repository, sr sessions.Repository, al *audit.Logger) *Service {
	return &Service{cfg: cfg, accounts: ar, records: sr, audit: al}
}

// Register creates an account with a hashed password. When username is empty
// one is derived from the email local-part plus a numeric suffix,
// re-randomizing once if the derived name collides. Registration never logs
// the caller in.
func (s *Service) Register(ctx context.Context, name, email, password, username string) (*models.Account, error) {
	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateEmail
	}

	if username == "" {
		username, err = s.pickUsername(ctx, email)
		if err != nil {
			return nil, err
		}
	} else {
		taken, err := s.accounts.UsernameExists(ctx, username)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, ErrUsernameInUse
		}
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	a := &models.Account{
		Name:         name,
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleUser,
	}
	created, err := s.accounts.Create(ctx, a)
	if err != nil {
		if err == accounts.ErrDuplicateKey {
			// a concurrent insert won the unique index; report which field
			taken, terr := s.accounts.EmailTaken(ctx, email, "")
			if terr == nil && !taken {
				return nil, ErrUsernameInUse
			}
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	s.audit.Record(ctx, created.ID.Hex(), "register", "account created as "+created.Username)
	return created, nil
}

func (s *Service) pickUsername(ctx context.Context, email string) (string, error) {
	candidate := deriveUsername(email)
	taken, err := s.accounts.UsernameExists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if !taken {
		return candidate, nil
	}
	// one retry with a fresh suffix covers the first collision
	candidate = deriveUsername(email)
	taken, err = s.accounts.UsernameExists(ctx, candidate)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrUsernameInUse
	}
	return candidate, nil
}

// Login verifies credentials and moderation state, then issues a fresh
// access/refresh pair and resets the account's token record to a one-element
// sequence. Unknown email and wrong password surface the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Account, string, string, error) {
	a, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, "", "", err
	}
	if a == nil {
		logger.Warnf("login failed: no account for email %s", email)
		return nil, "", "", ErrInvalidCredentials
	}

	if a.Moderation.IsBanned {
		return nil, "", "", bannedError(banMessage(a.Moderation))
	}

	if err := CheckPassword(a.PasswordHash, password); err != nil {
		logger.Warnf("login failed: wrong password for account %s", a.ID.Hex())
		return nil, "", "", ErrInvalidCredentials
	}

	payload := tokens.NewClaims(a)
	access, err := tokens.GenerateAccessToken(s.cfg, payload)
	if err != nil {
		return nil, "", "", err
	}
	refresh, err := tokens.GenerateRefreshToken(s.cfg, payload)
	if err != nil {
		return nil, "", "", err
	}
	if err := s.records.Replace(ctx, a.ID.Hex(), refresh); err != nil {
		return nil, "", "", err
	}
	s.audit.Record(ctx, a.ID.Hex(), "login", "")
	return a, access, refresh, nil
}

// banMessage templates the user-facing ban text: a future expiration yields a
// temporary-ban message carrying the date, anything else reads as permanent.
func banMessage(m models.Moderation) string {
	if m.BanExpiration != nil && m.BanExpiration.After(time.Now()) {
		msg := fmt.Sprintf("your account is banned until %s", m.BanExpiration.UTC().Format(banDateFormat))
		if m.BanReason != "" {
			msg += ". Reason: " + m.BanReason
		}
		return msg
	}
	msg := "your account is permanently banned"
	if m.BanReason != "" {
		msg += ". Reason: " + m.BanReason
	}
	return msg
}

// Refresh rotates the token pair for an account: the last stored refresh
// token is decoded against the refresh secret and a new pair is minted from
// the decoded payload verbatim. The new refresh token is appended to the
// record with FIFO eviction at the history cap.
func (s *Service) Refresh(ctx context.Context, accountID string) (string, string, error) {
	rec, err := s.records.Get(ctx, accountID)
	if err != nil {
		return "", "", err
	}
	if rec == nil || len(rec.Tokens) == 0 {
		return "", "", ErrRefreshTokenNotFound
	}

	claims, err := tokens.ParseRefreshToken(s.cfg, rec.Last())
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidRefreshToken, err)
	}

	payload := &tokens.Claims{ID: claims.ID, Role: claims.Role, IsAdmin: claims.IsAdmin}
	access, err := tokens.GenerateAccessToken(s.cfg, payload)
	if err != nil {
		return "", "", err
	}
	refresh, err := tokens.GenerateRefreshToken(s.cfg, payload)
	if err != nil {
		return "", "", err
	}
	if err := s.records.Append(ctx, accountID, refresh, models.TokenHistoryCap); err != nil {
		return "", "", err
	}
	return access, refresh, nil
}

// Logout revokes every refresh token for the account. A missing record is
// not an error.
func (s *Service) Logout(ctx context.Context, accountID string) error {
	if err := s.records.DeleteAll(ctx, accountID); err != nil {
		return err
	}
	s.audit.Record(ctx, accountID, "logout", "")
	return nil
}

// UpdateEmail overwrites the account's email unless another account holds it.
func (s *Service) UpdateEmail(ctx context.Context, accountID, newEmail string) error {
	taken, err := s.accounts.EmailTaken(ctx, newEmail, accountID)
	if err != nil {
		return err
	}
	if taken {
		return ErrEmailInUse
	}
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrAccountNotFound
	}
	return s.accounts.UpdateEmail(ctx, accountID, newEmail)
}

// UpdatePassword verifies the current password before storing a new hash.
func (s *Service) UpdatePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrAccountNotFound
	}
	if err := CheckPassword(a.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCurrentPassword
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.accounts.UpdatePassword(ctx, accountID, hash)
}

// DeleteAccount verifies the password, then removes every refresh token
// record before the account itself. If the second step fails the leftover is
// an account with no sessions, never a deleted account with live sessions.
func (s *Service) DeleteAccount(ctx context.Context, accountID, password string) error {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if a == nil {
		return ErrAccountNotFound
	}
	if err := CheckPassword(a.PasswordHash, password); err != nil {
		return ErrInvalidPassword
	}
	if err := s.records.DeleteAll(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.Delete(ctx, accountID); err != nil {
		return err
	}
	s.audit.Record(ctx, accountID, "delete-account", "")
	return nil
}

// ConnectSocial appends a social provider to the account's connected list.
func (s *Service) ConnectSocial(ctx context.Context, accountID, provider string) (*models.Account, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	if a.HasProvider(provider) {
		return nil, ErrProviderAlreadyConnected
	}
	if err := s.accounts.AddProvider(ctx, accountID, provider); err != nil {
		return nil, err
	}
	a.Providers = append(a.Providers, provider)
	return a, nil
}

// RequestVerification flags the account as awaiting verification. Sending the
// verification email is an external collaborator's job.
func (s *Service) RequestVerification(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrAccountNotFound
	}
	if a.Verification.IsVerified {
		return nil, ErrAlreadyVerified
	}
	now := time.Now().UTC()
	if err := s.accounts.SetVerificationRequested(ctx, accountID, now); err != nil {
		return nil, err
	}
	a.Verification.VerificationRequested = true
	a.Verification.VerificationRequestDate = &now
	return a, nil
}
