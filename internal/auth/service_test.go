package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/cyhinverse/YiBu-sub004/internal/accounts"
	"github.com/cyhinverse/YiBu-sub004/internal/config"
	"github.com/cyhinverse/YiBu-sub004/internal/models"
	"github.com/cyhinverse/YiBu-sub004/internal/tokens"
)

// fake account repo
type fakeAccounts struct {
	store map[string]*models.Account // keyed by hex id
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{store: map[string]*models.Account{}}
}

func (f *fakeAccounts) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	for _, e := range f.store {
		if e.Email == a.Email || e.Username == a.Username {
			return nil, accounts.ErrDuplicateKey
		}
	}
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	cp := *a
	f.store[a.ID.Hex()] = &cp
	return a, nil
}

func (f *fakeAccounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	for _, a := range f.store {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeAccounts) GetByID(ctx context.Context, id string) (*models.Account, error) {
	a, ok := f.store[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (f *fakeAccounts) UsernameExists(ctx context.Context, username string) (bool, error) {
	for _, a := range f.store {
		if a.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) EmailTaken(ctx context.Context, email, excludeID string) (bool, error) {
	for id, a := range f.store {
		if a.Email == email && id != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAccounts) UpdateEmail(ctx context.Context, id, email string) error {
	if a, ok := f.store[id]; ok {
		a.Email = email
	}
	return nil
}

func (f *fakeAccounts) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if a, ok := f.store[id]; ok {
		a.PasswordHash = passwordHash
	}
	return nil
}

func (f *fakeAccounts) AddProvider(ctx context.Context, id, provider string) error {
	if a, ok := f.store[id]; ok {
		a.Providers = append(a.Providers, provider)
	}
	return nil
}

func (f *fakeAccounts) SetVerificationRequested(ctx context.Context, id string, at time.Time) error {
	if a, ok := f.store[id]; ok {
		a.Verification.VerificationRequested = true
		a.Verification.VerificationRequestDate = &at
	}
	return nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id string) error {
	delete(f.store, id)
	return nil
}

// fake token record repo
type fakeRecords struct {
	store map[string][]string
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{store: map[string][]string{}}
}

func (f *fakeRecords) Replace(ctx context.Context, userID, token string) error {
	f.store[userID] = []string{token}
	return nil
}

func (f *fakeRecords) Get(ctx context.Context, userID string) (*models.RefreshTokenRecord, error) {
	toks, ok := f.store[userID]
	if !ok {
		return nil, nil
	}
	return &models.RefreshTokenRecord{UserID: userID, Tokens: append([]string(nil), toks...)}, nil
}

func (f *fakeRecords) Append(ctx context.Context, userID, token string, cap int) error {
	toks := append(f.store[userID], token)
	if len(toks) > cap {
		toks = toks[len(toks)-cap:]
	}
	f.store[userID] = toks
	return nil
}

func (f *fakeRecords) DeleteAll(ctx context.Context, userID string) error {
	delete(f.store, userID)
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.JWT.Secret = "access-secret-32-bytes-xxxxxxxxxx"
	cfg.JWT.RefreshSecret = "refresh-secret-32-bytes-xxxxxxxx"
	cfg.JWT.AccessTokenTTL = time.Hour
	cfg.JWT.RefreshTokenTTL = 15 * 24 * time.Hour
	return cfg
}

func newTestService() (*Service, *fakeAccounts, *fakeRecords) {
	ar := newFakeAccounts()
	rr := newFakeRecords()
	return NewService(testConfig(), ar, rr, nil), ar, rr
}

func seedAccount(t *testing.T, ar *fakeAccounts, email, password string, mutate func(*models.Account)) *models.Account {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("hash failed: %v", err)
	}
	a := &models.Account{
		Name:         "Test",
		Email:        email,
		Username:     strings.Split(email, "@")[0],
		PasswordHash: hash,
		Role:         models.RoleUser,
	}
	if mutate != nil {
		mutate(a)
	}
	created, err := ar.Create(context.Background(), a)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return created
}

func TestLoginIssuesTokenWithPayload(t *testing.T) {
	svc, ar, rr := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "alice@example.com", "secret1", nil)

	got, access, refresh, err := svc.Login(ctx, "alice@example.com", "secret1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got.Email != "alice@example.com" {
		t.Fatalf("unexpected account: %v", got)
	}
	claims, err := tokens.ParseAccessToken(testConfig(), access)
	if err != nil {
		t.Fatalf("access token parse failed: %v", err)
	}
	if claims.ID != acct.ID.Hex() || claims.Role != "user" || claims.IsAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if refresh == "" {
		t.Fatalf("expected refresh token")
	}
	// login resets the record to a one-element sequence
	if toks := rr.store[acct.ID.Hex()]; len(toks) != 1 || toks[0] != refresh {
		t.Fatalf("unexpected record: %v", toks)
	}
}

func TestLoginAdminDerivation(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()

	// admin via role
	seedAccount(t, ar, "root@example.com", "pw1234", func(a *models.Account) {
		a.Username = "root"
		a.Role = models.RoleAdmin
	})
	// admin via flag only
	seedAccount(t, ar, "flag@example.com", "pw1234", func(a *models.Account) {
		a.Username = "flag"
		a.IsAdmin = true
	})

	_, access, _, err := svc.Login(ctx, "root@example.com", "pw1234")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims, _ := tokens.ParseAccessToken(testConfig(), access)
	if !claims.IsAdmin || claims.Role != "admin" {
		t.Fatalf("expected admin claims, got %+v", claims)
	}

	_, access2, _, err := svc.Login(ctx, "flag@example.com", "pw1234")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	claims2, _ := tokens.ParseAccessToken(testConfig(), access2)
	if !claims2.IsAdmin || claims2.Role != "user" {
		t.Fatalf("expected isAdmin with user role, got %+v", claims2)
	}
}

func TestLoginUnknownEmailAndWrongPasswordIndistinguishable(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	seedAccount(t, ar, "bob@example.com", "right-pw", nil)

	_, _, _, errUnknown := svc.Login(ctx, "nobody@example.com", "whatever")
	_, _, _, errWrong := svc.Login(ctx, "bob@example.com", "wrong-pw")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected InvalidCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("error messages differ: %q vs %q", errUnknown.Error(), errWrong.Error())
	}
}

func TestLoginBannedTemporaryMentionsExpiry(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	exp := time.Now().Add(48 * time.Hour).UTC()
	seedAccount(t, ar, "temp@example.com", "pw1234", func(a *models.Account) {
		a.Moderation = models.Moderation{IsBanned: true, BanReason: "spam", BanExpiration: &exp}
	})

	_, _, _, err := svc.Login(ctx, "temp@example.com", "pw1234")
	if !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("expected AccountBanned, got %v", err)
	}
	want := exp.Format(banDateFormat)
	if !strings.Contains(err.Error(), want) {
		t.Fatalf("temporary ban message should contain %q, got %q", want, err.Error())
	}
	if !strings.Contains(err.Error(), "spam") {
		t.Fatalf("ban message should carry the reason: %q", err.Error())
	}
}

func TestLoginBannedPermanentNoDate(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()

	past := time.Now().Add(-time.Hour).UTC()
	seedAccount(t, ar, "past@example.com", "pw1234", func(a *models.Account) {
		a.Username = "past"
		a.Moderation = models.Moderation{IsBanned: true, BanExpiration: &past}
	})
	seedAccount(t, ar, "perm@example.com", "pw1234", func(a *models.Account) {
		a.Username = "perm"
		a.Moderation = models.Moderation{IsBanned: true}
	})

	for _, email := range []string{"past@example.com", "perm@example.com"} {
		_, _, _, err := svc.Login(ctx, email, "pw1234")
		if !errors.Is(err, ErrAccountBanned) {
			t.Fatalf("expected AccountBanned for %s, got %v", email, err)
		}
		if !strings.Contains(err.Error(), "permanently") {
			t.Fatalf("expected permanent ban message for %s, got %q", email, err.Error())
		}
		if strings.Contains(err.Error(), fmt.Sprint(time.Now().Year())) {
			t.Fatalf("permanent ban message must not mention a date: %q", err.Error())
		}
	}
}

func TestRefreshRotationCapsHistory(t *testing.T) {
	svc, ar, rr := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "carol@example.com", "pw1234", nil)

	_, _, firstRefresh, err := svc.Login(ctx, "carol@example.com", "pw1234")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	original, err := tokens.ParseRefreshToken(testConfig(), firstRefresh)
	if err != nil {
		t.Fatalf("refresh parse failed: %v", err)
	}

	const n = 7
	for i := 0; i < n; i++ {
		if _, _, err := svc.Refresh(ctx, acct.ID.Hex()); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}

	toks := rr.store[acct.ID.Hex()]
	if len(toks) != models.TokenHistoryCap {
		t.Fatalf("expected sequence capped at %d, got %d", models.TokenHistoryCap, len(toks))
	}
	last, err := tokens.ParseRefreshToken(testConfig(), toks[len(toks)-1])
	if err != nil {
		t.Fatalf("last token parse failed: %v", err)
	}
	if last.ID != original.ID || last.Role != original.Role || last.IsAdmin != original.IsAdmin {
		t.Fatalf("payload drifted across refreshes: %+v vs %+v", last, original)
	}
}

func TestRefreshShortHistoryLength(t *testing.T) {
	svc, ar, rr := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "dave@example.com", "pw1234", nil)

	if _, _, _, err := svc.Login(ctx, "dave@example.com", "pw1234"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, _, err := svc.Refresh(ctx, acct.ID.Hex()); err != nil {
			t.Fatalf("refresh failed: %v", err)
		}
	}
	if got := len(rr.store[acct.ID.Hex()]); got != 3 {
		t.Fatalf("expected 3 stored tokens, got %d", got)
	}
}

func TestRefreshAfterLogoutFails(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "erin@example.com", "pw1234", nil)

	if _, _, _, err := svc.Login(ctx, "erin@example.com", "pw1234"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := svc.Logout(ctx, acct.ID.Hex()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	_, _, err := svc.Refresh(ctx, acct.ID.Hex())
	if !errors.Is(err, ErrRefreshTokenNotFound) {
		t.Fatalf("expected RefreshTokenNotFound, got %v", err)
	}
	// logging out again is not an error
	if err := svc.Logout(ctx, acct.ID.Hex()); err != nil {
		t.Fatalf("second logout should succeed: %v", err)
	}
}

func TestRefreshInvalidStoredTokenPropagates(t *testing.T) {
	svc, ar, rr := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "frank@example.com", "pw1234", nil)
	rr.store[acct.ID.Hex()] = []string{"not-a-jwt"}

	_, _, err := svc.Refresh(ctx, acct.ID.Hex())
	if !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected InvalidOrExpiredRefreshToken, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "G", "grace@example.com", "pw1234", "grace"); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	_, err := svc.Register(ctx, "G2", "grace@example.com", "pw1234", "grace2")
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected DuplicateEmail, got %v", err)
	}
	if len(ar.store) != 1 {
		t.Fatalf("expected a single account, got %d", len(ar.store))
	}
}

func TestRegisterExplicitUsernameTaken(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Register(ctx, "H", "henry@example.com", "pw1234", "henry"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := svc.Register(ctx, "H2", "henry2@example.com", "pw1234", "henry")
	if !errors.Is(err, ErrUsernameInUse) {
		t.Fatalf("expected UsernameInUse, got %v", err)
	}
}

func TestRegisterDerivesUsername(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	a, err := svc.Register(ctx, "A", "a@x.com", "p12345", "")
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !regexp.MustCompile(`^a\d{4}$`).MatchString(a.Username) {
		t.Fatalf("expected derived username 'a' + digits, got %q", a.Username)
	}
	// registration does not log in: a subsequent login must work
	got, access, _, err := svc.Login(ctx, "a@x.com", "p12345")
	if err != nil {
		t.Fatalf("login after register failed: %v", err)
	}
	if got.Username != a.Username {
		t.Fatalf("unexpected account: %v", got)
	}
	claims, err := tokens.ParseAccessToken(testConfig(), access)
	if err != nil {
		t.Fatalf("token parse failed: %v", err)
	}
	if claims.Role != "user" {
		t.Fatalf("expected role user, got %q", claims.Role)
	}
}

// countingAccounts forces a username collision on the first derived candidate.
type countingAccounts struct {
	*fakeAccounts
	collisions int
	checks     int
}

func (f *countingAccounts) UsernameExists(ctx context.Context, username string) (bool, error) {
	f.checks++
	if f.checks <= f.collisions {
		return true, nil
	}
	return f.fakeAccounts.UsernameExists(ctx, username)
}

func TestRegisterDerivedUsernameCollisionRetry(t *testing.T) {
	ar := &countingAccounts{fakeAccounts: newFakeAccounts(), collisions: 1}
	svc := NewService(testConfig(), ar, newFakeRecords(), nil)
	ctx := context.Background()

	a, err := svc.Register(ctx, "A", "ana@x.com", "p12345", "")
	if err != nil {
		t.Fatalf("register should survive one collision: %v", err)
	}
	if !strings.HasPrefix(a.Username, "ana") {
		t.Fatalf("unexpected username: %q", a.Username)
	}

	// two collisions in a row exhaust the retry
	ar2 := &countingAccounts{fakeAccounts: newFakeAccounts(), collisions: 2}
	svc2 := NewService(testConfig(), ar2, newFakeRecords(), nil)
	if _, err := svc2.Register(ctx, "B", "bob@x.com", "p12345", ""); !errors.Is(err, ErrUsernameInUse) {
		t.Fatalf("expected UsernameInUse after retry, got %v", err)
	}
}

func TestUpdatePasswordWrongCurrentKeepsOld(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "ivy@example.com", "old-pw", nil)

	err := svc.UpdatePassword(ctx, acct.ID.Hex(), "bad-guess", "new-pw")
	if !errors.Is(err, ErrInvalidCurrentPassword) {
		t.Fatalf("expected InvalidCurrentPassword, got %v", err)
	}
	// old password still works
	if _, _, _, err := svc.Login(ctx, "ivy@example.com", "old-pw"); err != nil {
		t.Fatalf("old password should still log in: %v", err)
	}
}

func TestUpdatePasswordSuccess(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "jan@example.com", "old-pw", nil)

	if err := svc.UpdatePassword(ctx, acct.ID.Hex(), "old-pw", "new-pw"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "jan@example.com", "new-pw"); err != nil {
		t.Fatalf("new password should log in: %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "jan@example.com", "old-pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password should be rejected, got %v", err)
	}
}

func TestUpdateEmail(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "kim@example.com", "pw1234", nil)
	seedAccount(t, ar, "taken@example.com", "pw1234", func(a *models.Account) { a.Username = "taken" })

	if err := svc.UpdateEmail(ctx, acct.ID.Hex(), "taken@example.com"); !errors.Is(err, ErrEmailInUse) {
		t.Fatalf("expected EmailInUse, got %v", err)
	}
	if err := svc.UpdateEmail(ctx, acct.ID.Hex(), "kim2@example.com"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if a, _ := ar.GetByID(ctx, acct.ID.Hex()); a.Email != "kim2@example.com" {
		t.Fatalf("email not persisted: %q", a.Email)
	}
	if err := svc.UpdateEmail(ctx, primitive.NewObjectID().Hex(), "x@example.com"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected AccountNotFound, got %v", err)
	}
}

func TestDeleteAccountRemovesEverything(t *testing.T) {
	svc, ar, rr := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "lea@example.com", "pw1234", nil)

	if _, _, _, err := svc.Login(ctx, "lea@example.com", "pw1234"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := svc.DeleteAccount(ctx, acct.ID.Hex(), "wrong"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected InvalidPassword, got %v", err)
	}
	if err := svc.DeleteAccount(ctx, acct.ID.Hex(), "pw1234"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := rr.store[acct.ID.Hex()]; ok {
		t.Fatalf("expected token records removed")
	}
	if _, _, _, err := svc.Login(ctx, "lea@example.com", "pw1234"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("login after delete should fail with InvalidCredentials, got %v", err)
	}
}

// deleteFailingAccounts simulates the account store going down mid-delete.
type deleteFailingAccounts struct {
	*fakeAccounts
}

func (f *deleteFailingAccounts) Delete(ctx context.Context, id string) error {
	return errors.New("storage down")
}

func TestDeleteAccountRevokesSessionsFirst(t *testing.T) {
	ar := &deleteFailingAccounts{fakeAccounts: newFakeAccounts()}
	rr := newFakeRecords()
	svc := NewService(testConfig(), ar, rr, nil)
	ctx := context.Background()
	acct := seedAccount(t, ar.fakeAccounts, "mia@example.com", "pw1234", nil)

	if _, _, _, err := svc.Login(ctx, "mia@example.com", "pw1234"); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if err := svc.DeleteAccount(ctx, acct.ID.Hex(), "pw1234"); err == nil {
		t.Fatalf("expected account delete failure to surface")
	}
	// sessions must already be gone: a half-deleted account never keeps a
	// refreshable record
	if _, ok := rr.store[acct.ID.Hex()]; ok {
		t.Fatalf("expected token records removed before the account delete")
	}
	if a, _ := ar.GetByID(ctx, acct.ID.Hex()); a == nil {
		t.Fatalf("account should survive the failed delete")
	}
}

func TestConnectSocial(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "max@example.com", "pw1234", nil)

	a, err := svc.ConnectSocial(ctx, acct.ID.Hex(), "github")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !a.HasProvider("github") {
		t.Fatalf("provider not recorded: %v", a.Providers)
	}
	if _, err := svc.ConnectSocial(ctx, acct.ID.Hex(), "github"); !errors.Is(err, ErrProviderAlreadyConnected) {
		t.Fatalf("expected ProviderAlreadyConnected, got %v", err)
	}
	if _, err := svc.ConnectSocial(ctx, primitive.NewObjectID().Hex(), "github"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected AccountNotFound, got %v", err)
	}
}

func TestRequestVerification(t *testing.T) {
	svc, ar, _ := newTestService()
	ctx := context.Background()
	acct := seedAccount(t, ar, "nia@example.com", "pw1234", nil)

	a, err := svc.RequestVerification(ctx, acct.ID.Hex())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if !a.Verification.VerificationRequested || a.Verification.VerificationRequestDate == nil {
		t.Fatalf("verification state not set: %+v", a.Verification)
	}

	verified := seedAccount(t, ar, "ok@example.com", "pw1234", func(a *models.Account) {
		a.Username = "ok"
		a.Verification.IsVerified = true
	})
	if _, err := svc.RequestVerification(ctx, verified.ID.Hex()); !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected AlreadyVerified, got %v", err)
	}
}
