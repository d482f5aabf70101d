package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pulsechat/pulsechat-server/internal/cache"
	"github.com/pulsechat/pulsechat-server/internal/config"
	"github.com/pulsechat/pulsechat-server/internal/user"
)

// fakeUserRepo is a minimal in-memory user.Repository for auth service tests.
type fakeUserRepo struct {
	byID    map[uuid.UUID]*user.Credentials
	byIdent map[string]uuid.UUID // username or email -> id
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{byID: make(map[uuid.UUID]*user.Credentials), byIdent: make(map[string]uuid.UUID)}
}

func (f *fakeUserRepo) Create(ctx context.Context, params user.CreateParams) (*user.User, error) {
	if _, exists := f.byIdent[params.Email]; exists {
		return nil, user.ErrAlreadyExists
	}
	if _, exists := f.byIdent[params.Username]; exists {
		return nil, user.ErrAlreadyExists
	}
	role := params.Role
	if role == "" {
		role = user.RoleUser
	}
	u := &user.User{ID: uuid.New(), Email: params.Email, Username: params.Username, Role: role, CreatedAt: time.Now()}
	f.byID[u.ID] = &user.Credentials{User: *u, PasswordHash: params.PasswordHash}
	f.byIdent[params.Email] = u.ID
	f.byIdent[params.Username] = u.ID
	return u, nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := c.User
	return &u, nil
}

func (f *fakeUserRepo) GetByUsernameOrEmail(ctx context.Context, identifier string) (*user.Credentials, error) {
	id, ok := f.byIdent[identifier]
	if !ok {
		return nil, user.ErrNotFound
	}
	return f.byID[id], nil
}

func (f *fakeUserRepo) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	id, ok := f.byIdent[username]
	if !ok {
		return nil, user.ErrNotFound
	}
	u := f.byID[id].User
	return &u, nil
}

func (f *fakeUserRepo) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	c, ok := f.byID[userID]
	if !ok {
		return user.ErrNotFound
	}
	c.PasswordHash = hash
	return nil
}

// fakeRefreshStore is an in-memory refreshTokenStore.
type fakeRefreshStore struct {
	tokens map[string]uuid.UUID // token -> userID, present = not revoked
}

func newFakeRefreshStore() *fakeRefreshStore {
	return &fakeRefreshStore{tokens: make(map[string]uuid.UUID)}
}

func (f *fakeRefreshStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	tok := uuid.NewString()
	f.tokens[tok] = userID
	return tok, nil
}

func (f *fakeRefreshStore) Rotate(ctx context.Context, presented string) (string, uuid.UUID, error) {
	userID, ok := f.tokens[presented]
	if !ok {
		return "", uuid.Nil, ErrRefreshTokenReused
	}
	delete(f.tokens, presented)
	newTok, _ := f.Issue(ctx, userID)
	return newTok, userID, nil
}

func (f *fakeRefreshStore) Revoke(ctx context.Context, presented string) error {
	delete(f.tokens, presented)
	return nil
}

func (f *fakeRefreshStore) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	for tok, id := range f.tokens {
		if id == userID {
			delete(f.tokens, tok)
		}
	}
	return nil
}

// fakeResetStore is an in-memory resetTokenStore.
type fakeResetStore struct {
	tokens map[string]uuid.UUID
}

func newFakeResetStore() *fakeResetStore {
	return &fakeResetStore{tokens: make(map[string]uuid.UUID)}
}

func (f *fakeResetStore) Issue(ctx context.Context, userID uuid.UUID) (string, error) {
	tok := uuid.NewString()
	f.tokens[tok] = userID
	return tok, nil
}

func (f *fakeResetStore) Redeem(ctx context.Context, token string) (uuid.UUID, error) {
	userID, ok := f.tokens[token]
	if !ok {
		return uuid.Nil, cache.ErrResetTokenNotFound
	}
	delete(f.tokens, token)
	return userID, nil
}

// fakeSender records the last reset email sent, for assertions.
type fakeSender struct {
	lastTo, lastToken string
	called            int
}

func (f *fakeSender) SendPasswordReset(to, token, clientBaseURL string) error {
	f.lastTo, f.lastToken = to, token
	f.called++
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:      "test-secret-key-for-auth-service-tests",
		JWTIssuer:      testIssuer,
		AccessTokenTTL: 15 * time.Minute,
		BcryptCost:     4, // bcrypt.MinCost, for fast tests
	}
}

func newTestService(t *testing.T) (*Service, *fakeUserRepo, *fakeRefreshStore, *fakeResetStore, *fakeSender) {
	t.Helper()
	users := newFakeUserRepo()
	refresh := newFakeRefreshStore()
	reset := newFakeResetStore()
	sender := &fakeSender{}

	svc, err := NewService(users, refresh, reset, testConfig(), sender, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc, users, refresh, reset, sender
}

func TestSignupCreatesUserAndIssuesTokens(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)

	result, err := svc.Signup(context.Background(), SignupRequest{
		Email: "alice@example.com", Username: "alice", Password: "hunter22",
	})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}
	if result.User.Email != "alice@example.com" {
		t.Errorf("User.Email = %q, want %q", result.User.Email, "alice@example.com")
	}
	if result.AccessToken == "" || result.RefreshToken == "" {
		t.Error("Signup() should return non-empty tokens")
	}
}

func TestSignupDuplicateEmailIsConflict(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	req := SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"}
	if _, err := svc.Signup(ctx, req); err != nil {
		t.Fatalf("first Signup() error = %v", err)
	}

	_, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice2", Password: "hunter22"})
	if !errors.Is(err, ErrEmailAlreadyTaken) {
		t.Errorf("second Signup() error = %v, want ErrEmailAlreadyTaken", err)
	}
}

func TestSignupRejectsInvalidFields(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupRequest{Email: "not-an-email", Username: "alice", Password: "hunter22"}); err == nil {
		t.Error("Signup() with invalid email should error")
	}
	if _, err := svc.Signup(ctx, SignupRequest{Email: "a@b.com", Username: "ab", Password: "hunter22"}); err == nil {
		t.Error("Signup() with too-short username should error")
	}
	if _, err := svc.Signup(ctx, SignupRequest{Email: "a@b.com", Username: "alice", Password: "short"}); err == nil {
		t.Error("Signup() with too-short password should error")
	}
}

func TestLoginWithUsernameOrEmail(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"}); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if _, err := svc.Login(ctx, LoginRequest{Identifier: "alice", Password: "hunter22"}); err != nil {
		t.Errorf("Login() by username error = %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Identifier: "alice@example.com", Password: "hunter22"}); err != nil {
		t.Errorf("Login() by email error = %v", err)
	}
}

func TestLoginUnknownUserAndWrongPasswordReturnSameError(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"}); err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	_, errUnknown := svc.Login(ctx, LoginRequest{Identifier: "nobody", Password: "hunter22"})
	_, errWrongPass := svc.Login(ctx, LoginRequest{Identifier: "alice", Password: "wrong-password"})

	if !errors.Is(errUnknown, ErrInvalidCredentials) {
		t.Errorf("unknown user error = %v, want ErrInvalidCredentials", errUnknown)
	}
	if !errors.Is(errWrongPass, ErrInvalidCredentials) {
		t.Errorf("wrong password error = %v, want ErrInvalidCredentials", errWrongPass)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if err := svc.Logout(ctx, result.RefreshToken); err != nil {
		t.Fatalf("first Logout() error = %v", err)
	}
	if err := svc.Logout(ctx, result.RefreshToken); err != nil {
		t.Errorf("second Logout() (already revoked) error = %v, want nil", err)
	}
}

func TestRefreshRotatesTokenAndRejectsReuse(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	pair, err := svc.Refresh(ctx, result.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if pair.RefreshToken == result.RefreshToken {
		t.Error("Refresh() should issue a new refresh token")
	}

	_, err = svc.Refresh(ctx, result.RefreshToken)
	if !errors.Is(err, ErrRefreshTokenReused) {
		t.Errorf("reusing old refresh token error = %v, want ErrRefreshTokenReused", err)
	}
}

func TestSessionCheckValidatesAccessToken(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	claims, err := svc.SessionCheck(result.AccessToken)
	if err != nil {
		t.Fatalf("SessionCheck() error = %v", err)
	}
	if claims.UserID != result.User.ID {
		t.Errorf("SessionCheck() UserID = %v, want %v", claims.UserID, result.User.ID)
	}

	if _, err := svc.SessionCheck("garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("SessionCheck(garbage) error = %v, want ErrInvalidToken", err)
	}
}

func TestLookupUser(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	found, err := svc.LookupUser(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupUser() error = %v", err)
	}
	if found.UserID != result.User.ID {
		t.Errorf("LookupUser() UserID = %v, want %v", found.UserID, result.User.ID)
	}

	if _, err := svc.LookupUser(ctx, "nobody"); !errors.Is(err, user.ErrNotFound) {
		t.Errorf("LookupUser(nobody) error = %v, want user.ErrNotFound", err)
	}
}

func TestRequestResetIsSilentForUnknownEmail(t *testing.T) {
	t.Parallel()
	svc, _, _, _, sender := newTestService(t)

	if err := svc.RequestReset(context.Background(), "nobody@example.com"); err != nil {
		t.Errorf("RequestReset() for unknown email error = %v, want nil (silent success)", err)
	}
	if sender.called != 0 {
		t.Errorf("sender called %d times for unknown email, want 0", sender.called)
	}
}

func TestRequestResetAndConfirmReset(t *testing.T) {
	t.Parallel()
	svc, _, _, _, sender := newTestService(t)
	ctx := context.Background()

	result, err := svc.Signup(ctx, SignupRequest{Email: "alice@example.com", Username: "alice", Password: "hunter22"})
	if err != nil {
		t.Fatalf("Signup() error = %v", err)
	}

	if err := svc.RequestReset(ctx, "alice@example.com"); err != nil {
		t.Fatalf("RequestReset() error = %v", err)
	}
	if sender.called != 1 || sender.lastTo != "alice@example.com" {
		t.Fatalf("sender state = %+v, want one send to alice@example.com", sender)
	}

	if err := svc.ConfirmReset(ctx, sender.lastToken, "new-password-123"); err != nil {
		t.Fatalf("ConfirmReset() error = %v", err)
	}

	if _, err := svc.Login(ctx, LoginRequest{Identifier: "alice", Password: "new-password-123"}); err != nil {
		t.Errorf("Login() with new password error = %v", err)
	}
	if _, err := svc.Login(ctx, LoginRequest{Identifier: "alice", Password: "hunter22"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Login() with old password error = %v, want ErrInvalidCredentials", err)
	}

	// The reset token is single-use.
	if err := svc.ConfirmReset(ctx, sender.lastToken, "another-password"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("second ConfirmReset() with same token error = %v, want ErrInvalidToken", err)
	}

	// All refresh tokens issued before the reset should be revoked.
	if _, err := svc.Refresh(ctx, result.RefreshToken); !errors.Is(err, ErrRefreshTokenReused) {
		t.Errorf("Refresh() with pre-reset token error = %v, want ErrRefreshTokenReused", err)
	}
}

func TestConfirmResetUnknownTokenIsInvalid(t *testing.T) {
	t.Parallel()
	svc, _, _, _, _ := newTestService(t)

	err := svc.ConfirmReset(context.Background(), "nonexistent-token", "new-password-123")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("ConfirmReset() with unknown token error = %v, want ErrInvalidToken", err)
	}
}
