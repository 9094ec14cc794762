package authcore

import (
	"context"
	"errors"
	"testing"
	"time"
)

func loginTokens(t *testing.T, env *testEnv) (*TokenPair, *SessionInfo) {
	t.Helper()
	res, err := env.engine.Login(context.Background(), "alice@example.com", "correct-horse-1")
	if err != nil {
		t.Fatal(err)
	}
	return res.Tokens, res.Session
}

func TestValidateAccessActivatesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, info := loginTokens(t, env)

	claims, err := env.engine.ValidateAccess(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatal(err)
	}
	if claims.AccountID != accountID || claims.SessionID != info.SessionID {
		t.Fatalf("claims mismatch: %+v", claims)
	}

	sessions, err := env.engine.ActiveSessions(ctx, accountID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].State != StateActive {
		t.Fatalf("session must be ACTIVE after first validation, got %+v", sessions)
	}
}

func TestValidateAccessRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, token := range []string{"", "garbage", "a.b.c"} {
		if _, err := env.engine.ValidateAccess(context.Background(), token); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("token %q: want ErrUnauthenticated, got %v", token, err)
		}
	}
}

func TestValidateAccessRejectsLoggedOutSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, info := loginTokens(t, env)

	if err := env.engine.Logout(ctx, accountID, info.SessionID); err != nil {
		t.Fatal(err)
	}

	// Signature is still valid; the session is not.
	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, _ := loginTokens(t, env)

	// Activate first: refresh requires an active session.
	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); err != nil {
		t.Fatal(err)
	}

	env.advance(time.Second)
	next, err := env.engine.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}
	if next.RefreshToken == tokens.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	// The new pair keeps working.
	if _, err := env.engine.ValidateAccess(ctx, next.AccessToken); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Second)
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatal(err)
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, _ := loginTokens(t, env)

	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Second)
	next, err := env.engine.Refresh(ctx, tokens.RefreshToken)
	if err != nil {
		t.Fatal(err)
	}

	// Replaying the superseded token burns the session.
	if _, err := env.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("want ErrRefreshReuse, got %v", err)
	}

	// Both holders are cut off.
	if _, err := env.engine.ValidateAccess(ctx, next.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("revoked session must not validate, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("revoked session must not refresh, got %v", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, info := loginTokens(t, env)

	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.Logout(ctx, accountID, info.SessionID); err != nil {
		t.Fatal(err)
	}

	if _, err := env.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestRefreshAfterSessionLifetime(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.createAccount("alice@example.com", "correct-horse-1", true)
	tokens, _ := loginTokens(t, env)

	if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); err != nil {
		t.Fatal(err)
	}

	// The refresh JWT is valid for 30 days, but the session row caps the
	// ride at 24 hours.
	env.advance(25 * time.Hour)
	if _, err := env.engine.Refresh(ctx, tokens.RefreshToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("want ErrSessionExpired, got %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)
	_, info := loginTokens(t, env)

	if err := env.engine.Logout(ctx, accountID, info.SessionID); err != nil {
		t.Fatal(err)
	}
	if err := env.engine.Logout(ctx, accountID, info.SessionID); err != nil {
		t.Fatalf("second logout must succeed, got %v", err)
	}
	if err := env.engine.Logout(ctx, accountID, "never-existed"); err != nil {
		t.Fatalf("logout of unknown session must succeed, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	accountID := env.createAccount("alice@example.com", "correct-horse-1", true)

	first, _ := loginTokens(t, env)
	second, _ := loginTokens(t, env)
	third, _ := loginTokens(t, env)

	n, err := env.engine.LogoutAll(ctx, accountID)
	if err != nil || n != 3 {
		t.Fatalf("LogoutAll = %d, %v; want 3, nil", n, err)
	}

	for _, tokens := range []*TokenPair{first, second, third} {
		if _, err := env.engine.ValidateAccess(ctx, tokens.AccessToken); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("want ErrUnauthenticated after LogoutAll, got %v", err)
		}
	}
}
