// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package idp

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/database"
	"github.com/shopmesh/shopmesh/internal/keys"
	"github.com/shopmesh/shopmesh/internal/totp"
)

type harness struct {
	db       *sql.DB
	store    *Store
	service  *Service
	verifier *auth.Verifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	pair, err := keys.LoadOrGenerate(t.TempDir(), 2048)
	if err != nil {
		t.Fatal(err)
	}
	signer := auth.NewSigner(pair, "shopmesh-idp", 15*time.Minute, 24*time.Hour)
	verifier := auth.NewVerifier(map[string]*rsa.PublicKey{pair.KeyID: pair.Public}, nil)

	service, err := NewService(store, signer, verifier)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{db: db, store: store, service: service, verifier: verifier}
}

func (h *harness) register(t *testing.T, username string) *UserProjection {
	t.Helper()
	user, apiErr := h.service.Register(context.Background(), username, username+"@example.com", "Passw0rd!")
	if apiErr != nil {
		t.Fatalf("register %s: %v", username, apiErr)
	}
	return user
}

// resetLastStep lets a test reuse the current TOTP step after setup
// confirmation, which in production would require waiting out the step.
func (h *harness) resetLastStep(t *testing.T, accountID int64) {
	t.Helper()
	if _, err := h.db.Exec(`UPDATE second_factors SET last_step = 0 WHERE account_id = ?`, accountID); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) enable2FA(t *testing.T, accountID int64) *TwoFactorSetup {
	t.Helper()
	ctx := context.Background()
	setup, apiErr := h.service.Setup2FA(ctx, accountID)
	if apiErr != nil {
		t.Fatalf("setup 2fa: %v", apiErr)
	}
	code, err := totp.CodeAt(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if apiErr := h.service.VerifySetup2FA(ctx, accountID, code); apiErr != nil {
		t.Fatalf("verify setup: %v", apiErr)
	}
	h.resetLastStep(t, accountID)
	return setup
}

func TestRegisterAndDuplicate(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	if user.Username != "alice" || !user.IsActive || user.IsAdmin {
		t.Errorf("projection = %+v", user)
	}

	_, apiErr := h.service.Register(context.Background(), "alice", "other@example.com", "Passw0rd!")
	if apiErr == nil || apiErr.Code != api.CodeConflictState {
		t.Errorf("duplicate register error = %v, want CONFLICT_STATE", apiErr)
	}
}

func TestPasswordLogin(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice")
	ctx := context.Background()

	result, apiErr := h.service.PasswordLogin(ctx, "alice", "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if result.Requires2FA || result.Tokens == nil {
		t.Fatalf("result = %+v", result)
	}

	claims, err := h.verifier.Verify(ctx, result.Tokens.Access, auth.KindAccess)
	if err != nil {
		t.Fatalf("issued access token invalid: %v", err)
	}
	if claims.Username != "alice" {
		t.Errorf("claims.Username = %q", claims.Username)
	}

	if _, apiErr := h.service.PasswordLogin(ctx, "alice", "wrong"); apiErr == nil || apiErr.Code != api.CodeAuthInvalid {
		t.Errorf("wrong password error = %v, want AUTH_INVALID", apiErr)
	}
	if _, apiErr := h.service.PasswordLogin(ctx, "nobody", "whatever"); apiErr == nil || apiErr.Code != api.CodeAuthInvalid {
		t.Errorf("unknown user error = %v, want AUTH_INVALID", apiErr)
	}
}

func TestTwoFactorGate(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()
	setup := h.enable2FA(t, user.ID)

	// Password alone no longer yields tokens.
	result, apiErr := h.service.PasswordLogin(ctx, "alice", "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if !result.Requires2FA || result.Tokens != nil {
		t.Fatalf("gated login = %+v, want requires_2fa and no tokens", result)
	}

	code, err := totp.CodeAt(setup.Secret, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	verified, apiErr := h.service.VerifyLogin2FA(ctx, "alice", code)
	if apiErr != nil {
		t.Fatalf("verify login: %v", apiErr)
	}
	if verified.Tokens == nil {
		t.Fatal("no tokens after 2FA verification")
	}

	// Same code again within the same step is a replay.
	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", code); apiErr == nil || apiErr.Code != api.CodeTwoFactorInvalid {
		t.Errorf("replay error = %v, want TWO_FACTOR_INVALID", apiErr)
	}

	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", "000000"); apiErr == nil || apiErr.Code != api.CodeTwoFactorInvalid {
		t.Errorf("garbage code error = %v, want TWO_FACTOR_INVALID", apiErr)
	}
}

func TestRecoveryCodeSingleUse(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()
	setup := h.enable2FA(t, user.ID)

	if len(setup.RecoveryCodes) != recoveryCodeCount {
		t.Fatalf("recovery codes = %d, want %d", len(setup.RecoveryCodes), recoveryCodeCount)
	}

	code := setup.RecoveryCodes[0]
	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", code); apiErr != nil {
		t.Fatalf("recovery code rejected: %v", apiErr)
	}
	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", code); apiErr == nil || apiErr.Code != api.CodeTwoFactorInvalid {
		t.Errorf("spent code error = %v, want TWO_FACTOR_INVALID", apiErr)
	}

	status, apiErr := h.service.Status2FA(ctx, user.ID)
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if status.RecoveryCodesRemaining != recoveryCodeCount-1 {
		t.Errorf("remaining = %d, want %d", status.RecoveryCodesRemaining, recoveryCodeCount-1)
	}
}

func TestRecoveryCodeStrength(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	setup := h.enable2FA(t, user.ID)

	// 32 hex characters per code: 128 bits of randomness.
	format := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{8}-[0-9a-f]{8}-[0-9a-f]{8}$`)
	seen := make(map[string]bool, len(setup.RecoveryCodes))
	for _, code := range setup.RecoveryCodes {
		if !format.MatchString(code) {
			t.Errorf("code %q is not four 8-char hex groups", code)
		}
		if seen[code] {
			t.Errorf("duplicate code %q in batch", code)
		}
		seen[code] = true
	}
}

func TestRegenerateInvalidatesOldBatch(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()
	setup := h.enable2FA(t, user.ID)

	fresh, apiErr := h.service.RegenerateRecoveryCodes(ctx, user.ID, "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if len(fresh) != recoveryCodeCount {
		t.Fatalf("new batch = %d codes", len(fresh))
	}

	// The old batch is dead.
	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", setup.RecoveryCodes[0]); apiErr == nil {
		t.Error("old recovery code still works after regeneration")
	}
	// The new batch works.
	if _, apiErr := h.service.VerifyLogin2FA(ctx, "alice", fresh[0]); apiErr != nil {
		t.Errorf("new recovery code rejected: %v", apiErr)
	}
}

func TestDisable2FA(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()
	h.enable2FA(t, user.ID)

	if apiErr := h.service.Disable2FA(ctx, user.ID, "wrong"); apiErr == nil {
		t.Error("disable accepted wrong password")
	}
	if apiErr := h.service.Disable2FA(ctx, user.ID, "Passw0rd!"); apiErr != nil {
		t.Fatal(apiErr)
	}

	result, apiErr := h.service.PasswordLogin(ctx, "alice", "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if result.Requires2FA {
		t.Error("login still gated after disable")
	}
}

func TestRefreshRotation(t *testing.T) {
	h := newHarness(t)
	h.register(t, "alice")
	ctx := context.Background()

	login, apiErr := h.service.PasswordLogin(ctx, "alice", "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}

	rotated, apiErr := h.service.Refresh(ctx, login.Tokens.Refresh)
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if rotated.Access == "" || rotated.Refresh == "" {
		t.Fatal("rotation returned empty tokens")
	}

	// An access token never refreshes.
	if _, apiErr := h.service.Refresh(ctx, login.Tokens.Access); apiErr == nil {
		t.Error("access token accepted by refresh")
	}
}

func TestPasswordChangeInvalidatesRefresh(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()

	login, apiErr := h.service.PasswordLogin(ctx, "alice", "Passw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}

	fresh, apiErr := h.service.ChangePassword(ctx, user.ID, "Passw0rd!", "NewPassw0rd!")
	if apiErr != nil {
		t.Fatal(apiErr)
	}

	// The pre-change refresh token carries a stale version.
	if _, apiErr := h.service.Refresh(ctx, login.Tokens.Refresh); apiErr == nil {
		t.Error("stale refresh token accepted after password change")
	}
	// The post-change pair works.
	if _, apiErr := h.service.Refresh(ctx, fresh.Refresh); apiErr != nil {
		t.Errorf("fresh refresh token rejected: %v", apiErr)
	}

	if _, apiErr := h.service.PasswordLogin(ctx, "alice", "NewPassw0rd!"); apiErr != nil {
		t.Errorf("new password rejected: %v", apiErr)
	}
}

func TestValidateUser(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	ctx := context.Background()

	resp := h.service.ValidateUser(ctx, user.ID, "orders")
	if !resp.Valid || resp.Username != "alice" || !resp.IsActive {
		t.Errorf("response = %+v", resp)
	}

	resp = h.service.ValidateUser(ctx, 9999, "orders")
	if resp.Valid || resp.ErrorMessage == "" {
		t.Errorf("unknown user response = %+v", resp)
	}
}

func TestUpdateProfile(t *testing.T) {
	h := newHarness(t)
	user := h.register(t, "alice")
	h.register(t, "bob")
	ctx := context.Background()

	updated, apiErr := h.service.UpdateProfile(ctx, user.ID, "alice@new.example.com")
	if apiErr != nil {
		t.Fatal(apiErr)
	}
	if updated.Email != "alice@new.example.com" {
		t.Errorf("email = %q", updated.Email)
	}

	if _, apiErr := h.service.UpdateProfile(ctx, user.ID, "bob@example.com"); apiErr == nil || apiErr.Code != api.CodeConflictState {
		t.Errorf("email collision error = %v, want CONFLICT_STATE", apiErr)
	}
}

func TestHealthzStatus(t *testing.T) {
	h := newHarness(t)
	pair, err := keys.LoadOrGenerate(t.TempDir(), 2048)
	if err != nil {
		t.Fatal(err)
	}
	handler := NewHandler(h.service, h.verifier, pair)

	req, rec := newJSONRequest(t, http.MethodGet, "/healthz", nil)
	handler.Healthz(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}
