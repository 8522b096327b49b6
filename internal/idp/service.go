// ShopMesh - Educational E-Commerce Microservices
// Copyright 2026 ShopMesh Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/shopmesh/shopmesh

package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/shopmesh/shopmesh/internal/api"
	"github.com/shopmesh/shopmesh/internal/auth"
	"github.com/shopmesh/shopmesh/internal/logging"
	"github.com/shopmesh/shopmesh/internal/rpc"
	"github.com/shopmesh/shopmesh/internal/totp"
)

const (
	// totpIssuer is the issuer label in provisioning URIs.
	totpIssuer = "ShopMesh"

	// recoveryCodeCount is the batch size for generated recovery codes.
	recoveryCodeCount = 10
)

// UserProjection is the safe, outward-facing view of an account.
type UserProjection struct {
	ID               int64     `json:"id"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	IsActive         bool      `json:"is_active"`
	IsAdmin          bool      `json:"is_admin"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
}

// LoginResult is the outcome of a password login. When a confirmed second
// factor exists, Requires2FA is set and no tokens are issued.
type LoginResult struct {
	Requires2FA bool            `json:"requires_2fa"`
	Username    string          `json:"username"`
	Tokens      *auth.TokenPair `json:"tokens,omitempty"`
	User        *UserProjection `json:"user,omitempty"`
}

// TwoFactorSetup is returned once at enrollment; the secret and the
// plaintext recovery codes are never shown again.
type TwoFactorSetup struct {
	Secret          string   `json:"secret"`
	ProvisioningURI string   `json:"provisioning_uri"`
	RecoveryCodes   []string `json:"recovery_codes"`
}

// TwoFactorStatus reports the state of an account's second factor.
type TwoFactorStatus struct {
	Enabled                bool `json:"enabled"`
	Confirmed              bool `json:"confirmed"`
	RecoveryCodesRemaining int  `json:"recovery_codes_remaining"`
}

// RecoveryCodeArtifact is a downloadable text rendering of recovery codes.
type RecoveryCodeArtifact struct {
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	ContentBase64 string `json:"content_base64"`
}

// Service implements the identity provider's business operations.
type Service struct {
	store    *Store
	signer   *auth.Signer
	verifier *auth.Verifier

	// dummyHash keeps password checks constant-work for unknown usernames.
	dummyHash []byte
}

// NewService wires the identity provider.
func NewService(store *Store, signer *auth.Signer, verifier *auth.Verifier) (*Service, error) {
	filler := make([]byte, 24)
	if _, err := rand.Read(filler); err != nil {
		return nil, fmt.Errorf("seed dummy hash: %w", err)
	}
	dummy, err := bcrypt.GenerateFromPassword(filler, bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("generate dummy hash: %w", err)
	}
	return &Service{store: store, signer: signer, verifier: verifier, dummyHash: dummy}, nil
}

func (s *Service) projection(ctx context.Context, acct *Account) *UserProjection {
	enabled := false
	if factor, err := s.store.SecondFactorByAccount(ctx, acct.ID); err == nil {
		enabled = factor.Confirmed
	}
	return &UserProjection{
		ID:               acct.ID,
		Username:         acct.Username,
		Email:            acct.Email,
		IsActive:         acct.IsActive,
		IsAdmin:          acct.IsAdmin,
		TwoFactorEnabled: enabled,
		CreatedAt:        acct.CreatedAt,
	}
}

func (s *Service) identity(acct *Account) auth.Identity {
	return auth.Identity{
		UserID:   acct.ID,
		Username: acct.Username,
		IsAdmin:  acct.IsAdmin,
		Version:  acct.TokenVersion,
	}
}

// Register creates a new account.
func (s *Service) Register(ctx context.Context, username, email, password string) (*UserProjection, *api.Error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Password hash failed")
		return nil, api.ErrInternal()
	}

	acct, err := s.store.CreateAccount(ctx, username, email, string(hash))
	if errors.Is(err, ErrDuplicate) {
		return nil, api.ErrConflictState("username or email already in use")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account creation failed")
		return nil, api.ErrInternal()
	}

	logging.Ctx(ctx).Info().Int64("user_id", acct.ID).Msg("Account registered")
	return s.projection(ctx, acct), nil
}

// PasswordLogin verifies the first factor. Unknown usernames burn a bcrypt
// comparison against a dummy hash so the response time does not reveal
// account existence.
func (s *Service) PasswordLogin(ctx context.Context, username, password string) (*LoginResult, *api.Error) {
	acct, err := s.store.AccountByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, api.ErrAuthInvalid()
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		return nil, api.ErrInternal()
	}

	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, api.ErrAuthInvalid()
	}
	if !acct.IsActive {
		return nil, api.ErrAuthInvalid()
	}

	if factor, err := s.store.SecondFactorByAccount(ctx, acct.ID); err == nil && factor.Confirmed {
		return &LoginResult{Requires2FA: true, Username: acct.Username}, nil
	}

	tokens, err := s.signer.IssuePair(s.identity(acct))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Token issuance failed")
		return nil, api.ErrInternal()
	}
	logging.Ctx(ctx).Info().Int64("user_id", acct.ID).Msg("Password login")
	return &LoginResult{Username: acct.Username, Tokens: &tokens, User: s.projection(ctx, acct)}, nil
}

func looksLikeTOTP(code string) bool {
	if len(code) != totp.Digits {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// VerifyLogin2FA completes a login that required a second factor. The code
// may be a TOTP code or a single-use recovery code. A TOTP code is accepted
// at most once per time step.
func (s *Service) VerifyLogin2FA(ctx context.Context, username, code string) (*LoginResult, *api.Error) {
	acct, err := s.store.AccountByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return nil, api.ErrTwoFactorInvalid()
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		return nil, api.ErrInternal()
	}
	if !acct.IsActive {
		return nil, api.ErrTwoFactorInvalid()
	}

	factor, err := s.store.SecondFactorByAccount(ctx, acct.ID)
	if errors.Is(err, ErrNotFound) || (err == nil && !factor.Confirmed) {
		return nil, api.ErrTwoFactorInvalid()
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor lookup failed")
		return nil, api.ErrInternal()
	}

	if apiErr := s.consumeSecondFactor(ctx, acct.ID, factor, code); apiErr != nil {
		return nil, apiErr
	}

	tokens, err := s.signer.IssuePair(s.identity(acct))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Token issuance failed")
		return nil, api.ErrInternal()
	}
	logging.Ctx(ctx).Info().Int64("user_id", acct.ID).Msg("Two-factor login")
	return &LoginResult{Username: acct.Username, Tokens: &tokens, User: s.projection(ctx, acct)}, nil
}

func (s *Service) consumeSecondFactor(ctx context.Context, accountID int64, factor *SecondFactor, code string) *api.Error {
	if looksLikeTOTP(code) {
		step, ok := totp.Validate(factor.Secret, code, time.Now(), 1)
		if !ok {
			return api.ErrTwoFactorInvalid()
		}
		advanced, err := s.store.AdvanceLastStep(ctx, accountID, step)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("TOTP step persist failed")
			return api.ErrInternal()
		}
		if !advanced {
			// Same-step replay.
			return api.ErrTwoFactorInvalid()
		}
		return nil
	}

	// Recovery code path.
	codes, err := s.store.UnusedRecoveryCodes(ctx, accountID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Recovery code lookup failed")
		return api.ErrInternal()
	}
	normalized := strings.TrimSpace(code)
	for _, rc := range codes {
		if bcrypt.CompareHashAndPassword([]byte(rc.CodeHash), []byte(normalized)) == nil {
			used, err := s.store.MarkRecoveryCodeUsed(ctx, rc.ID)
			if err != nil {
				logging.Ctx(ctx).Error().Err(err).Msg("Recovery code consume failed")
				return api.ErrInternal()
			}
			if !used {
				return api.ErrTwoFactorInvalid()
			}
			logging.Ctx(ctx).Info().Int64("user_id", accountID).Msg("Recovery code used")
			return nil
		}
	}
	return api.ErrTwoFactorInvalid()
}

// Refresh rotates a refresh token into a fresh access/refresh pair. The
// token version must still match the account's counter.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, *api.Error) {
	claims, err := s.verifier.Verify(ctx, refreshToken, auth.KindRefresh)
	if errors.Is(err, auth.ErrTokenExpired) {
		return nil, api.ErrAuthExpired()
	}
	if err != nil {
		return nil, api.ErrAuthInvalid()
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, api.ErrAuthInvalid()
	}
	acct, err := s.store.AccountByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return nil, api.ErrAuthInvalid()
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		return nil, api.ErrInternal()
	}
	if !acct.IsActive || acct.TokenVersion != claims.Version {
		return nil, api.ErrAuthInvalid()
	}

	tokens, err := s.signer.IssuePair(s.identity(acct))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Token issuance failed")
		return nil, api.ErrInternal()
	}
	return &tokens, nil
}

// newRecoveryCode draws 16 random bytes (128 bits) and renders them as four
// hyphenated hex groups.
func newRecoveryCode() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	s := hex.EncodeToString(raw)
	return s[:8] + "-" + s[8:16] + "-" + s[16:24] + "-" + s[24:], nil
}

func (s *Service) generateRecoveryBatch(ctx context.Context, accountID int64) ([]string, *api.Error) {
	plaintexts := make([]string, 0, recoveryCodeCount)
	hashes := make([]string, 0, recoveryCodeCount)
	for i := 0; i < recoveryCodeCount; i++ {
		code, err := newRecoveryCode()
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Recovery code generation failed")
			return nil, api.ErrInternal()
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Recovery code hash failed")
			return nil, api.ErrInternal()
		}
		plaintexts = append(plaintexts, code)
		hashes = append(hashes, string(hash))
	}
	if err := s.store.ReplaceRecoveryCodes(ctx, accountID, hashes); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Recovery code batch swap failed")
		return nil, api.ErrInternal()
	}
	return plaintexts, nil
}

// Setup2FA starts TOTP enrollment: a fresh secret, a provisioning URI and a
// new recovery code batch, all shown exactly once.
func (s *Service) Setup2FA(ctx context.Context, callerID int64) (*TwoFactorSetup, *api.Error) {
	acct, err := s.store.AccountByID(ctx, callerID)
	if err != nil {
		return nil, api.ErrAuthInvalid()
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("TOTP secret generation failed")
		return nil, api.ErrInternal()
	}

	if err := s.store.UpsertSecondFactor(ctx, acct.ID, secret); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, api.ErrConflictState("two-factor authentication is already enabled")
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor store failed")
		return nil, api.ErrInternal()
	}

	codes, apiErr := s.generateRecoveryBatch(ctx, acct.ID)
	if apiErr != nil {
		return nil, apiErr
	}

	return &TwoFactorSetup{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(totpIssuer, acct.Username, secret),
		RecoveryCodes:   codes,
	}, nil
}

// VerifySetup2FA confirms a pending enrollment with a live TOTP code.
func (s *Service) VerifySetup2FA(ctx context.Context, callerID int64, code string) *api.Error {
	factor, err := s.store.SecondFactorByAccount(ctx, callerID)
	if errors.Is(err, ErrNotFound) {
		return api.ErrConflictState("no pending two-factor enrollment")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor lookup failed")
		return api.ErrInternal()
	}
	if factor.Confirmed {
		return api.ErrConflictState("two-factor authentication is already enabled")
	}

	step, ok := totp.Validate(factor.Secret, code, time.Now(), 1)
	if !ok {
		return api.ErrTwoFactorInvalid()
	}
	if err := s.store.ConfirmSecondFactor(ctx, callerID, step); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor confirm failed")
		return api.ErrInternal()
	}
	logging.Ctx(ctx).Info().Int64("user_id", callerID).Msg("Two-factor enabled")
	return nil
}

// Status2FA reports the caller's second factor state.
func (s *Service) Status2FA(ctx context.Context, callerID int64) (*TwoFactorStatus, *api.Error) {
	factor, err := s.store.SecondFactorByAccount(ctx, callerID)
	if errors.Is(err, ErrNotFound) {
		return &TwoFactorStatus{}, nil
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor lookup failed")
		return nil, api.ErrInternal()
	}

	codes, err := s.store.UnusedRecoveryCodes(ctx, callerID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Recovery code lookup failed")
		return nil, api.ErrInternal()
	}
	return &TwoFactorStatus{
		Enabled:                true,
		Confirmed:              factor.Confirmed,
		RecoveryCodesRemaining: len(codes),
	}, nil
}

func (s *Service) verifyPassword(ctx context.Context, callerID int64, password string) (*Account, *api.Error) {
	acct, err := s.store.AccountByID(ctx, callerID)
	if err != nil {
		return nil, api.ErrAuthInvalid()
	}
	if bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)) != nil {
		return nil, api.ErrAuthInvalid()
	}
	return acct, nil
}

// Disable2FA removes the second factor after password confirmation.
func (s *Service) Disable2FA(ctx context.Context, callerID int64, password string) *api.Error {
	acct, apiErr := s.verifyPassword(ctx, callerID, password)
	if apiErr != nil {
		return apiErr
	}
	if err := s.store.DeleteSecondFactor(ctx, acct.ID); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor delete failed")
		return api.ErrInternal()
	}
	logging.Ctx(ctx).Info().Int64("user_id", callerID).Msg("Two-factor disabled")
	return nil
}

// RegenerateRecoveryCodes invalidates the old batch and returns a new one.
func (s *Service) RegenerateRecoveryCodes(ctx context.Context, callerID int64, password string) ([]string, *api.Error) {
	acct, apiErr := s.verifyPassword(ctx, callerID, password)
	if apiErr != nil {
		return nil, apiErr
	}

	factor, err := s.store.SecondFactorByAccount(ctx, acct.ID)
	if errors.Is(err, ErrNotFound) || (err == nil && !factor.Confirmed) {
		return nil, api.ErrConflictState("two-factor authentication is not enabled")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Second factor lookup failed")
		return nil, api.ErrInternal()
	}

	return s.generateRecoveryBatch(ctx, acct.ID)
}

// DownloadRecoveryCodes renders codes as a downloadable text artifact.
func (s *Service) DownloadRecoveryCodes(codes []string) *RecoveryCodeArtifact {
	var b strings.Builder
	b.WriteString("ShopMesh recovery codes\n")
	b.WriteString("Generated: " + time.Now().UTC().Format(time.RFC3339) + "\n\n")
	for _, code := range codes {
		b.WriteString(code + "\n")
	}
	b.WriteString("\nEach code can be used once in place of a TOTP code.\n")
	return &RecoveryCodeArtifact{
		Filename:      "shopmesh-recovery-codes.txt",
		ContentType:   "text/plain",
		ContentBase64: base64.StdEncoding.EncodeToString([]byte(b.String())),
	}
}

// Me returns the caller's projection.
func (s *Service) Me(ctx context.Context, callerID int64) (*UserProjection, *api.Error) {
	acct, err := s.store.AccountByID(ctx, callerID)
	if errors.Is(err, ErrNotFound) {
		return nil, api.ErrNotFound("account")
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		return nil, api.ErrInternal()
	}
	return s.projection(ctx, acct), nil
}

// UpdateProfile edits mutable profile fields.
func (s *Service) UpdateProfile(ctx context.Context, callerID int64, email string) (*UserProjection, *api.Error) {
	if err := s.store.UpdateEmail(ctx, callerID, email); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, api.ErrConflictState("email already in use")
		}
		logging.Ctx(ctx).Error().Err(err).Msg("Profile update failed")
		return nil, api.ErrInternal()
	}
	return s.Me(ctx, callerID)
}

// ChangePassword replaces the password and bumps the token version, which
// invalidates every outstanding token. A fresh pair is returned so the
// caller's session survives.
func (s *Service) ChangePassword(ctx context.Context, callerID int64, current, next string) (*auth.TokenPair, *api.Error) {
	acct, apiErr := s.verifyPassword(ctx, callerID, current)
	if apiErr != nil {
		return nil, apiErr
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Password hash failed")
		return nil, api.ErrInternal()
	}
	if err := s.store.SetPassword(ctx, acct.ID, string(hash)); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Password update failed")
		return nil, api.ErrInternal()
	}

	fresh, err := s.store.AccountByID(ctx, acct.ID)
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account reload failed")
		return nil, api.ErrInternal()
	}
	tokens, err := s.signer.IssuePair(s.identity(fresh))
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Token issuance failed")
		return nil, api.ErrInternal()
	}
	logging.Ctx(ctx).Info().Int64("user_id", callerID).Msg("Password changed")
	return &tokens, nil
}

// ValidateUser answers the internal RPC: does the account exist and is it
// in good standing. Negative answers are in-band, never transport errors.
func (s *Service) ValidateUser(ctx context.Context, userID int64, requestingService string) *rpc.ValidateUserResponse {
	acct, err := s.store.AccountByID(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return &rpc.ValidateUserResponse{Valid: false, ErrorMessage: "user not found"}
	}
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Account lookup failed")
		return &rpc.ValidateUserResponse{Valid: false, ErrorMessage: "lookup failed"}
	}

	logging.Ctx(ctx).Debug().
		Int64("user_id", userID).
		Str("requesting_service", requestingService).
		Msg("ValidateUser")

	resp := &rpc.ValidateUserResponse{
		UserID:   acct.ID,
		Username: acct.Username,
		IsActive: acct.IsActive,
		Valid:    acct.IsActive,
	}
	if !acct.IsActive {
		resp.ErrorMessage = "user inactive"
	}
	return resp
}
