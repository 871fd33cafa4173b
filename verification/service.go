package verification

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/joshnel2/aidisputeapp/identity"
)

var (
	// ErrInvalidCode signals the submitted code does not match the pending one.
	// The caller may retry; there is no attempt limit.
	ErrInvalidCode = errors.New("verification: invalid code")
	// ErrUnknownAccount signals the login path was used for a phone that never
	// completed signup verification.
	ErrUnknownAccount = errors.New("verification: no verified account for phone")
)

// Sender delivers a one-time code to a phone number. Implementations are
// external collaborators (SMS providers); delivery failure is recoverable and
// must be surfaced, never swallowed.
type Sender interface {
	Send(ctx context.Context, phone string, code int) error
}

// TokenIssuer mints an authenticated session identity for a verified account.
type TokenIssuer interface {
	Issue(accountID string) (string, error)
}

// Service orchestrates phone verification: code issuance against the identity
// store and an external delivery collaborator, and code confirmation.
type Service struct {
	store   identity.Store
	codes   CodeRepository
	sender  Sender
	tokens  TokenIssuer
	codeGen func() int
}

// NewService wires a verification service. All collaborators are injected;
// the service keeps no ambient state.
func NewService(store identity.Store, codes CodeRepository, sender Sender, tokens TokenIssuer) *Service {
	return &Service{
		store:   store,
		codes:   codes,
		sender:  sender,
		tokens:  tokens,
		codeGen: func() int { return rand.Intn(900000) + 100000 },
	}
}

// ConfirmResult bundles the verified account and its session token.
type ConfirmResult struct {
	Account identity.Account
	Token   string
}

// StartSignup finds or creates the account for the phone and sends a fresh
// verification code tied to the caller's session.
func (s *Service) StartSignup(ctx context.Context, sessionID, phone string) error {
	if sessionID == "" || phone == "" {
		return fmt.Errorf("verification: session id and phone are required")
	}

	if _, err := s.store.FindOrCreateAccount(ctx, phone); err != nil {
		return err
	}

	return s.sendCode(ctx, sessionID, phone)
}

// StartLogin sends a fresh code to an already-verified account. Unknown or
// unverified phones get ErrUnknownAccount so the caller can redirect to signup.
func (s *Service) StartLogin(ctx context.Context, sessionID, phone string) error {
	if sessionID == "" || phone == "" {
		return fmt.Errorf("verification: session id and phone are required")
	}

	if _, err := s.store.FindVerifiedAccount(ctx, phone); err != nil {
		if errors.Is(err, identity.ErrAccountNotFound) {
			return ErrUnknownAccount
		}
		return err
	}

	return s.sendCode(ctx, sessionID, phone)
}

// ConfirmCode compares the submitted code against the pending one for the
// session. On match it marks the account verified and issues a session token.
// On mismatch the pending code stays in place and the caller may retry.
func (s *Service) ConfirmCode(ctx context.Context, sessionID string, code int) (ConfirmResult, error) {
	pending, err := s.codes.Get(ctx, sessionID)
	if err != nil {
		return ConfirmResult{}, err
	}

	if code != pending.Code {
		return ConfirmResult{}, ErrInvalidCode
	}

	acct, err := s.store.MarkVerified(ctx, pending.Phone)
	if err != nil {
		return ConfirmResult{}, err
	}

	token, err := s.tokens.Issue(acct.ID)
	if err != nil {
		return ConfirmResult{}, err
	}

	return ConfirmResult{Account: acct, Token: token}, nil
}

func (s *Service) sendCode(ctx context.Context, sessionID, phone string) error {
	code := s.codeGen()

	// The code is persisted before delivery; a delivery failure leaves it in
	// place for the next attempt while the error is surfaced to the caller.
	if err := s.codes.Put(ctx, PendingCode{SessionID: sessionID, Phone: phone, Code: code}); err != nil {
		return err
	}

	if err := s.sender.Send(ctx, phone, code); err != nil {
		return fmt.Errorf("verification: deliver code: %w", err)
	}
	return nil
}
