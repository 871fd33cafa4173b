package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/joshnel2/aidisputeapp/ledger"
	"github.com/joshnel2/aidisputeapp/verification"
	"github.com/joshnel2/aidisputeapp/workflow"
)

const sessionHeader = "X-Session-ID"

// VerificationService is the slice of verification.Service the API uses.
type VerificationService interface {
	StartSignup(ctx context.Context, sessionID, phone string) error
	StartLogin(ctx context.Context, sessionID, phone string) error
	ConfirmCode(ctx context.Context, sessionID string, code int) (verification.ConfirmResult, error)
}

// WorkflowService is the slice of workflow.Service the API uses.
type WorkflowService interface {
	CreateDispute(ctx context.Context, creatorAccountID string) (workflow.CreatedDispute, error)
	JoinDispute(ctx context.Context, accountID, disputeID string) (ledger.Party, error)
	SubmitTruth(ctx context.Context, accountID, disputeID, truth, paymentToken string) (workflow.SubmitOutcome, error)
	DisputeView(ctx context.Context, disputeID string) (workflow.View, error)
}

// TokenVerifier resolves a bearer token to an account id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Server maps inbound requests to account identities and hands them to the
// core services. It owns no business logic.
type Server struct {
	verification VerificationService
	workflow     WorkflowService
	sessions     TokenVerifier
}

// Routes registers the API surface.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/signup", s.handleSignup)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/verify", s.handleVerify)
	mux.HandleFunc("/api/disputes", s.handleCreateDispute)
	mux.HandleFunc("/api/disputes/", s.handleDispute)
	mux.HandleFunc("/dispute/join/", s.handleJoin)
	return mux
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type sessionResponse struct {
	SessionID string `json:"session_id"`
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, s.verification.StartSignup)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	s.handleStart(w, r, s.verification.StartLogin)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, start func(context.Context, string, string) error) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Phone == "" {
		writeError(w, http.StatusBadRequest, "phone is required")
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	if err := start(r.Context(), sessionID, req.Phone); err != nil {
		if errors.Is(err, verification.ErrUnknownAccount) {
			writeError(w, http.StatusNotFound, "sign up first")
			return
		}
		writeError(w, http.StatusBadGateway, "could not deliver verification code")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{SessionID: sessionID})
}

type verifyRequest struct {
	Code int `json:"code"`
}

type verifyResponse struct {
	Token     string `json:"token"`
	AccountID string `json:"account_id"`
	Phone     string `json:"phone"`
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := r.Header.Get(sessionHeader)
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	result, err := s.verification.ConfirmCode(r.Context(), sessionID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, verification.ErrInvalidCode):
			writeError(w, http.StatusUnauthorized, "invalid code")
		case errors.Is(err, verification.ErrNoPendingCode):
			writeError(w, http.StatusNotFound, "no verification in progress")
		default:
			writeError(w, http.StatusInternalServerError, "verification failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Token:     result.Token,
		AccountID: result.Account.ID,
		Phone:     result.Account.Phone,
	})
}

type disputeResponse struct {
	DisputeID string          `json:"dispute_id"`
	Status    string          `json:"status"`
	JoinRef   string          `json:"join_ref"`
	Parties   []partyResponse `json:"parties"`
	Verdict   *string         `json:"verdict,omitempty"`
}

type partyResponse struct {
	Phone     string `json:"phone"`
	Submitted bool   `json:"submitted"`
}

func (s *Server) handleCreateDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	accountID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	created, err := s.workflow.CreateDispute(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not create dispute")
		return
	}

	writeJSON(w, http.StatusCreated, disputeResponse{
		DisputeID: created.Dispute.ID,
		Status:    string(created.Dispute.Status),
		JoinRef:   created.JoinRef,
		Parties:   []partyResponse{},
	})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "dispute id is required")
		return
	}

	if disputeID, found := strings.CutSuffix(rest, "/submit"); found {
		s.handleSubmit(w, r, strings.TrimSuffix(disputeID, "/"))
		return
	}

	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	view, err := s.workflow.DisputeView(r.Context(), rest)
	if err != nil {
		if errors.Is(err, ledger.ErrDisputeNotFound) {
			writeError(w, http.StatusNotFound, "dispute not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not load dispute")
		return
	}

	writeJSON(w, http.StatusOK, viewToResponse(view))
}

// handleJoin is the shareable join reference. Anonymous callers are told to
// authenticate first; the join itself is only recorded for a verified account.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	disputeID := strings.TrimPrefix(r.URL.Path, "/dispute/join/")
	if disputeID == "" {
		writeError(w, http.StatusBadRequest, "dispute id is required")
		return
	}

	accountID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	if _, err := s.workflow.JoinDispute(r.Context(), accountID, disputeID); err != nil {
		if errors.Is(err, ledger.ErrDisputeNotFound) {
			writeError(w, http.StatusNotFound, "dispute not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "could not join dispute")
		return
	}

	view, err := s.workflow.DisputeView(r.Context(), disputeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load dispute")
		return
	}
	writeJSON(w, http.StatusOK, viewToResponse(view))
}

type submitRequest struct {
	Truth        string `json:"truth"`
	PaymentToken string `json:"payment_token"`
}

type submitResponse struct {
	Submitted        bool    `json:"submitted"`
	AlreadySubmitted bool    `json:"already_submitted,omitempty"`
	ReceiptID        string  `json:"receipt_id,omitempty"`
	Verdict          *string `json:"verdict,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, disputeID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	accountID, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Truth == "" {
		writeError(w, http.StatusBadRequest, "truth is required")
		return
	}

	outcome, err := s.workflow.SubmitTruth(r.Context(), accountID, disputeID, req.Truth, req.PaymentToken)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrAlreadySubmitted):
			// Not a real error to the user: a no-op notice.
			writeJSON(w, http.StatusOK, submitResponse{Submitted: true, AlreadySubmitted: true})
		case errors.Is(err, ledger.ErrNotAParty):
			writeError(w, http.StatusForbidden, "join the dispute first")
		case errors.Is(err, ledger.ErrDisputeNotFound):
			writeError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, workflow.ErrPaymentFailed):
			writeError(w, http.StatusPaymentRequired, "payment failed")
		default:
			writeError(w, http.StatusInternalServerError, "could not submit truth")
		}
		return
	}

	resp := submitResponse{Submitted: true, ReceiptID: outcome.Receipt.ID}
	if outcome.Resolution != nil {
		resp.Verdict = &outcome.Resolution.Verdict
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	accountID, err := s.sessions.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return "", false
	}
	return accountID, true
}

func viewToResponse(view workflow.View) disputeResponse {
	parties := make([]partyResponse, 0, len(view.Parties))
	for _, p := range view.Parties {
		parties = append(parties, partyResponse{Phone: p.Phone, Submitted: p.Submitted})
	}

	resp := disputeResponse{
		DisputeID: view.Dispute.ID,
		Status:    string(view.Dispute.Status),
		JoinRef:   view.JoinRef,
		Parties:   parties,
	}
	if view.Resolution != nil {
		resp.Verdict = &view.Resolution.Verdict
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
