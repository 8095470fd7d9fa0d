package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"

	"contract-lab/contract"
	"contract-lab/models"
	"contract-lab/registry"
	"contract-lab/service"
)

// Server exposes the simulator over HTTP. Callers are given either as a
// registry account name or as a hex address.
type Server struct {
	sim        *service.Simulator
	accounts   registry.AccountRegistry
	router     *mux.Router
	log        *logrus.Logger
	httpServer *http.Server
}

type DepositRequest struct {
	Variant string `json:"variant,omitempty"`
	Caller  string `json:"caller"`
	Amount  string `json:"amount"`
}

type WithdrawRequest struct {
	Variant string `json:"variant,omitempty"`
	Caller  string `json:"caller"`
}

type TransferRequest struct {
	Variant string `json:"variant,omitempty"`
	Caller  string `json:"caller"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
}

type ChangeOwnerRequest struct {
	Variant  string `json:"variant,omitempty"`
	Caller   string `json:"caller"`
	NewOwner string `json:"new_owner"`
}

type RegisterCandidateRequest struct {
	Variant string `json:"variant,omitempty"`
	Caller  string `json:"caller"`
	Name    string `json:"name"`
}

type VoteRequest struct {
	Variant        string `json:"variant,omitempty"`
	Caller         string `json:"caller"`
	CandidateIndex int    `json:"candidate_index"`
}

type ExecuteRequest struct {
	Variant string          `json:"variant,omitempty"`
	Caller  string          `json:"caller"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

type RegisterRequest struct {
	Variant  string `json:"variant,omitempty"`
	Caller   string `json:"caller"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type VerifyUserRequest struct {
	Variant  string `json:"variant,omitempty"`
	Account  string `json:"account"`
	Password string `json:"password"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type WinnerResponse struct {
	Winner string `json:"winner"`
}

type DivideResponse struct {
	Quotient string `json:"quotient"`
	Scale    string `json:"scale"`
}

type LuckyResponse struct {
	Lucky bool `json:"lucky"`
}

type VerifyUserResponse struct {
	Match bool `json:"match"`
}

type BalanceResponse struct {
	Account  string `json:"account"`
	Balance  string `json:"balance"`
	External string `json:"external"`
}

type StateResponse struct {
	Secure     *contract.State `json:"secure"`
	Vulnerable *contract.State `json:"vulnerable"`
}

type EventsResponse struct {
	Count      int            `json:"count"`
	ChainValid bool           `json:"chain_valid"`
	Events     []models.Event `json:"events"`
}

// NewServer wires the routes.
func NewServer(sim *service.Simulator, accounts registry.AccountRegistry, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	s := &Server{
		sim:      sim,
		accounts: accounts,
		router:   mux.NewRouter(),
		log:      log,
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
	api.HandleFunc("/owner", s.handleChangeOwner).Methods(http.MethodPost)
	api.HandleFunc("/candidates", s.handleRegisterCandidate).Methods(http.MethodPost)
	api.HandleFunc("/vote", s.handleVote).Methods(http.MethodPost)
	api.HandleFunc("/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/verify", s.handleVerifyUser).Methods(http.MethodPost)

	api.HandleFunc("/winner", s.handleWinner).Methods(http.MethodGet)
	api.HandleFunc("/divide", s.handleDivide).Methods(http.MethodGet)
	api.HandleFunc("/lucky", s.handleLucky).Methods(http.MethodGet)
	api.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/accounts", s.handleAccounts).Methods(http.MethodGet)

	return s
}

// Router exposes the handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.log.WithField("addr", addr).Info("contract lab API listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func variantOf(raw string) (service.Variant, error) {
	switch raw {
	case "", string(service.VariantSecure):
		return service.VariantSecure, nil
	case string(service.VariantVulnerable):
		return service.VariantVulnerable, nil
	default:
		return "", fmt.Errorf("unknown variant %q", raw)
	}
}

// resolveAccount accepts a hex address or a registry account name.
func (s *Server) resolveAccount(value string) (common.Address, error) {
	if value == "" {
		return common.Address{}, errors.New("account is required")
	}
	if common.IsHexAddress(value) {
		return common.HexToAddress(value), nil
	}
	return s.accounts.Resolve(value)
}

func parseAmount(value string) (*uint256.Int, error) {
	if value == "" {
		return nil, errors.New("amount is required")
	}
	amount, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// statusFor maps the error taxonomy to HTTP codes: rejected preconditions
// are the caller's fault, failed delegations and payouts are reported as
// unprocessable, anything else is internal.
func statusFor(err error) int {
	var preconditionErr *contract.PreconditionError
	var delegationErr *contract.DelegationError
	var transferErr *contract.TransferError
	switch {
	case errors.As(err, &preconditionErr):
		return http.StatusBadRequest
	case errors.As(err, &delegationErr), errors.As(err, &transferErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Deposit(variant, caller, amount); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Withdraw(variant, caller); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	to, err := s.resolveAccount(req.To)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Transfer(variant, caller, to, amount); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleChangeOwner(w http.ResponseWriter, r *http.Request) {
	var req ChangeOwnerRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	newOwner, err := s.resolveAccount(req.NewOwner)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.ChangeOwner(variant, caller, newOwner); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRegisterCandidate(w http.ResponseWriter, r *http.Request) {
	var req RegisterCandidateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.RegisterCandidate(variant, caller, req.Name); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Vote(variant, caller, req.CandidateIndex); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	target, err := s.resolveAccount(req.Target)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Execute(variant, caller, target, req.Payload); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(req.Caller)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sim.Register(variant, caller, req.Username, req.Password); err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

func (s *Server) handleVerifyUser(w http.ResponseWriter, r *http.Request) {
	var req VerifyUserRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	variant, err := variantOf(req.Variant)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.resolveAccount(req.Account)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	match := s.sim.VerifyUser(variant, account, req.Password)
	s.writeJSON(w, http.StatusOK, VerifyUserResponse{Match: match})
}

func (s *Server) handleWinner(w http.ResponseWriter, r *http.Request) {
	variant, err := variantOf(r.URL.Query().Get("variant"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	winner, err := s.sim.FindWinner(variant)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, WinnerResponse{Winner: winner})
}

func (s *Server) handleDivide(w http.ResponseWriter, r *http.Request) {
	variant, err := variantOf(r.URL.Query().Get("variant"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	a, err := parseAmount(r.URL.Query().Get("a"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := parseAmount(r.URL.Query().Get("b"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	quotient, err := s.sim.Divide(variant, a, b)
	if err != nil {
		s.writeError(w, statusFor(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, DivideResponse{
		Quotient: quotient.Dec(),
		Scale:    contract.Scale.Dec(),
	})
}

func (s *Server) handleLucky(w http.ResponseWriter, r *http.Request) {
	variant, err := variantOf(r.URL.Query().Get("variant"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, err := s.resolveAccount(r.URL.Query().Get("caller"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, LuckyResponse{Lucky: s.sim.IsLuckyWinner(variant, caller)})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	variant, err := variantOf(r.URL.Query().Get("variant"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := s.resolveAccount(r.URL.Query().Get("account"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, BalanceResponse{
		Account:  account.Hex(),
		Balance:  s.sim.BalanceOf(variant, account).Dec(),
		External: s.sim.ExternalBalanceOf(account).Dec(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StateResponse{
		Secure:     s.sim.StateCopy(service.VariantSecure),
		Vulnerable: s.sim.StateCopy(service.VariantVulnerable),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.sim.Events()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	limit := len(events)
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", rawLimit))
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{
		Count:      len(events),
		ChainValid: s.sim.ChainValid(),
		Events:     events[len(events)-limit:],
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.sim.Metrics())
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	names := s.accounts.Names()
	response := make(map[string]string, len(names))
	for _, name := range names {
		address, err := s.accounts.Resolve(name)
		if err != nil {
			continue
		}
		response[name] = address.Hex()
	}
	s.writeJSON(w, http.StatusOK, response)
}
