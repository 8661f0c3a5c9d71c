package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/holiman/uint256"

	"lendledger/core"
	"lendledger/core/events"
	"lendledger/core/types"
	"lendledger/crypto"
	"lendledger/native/ledger"
	"lendledger/native/token"
	"lendledger/services/ledgerd/journal"
	"lendledger/services/ledgerd/middleware"
)

const maxBodyBytes = 1 << 20

// Ledger is the execution surface the HTTP layer drives. *core.Host
// satisfies it.
type Ledger interface {
	Initialize(ctx context.Context, caller crypto.Address) (*core.Receipt, error)
	InitializeUser(ctx context.Context, caller crypto.Address) (*core.Receipt, error)
	AddAcceptedCollateral(ctx context.Context, caller crypto.Address, ticker, mintAddress, poolAddress, image string) (*core.Receipt, error)
	DepositCollateral(ctx context.Context, caller crypto.Address, amount *uint256.Int, tokenAddress string) (*core.Receipt, error)
	WithdrawCollateral(ctx context.Context, caller crypto.Address, amount *uint256.Int, tokenAddress string) (*core.Receipt, error)
	CreateLoan(ctx context.Context, caller crypto.Address, duration, interestRate uint64, amount *uint256.Int, tokenAddress string) (*core.Receipt, error)
	AcceptLoan(ctx context.Context, caller crypto.Address, loanIdx uint64, tokenAddress string) (*core.Receipt, error)
	Approve(ctx context.Context, caller crypto.Address, tokenAddress string, amount *uint256.Int) (*core.Receipt, error)

	AdminProfile() (*ledger.AdminProfile, error)
	UserProfile(addr crypto.Address) (*ledger.UserProfile, error)
	Loan(addr crypto.Address) (*ledger.Loan, error)
	AcceptedCollaterals() ([]*ledger.AcceptedCollateral, error)
	Balance(tokenAddress string, addr crypto.Address) (*uint256.Int, error)
	Token(tokenAddress string) (*token.Metadata, error)
}

// EventStore serves journaled history.
type EventStore interface {
	Query(ctx context.Context, filter journal.Filter) ([]events.Record, error)
}

// EventStream serves live committed records.
type EventStream interface {
	Subscribe(ctx context.Context, cursor string) (<-chan events.Record, func(), []events.Record)
	Subscribers() int
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Ledger        Ledger
	Journal       EventStore
	Stream        EventStream
	Auth          *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	Logger        *slog.Logger
	OnSubscribers func(int)
}

// Server exposes the ledger over HTTP.
type Server struct {
	ledger        Ledger
	journal       EventStore
	stream        EventStream
	auth          *middleware.Authenticator
	limiter       *middleware.RateLimiter
	obs           *middleware.Observability
	logger        *slog.Logger
	onSubscribers func(int)

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("server: ledger is required")
	}
	if cfg.Auth == nil {
		return nil, errors.New("server: authenticator is required")
	}
	srv := &Server{
		ledger:        cfg.Ledger,
		journal:       cfg.Journal,
		stream:        cfg.Stream,
		auth:          cfg.Auth,
		limiter:       cfg.RateLimiter,
		obs:           cfg.Observability,
		logger:        cfg.Logger,
		onSubscribers: cfg.OnSubscribers,
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.obs == nil {
		srv.obs = middleware.NewObservability(middleware.ObservabilityConfig{}, nil, srv.logger)
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	route := func(name string, h http.HandlerFunc) http.Handler {
		return s.obs.Middleware(name)(s.limiter.Middleware(name)(h))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(protected chi.Router) {
			protected.Use(s.auth.Middleware)
			protected.Method(http.MethodPost, "/ledger/initialize", route("initialize", s.handleInitialize))
			protected.Method(http.MethodPost, "/ledger/users", route("initialize_user", s.handleInitializeUser))
			protected.Method(http.MethodPost, "/ledger/collateral/accepted", route("add_collateral", s.handleAddCollateral))
			protected.Method(http.MethodPost, "/ledger/collateral/deposit", route("deposit_collateral", s.handleDeposit))
			protected.Method(http.MethodPost, "/ledger/collateral/withdraw", route("withdraw_collateral", s.handleWithdraw))
			protected.Method(http.MethodPost, "/ledger/loans", route("create_loan", s.handleCreateLoan))
			protected.Method(http.MethodPost, "/ledger/loans/accept", route("accept_loan", s.handleAcceptLoan))
			protected.Method(http.MethodPost, "/tokens/approve", route("approve", s.handleApprove))
		})
		api.Method(http.MethodGet, "/ledger/admin", route("admin", s.handleAdmin))
		api.Method(http.MethodGet, "/ledger/collateral/accepted", route("collaterals", s.handleCollaterals))
		api.Method(http.MethodGet, "/ledger/users/{address}", route("user", s.handleUser))
		api.Method(http.MethodGet, "/ledger/loans/{address}", route("loan", s.handleLoan))
		api.Method(http.MethodGet, "/tokens/{token}/balances/{address}", route("balance", s.handleBalance))
		api.Method(http.MethodGet, "/events", route("events", s.handleEvents))
		api.Method(http.MethodGet, "/events/stream", route("events_stream", s.handleEventStream))
	})
	return r
}

func callerFrom(r *http.Request) (crypto.Address, error) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		return crypto.Address{}, fmt.Errorf("%w: caller identity missing", ledger.ErrUnauthorized)
	}
	return identity, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body required", errBadRequest)
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	amount, err := types.ParseAmount(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: amount: %w", errBadRequest, err)
	}
	return amount, nil
}

func parseAddressParam(r *http.Request, name string) (crypto.Address, error) {
	addr, err := crypto.ParseIdentity(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s: %w", errBadRequest, name, err)
	}
	return addr, nil
}

func requireToken(tokenAddress string) (string, error) {
	trimmed := strings.TrimSpace(tokenAddress)
	if trimmed == "" {
		return "", fmt.Errorf("%w: tokenAddress required", errBadRequest)
	}
	return trimmed, nil
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.Initialize(r.Context(), caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := receiptView(receipt)
	if admin, err := s.ledger.AdminProfile(); err == nil {
		view.Admin = adminView(admin)
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleInitializeUser(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.InitializeUser(r.Context(), caller)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.withProfile(receiptView(receipt), caller))
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req collateralRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.AddAcceptedCollateral(r.Context(), caller, req.Ticker, req.MintAddress, req.PoolAddress, req.Image)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receiptView(receipt))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, s.ledger.DepositCollateral)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, s.ledger.WithdrawCollateral)
}

type movementFunc func(ctx context.Context, caller crypto.Address, amount *uint256.Int, tokenAddress string) (*core.Receipt, error)

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request, move movementFunc) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req movementRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	tokenAddress, err := requireToken(req.TokenAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := move(r.Context(), caller, amount, tokenAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withProfile(receiptView(receipt), caller))
}

func (s *Server) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req createLoanRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.CreateLoan(r.Context(), caller, req.Duration, req.InterestRate, amount, strings.TrimSpace(req.TokenAddress))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.withLoan(receiptView(receipt), caller))
}

func (s *Server) handleAcceptLoan(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req acceptLoanRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.AcceptLoan(r.Context(), caller, req.LoanIdx, req.TokenAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.withLoan(receiptView(receipt), caller))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req approveRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	amount, err := types.ParseAmount(strings.TrimSpace(req.Amount))
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: amount: %w", errBadRequest, err))
		return
	}
	tokenAddress, err := requireToken(req.TokenAddress)
	if err != nil {
		s.writeError(w, err)
		return
	}
	receipt, err := s.ledger.Approve(r.Context(), caller, tokenAddress, amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView(receipt))
}

func (s *Server) withProfile(view *ReceiptView, caller crypto.Address) *ReceiptView {
	if profile, err := s.ledger.UserProfile(caller); err == nil {
		view.Profile = userView(profile)
	}
	return view
}

func (s *Server) withLoan(view *ReceiptView, caller crypto.Address) *ReceiptView {
	if loan, err := s.ledger.Loan(caller); err == nil {
		view.Loan = loanView(loan)
	}
	return view
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	admin, err := s.ledger.AdminProfile()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminView(admin))
}

func (s *Server) handleCollaterals(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.AcceptedCollaterals()
	if err != nil {
		s.writeError(w, err)
		return
	}
	views := make([]CollateralView, 0, len(entries))
	for _, entry := range entries {
		views = append(views, collateralView(entry))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collaterals": views})
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	profile, err := s.ledger.UserProfile(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(profile))
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	loan, err := s.ledger.Loan(addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanView(loan))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddressParam(r, "address")
	if err != nil {
		s.writeError(w, err)
		return
	}
	tokenAddress := chi.URLParam(r, "token")
	balance, err := s.ledger.Balance(tokenAddress, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := BalanceView{
		Token:   tokenAddress,
		Address: addr.String(),
		Balance: types.FormatAmount(balance),
	}
	if meta, err := s.ledger.Token(tokenAddress); err == nil {
		view.Symbol = meta.Symbol
		view.Decimals = meta.Decimals
		view.Formatted = formatUnits(balance, meta.Decimals)
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "event journal disabled"})
		return
	}
	query := r.URL.Query()
	filter := journal.Filter{
		Action: query.Get("action"),
		Caller: query.Get("caller"),
		CallID: query.Get("call_id"),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, fmt.Errorf("%w: invalid limit", errBadRequest))
			return
		}
		filter.Limit = limit
	}
	if raw := strings.TrimSpace(query.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: invalid after", errBadRequest))
			return
		}
		filter.AfterID = after
	}
	records, err := s.journal.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EventsView{Events: records})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := toHTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("ledgerd: request failed", slog.String("error", err.Error()))
		message = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": message})
}
