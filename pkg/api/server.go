// Package api exposes the exchange over HTTP and a websocket feed.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/custodex/pkg/app/core"
	"github.com/uhyunpark/custodex/pkg/app/core/transaction"
	"github.com/uhyunpark/custodex/pkg/app/exchange"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
	maxBodyBytes      = 1 << 16
)

// NativeBank moves native currency between host accounts. Native deposits
// collect the attached value from it before the exchange credits them.
type NativeBank interface {
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

type Server struct {
	x        *exchange.Exchange
	verifier *transaction.Verifier
	bank     NativeBank
	router   *mux.Router
	hub      *Hub
	log      *zap.Logger
	origins  []string
}

// NewServer wires the routes. hub may be shared with the exchange's sink;
// a nil hub gets a private one.
func NewServer(x *exchange.Exchange, verifier *transaction.Verifier, bank NativeBank, hub *Hub, origins []string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{
		x:        x,
		verifier: verifier,
		bank:     bank,
		router:   mux.NewRouter(),
		hub:      hub,
		log:      log,
		origins:  origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/exchange", s.handleExchange).Methods("GET")
	api.HandleFunc("/balances/{account}/{asset}", s.handleBalance).Methods("GET")
	api.HandleFunc("/orders/count", s.handleOrderCount).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleOrder).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/fee", s.handleFeeQuote).Methods("GET")
	api.HandleFunc("/trades", s.handleTrades).Methods("GET")
	api.HandleFunc("/actions", s.handleAction).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler is the CORS-wrapped router.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api_listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "api server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.log.Info("api_shutting_down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if s.x.Halted() != nil {
		status, code = "halted", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]any{"status": status, "time": time.Now().Unix()})
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	domain := s.verifier.Domain()
	respondJSON(w, http.StatusOK, ExchangeInfo{
		Custody:    s.x.Custody(),
		FeeAccount: s.x.FeeAccount(),
		FeePercent: s.x.FeePercent(),
		OrderCount: s.x.OrderCount(r.Context()),
		ChainID:    domain.ChainID.String(),
		Halted:     s.x.Halted() != nil,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["account"]) {
		respondError(w, http.StatusBadRequest, "invalid account", vars["account"])
		return
	}
	asset, err := core.ParseAsset(vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	account := common.HexToAddress(vars["account"])
	respondJSON(w, http.StatusOK, BalanceResponse{
		Asset:   asset,
		Account: account,
		Balance: s.x.BalanceOf(r.Context(), asset, account),
	})
}

func (s *Server) handleOrderCount(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CountResponse{Count: s.x.OrderCount(r.Context())})
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, found := s.x.Order(r.Context(), id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", core.ErrOrderNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (s *Server) handleFeeQuote(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	o, found := s.x.Order(r.Context(), id)
	if !found {
		respondError(w, http.StatusNotFound, "order not found", core.ErrOrderNotFound.Error())
		return
	}
	fee := s.x.Fee(o.BuyAmount)
	total, err := core.Add(o.BuyAmount, fee)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, "fee quote", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, FeeQuote{OrderID: id, BuyAmount: o.BuyAmount, Fee: fee, Total: total})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradeLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		limit = min(n, maxTradeLimit)
	}
	trades, err := s.x.RecentTrades(r.Context(), limit)
	if err != nil {
		s.log.Error("recent_trades_failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}
	if trades == nil {
		trades = []*core.TradeEvent{}
	}
	respondJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	tx, err := transaction.Deserialize(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	action, err := s.verifier.Verify(tx)
	if err != nil {
		s.respondFailure(w, "verify", err)
		return
	}

	resp, err := s.dispatch(r.Context(), action)
	if err != nil {
		s.log.Info("action_rejected",
			zap.String("action", string(action.Type)),
			zap.String("account", action.Account.Hex()),
			zap.Uint64("nonce", action.Nonce),
			zap.String("kind", core.KindOf(err)),
			zap.Error(err),
		)
		s.respondFailure(w, string(action.Type), err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// dispatch runs a verified action against the exchange.
func (s *Server) dispatch(ctx context.Context, a *transaction.Action) (*ActionResponse, error) {
	resp := &ActionResponse{Action: string(a.Type), Account: a.Account.Hex(), Nonce: a.Nonce}
	var (
		result any
		err    error
	)
	switch a.Type {
	case transaction.ActionDepositNative:
		result, err = s.depositNative(ctx, a.Account, a.Amount)
	case transaction.ActionWithdrawNative:
		result, err = s.x.WithdrawNative(ctx, a.Account, a.Amount)
	case transaction.ActionDepositToken:
		result, err = s.x.DepositToken(ctx, a.Account, a.Asset, a.Amount)
	case transaction.ActionWithdrawToken:
		result, err = s.x.WithdrawToken(ctx, a.Account, a.Asset, a.Amount)
	case transaction.ActionMakeOrder:
		var id uint64
		id, err = s.x.MakeOrder(ctx, a.Account, a.BuyAsset, a.BuyAmount, a.SellAsset, a.SellAmount)
		resp.OrderID = id
	case transaction.ActionCancelOrder:
		result, err = s.x.CancelOrder(ctx, a.Account, a.OrderID)
		resp.OrderID = a.OrderID
	case transaction.ActionFillOrder:
		result, err = s.x.FillOrder(ctx, a.Account, a.OrderID)
		resp.OrderID = a.OrderID
	default:
		err = errors.Mark(errors.Newf("unknown action %q", a.Type), transaction.ErrMalformedAction)
	}
	if err != nil {
		return nil, err
	}
	resp.Result = result
	return resp, nil
}

// depositNative collects the value from the caller's host account, then
// credits it. A failed credit hands the value back.
func (s *Server) depositNative(ctx context.Context, from common.Address, amount *uint256.Int) (*core.DepositEvent, error) {
	if s.bank == nil {
		return nil, errors.New("native deposits are not available")
	}
	custody := s.x.Custody()
	if err := s.bank.Transfer(ctx, from, custody, amount); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "collect native value"), core.ErrInsufficientExternalBalance)
	}
	ev, err := s.x.DepositNative(ctx, from, amount)
	if err != nil {
		if rerr := s.bank.Transfer(ctx, custody, from, amount); rerr != nil {
			s.log.Error("native_refund_failed", zap.String("account", from.Hex()), zap.String("amount", amount.Dec()), zap.Error(rerr))
			return nil, errors.CombineErrors(err, rerr)
		}
		return nil, err
	}
	return ev, nil
}

func (s *Server) respondFailure(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	kind := core.KindOf(err)
	switch {
	case errors.Is(err, transaction.ErrMalformedAction):
		kind = "MalformedAction"
	case errors.Is(err, transaction.ErrInvalidSignature):
		kind = "InvalidSignature"
	case errors.Is(err, transaction.ErrSignerMismatch):
		kind = "SignerMismatch"
	case errors.Is(err, transaction.ErrNonceUsed):
		kind = "NonceUsed"
	}
	if status == http.StatusInternalServerError {
		s.log.Error("action_failed", zap.String("op", op), zap.Error(err))
	}
	respondJSON(w, status, ErrorResponse{Error: op + " failed", Kind: kind, Message: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, transaction.ErrMalformedAction), errors.Is(err, transaction.ErrNonceUsed):
		return http.StatusBadRequest
	case errors.Is(err, transaction.ErrInvalidSignature), errors.Is(err, transaction.ErrSignerMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrHalted):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotOrderOwner):
		return http.StatusForbidden
	case errors.Is(err, core.ErrOrderAlreadyFinalized):
		return http.StatusConflict
	case core.KindOf(err) != "Internal":
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func orderID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", raw)
		return 0, false
	}
	return id, true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg, message string) {
	respondJSON(w, status, ErrorResponse{Error: msg, Message: message})
}
