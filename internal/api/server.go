package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/klingon-exchange/walletd/internal/query"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/logging"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// Server is the Command/Query Facade's HTTP transport. Identity and
// authentication are an external collaborator (spec §1); this server
// trusts an upstream proxy to have authenticated the caller and to
// forward the resulting principal in the X-User-Id / X-Phone-Number
// headers on every request.
type Server struct {
	facade *Facade
	wsHub  *WSHub
	log    *logging.Logger

	server   *http.Server
	listener net.Listener
}

// NewServer builds a Server over facade. wsHub may be nil if the caller
// doesn't want to expose /ws.
func NewServer(facade *Facade, wsHub *WSHub) *Server {
	return &Server{
		facade: facade,
		wsHub:  wsHub,
		log:    logging.GetDefault().Component("api"),
	}
}

// WSHub returns the server's WebSocket hub, if any.
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /wallets", s.handleCreateWallet)
	mux.HandleFunc("POST /transfers", s.handleTransfer)
	mux.HandleFunc("POST /transfers/action", s.handleProcessAction)
	mux.HandleFunc("POST /cash-out/request", s.handleCashOutRequest)
	mux.HandleFunc("POST /cash-out/verify", s.handleCashOutVerify)
	mux.HandleFunc("POST /webhooks/deposit", s.handleDepositWebhook)
	mux.HandleFunc("GET /transactions", s.handleListTransactions)
	mux.HandleFunc("GET /transactions/{id}", s.handleGetTransaction)

	if s.wsHub != nil {
		mux.HandleFunc("GET /ws", s.wsHub.handleWS)
	}

	return mux
}

// Start begins serving addr in the background.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	s.server = &http.Server{
		Handler:      corsMiddleware(s.mux()),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()

	s.log.Info("api server started", "addr", addr)
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Idempotency-Key, X-User-Id, X-Phone-Number, X-Paysend-Signature")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// principalFromRequest extracts the authenticated caller the identity
// collaborator attached to the request.
func principalFromRequest(r *http.Request) Principal {
	return Principal{
		UserID:      r.Header.Get("X-User-Id"),
		PhoneNumber: r.Header.Get("X-Phone-Number"),
	}
}

// sourceIP returns the connecting client's address, preferring
// X-Forwarded-For (set by a trusted reverse proxy) over RemoteAddr.
func sourceIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}

// writeError writes the {"detail": ...} error body spec §7 requires,
// deriving the HTTP status from the error's apperr.Kind.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := apperr.StatusOf(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}

func (s *Server) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.facade.CreateWallet(r.Context(), principalFromRequest(r), CreateWalletRequest{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wallet)
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	resp, err := s.facade.Transfer(r.Context(), principalFromRequest(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProcessAction(w http.ResponseWriter, r *http.Request) {
	var req ProcessActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	resp, err := s.facade.ProcessAction(r.Context(), principalFromRequest(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCashOutRequest(w http.ResponseWriter, r *http.Request) {
	var req CashOutRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	resp, err := s.facade.CashOutRequest(r.Context(), principalFromRequest(r), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCashOutVerify(w http.ResponseWriter, r *http.Request) {
	var req CashOutVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindBadRequest, "invalid request body", err))
		return
	}
	resp, err := s.facade.CashOutVerify(r.Context(), sourceIP(r), r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDepositWebhook(w http.ResponseWriter, r *http.Request) {
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.KindBadRequest, "failed to read request body", err))
		return
	}
	resp, err := s.facade.IngestDepositWebhook(r.Context(), sourceIP(r), r.Header.Get("X-Paysend-Signature"), r.Header.Get("Idempotency-Key"), rawBody)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))

	filter := query.Filter{
		Type:   q.Get("type"),
		Status: q.Get("status"),
	}
	if from := q.Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.From = t
		}
	}
	if to := q.Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.To = t
		}
	}
	if min := q.Get("min_amount"); min != "" {
		if amt, err := money.NewFromString(min); err == nil {
			filter.MinAmount = amt
		}
	}
	if max := q.Get("max_amount"); max != "" {
		if amt, err := money.NewFromString(max); err == nil {
			filter.MaxAmount = amt
		}
	}

	page_, err := s.facade.ListTransactions(r.Context(), principalFromRequest(r), ListTransactionsRequest{
		Filter:   filter,
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page_)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	txn, err := s.facade.GetTransaction(r.Context(), principalFromRequest(r), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, txn)
}
