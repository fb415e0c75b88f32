// Package api implements the Command/Query Facade (spec §4, item 10):
// the narrow surface the HTTP layer calls, and the HTTP/WebSocket
// transport that exposes it.
package api

import (
	"context"
	"encoding/json"

	"github.com/klingon-exchange/walletd/internal/ledger"
	"github.com/klingon-exchange/walletd/internal/query"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/internal/webhook"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// cashOutVerifyScope partitions the Facade's CashOutVerify idempotency
// records from every other caller of the shared Idempotency Store.
const cashOutVerifyScope = "cashout-verify"

// Principal is the authenticated caller, provided by the identity
// collaborator (out of scope per spec §1): a stable user id and the
// phone number bound to their wallet.
type Principal struct {
	UserID      string
	PhoneNumber string
}

// Facade is the Command/Query Facade: CreateWallet, Transfer,
// ProcessAction, CashOutRequest, CashOutVerify, IngestDepositWebhook,
// ListTransactions, GetTransaction.
type Facade struct {
	engine      *ledger.Engine
	wallets     *storage.WalletRepository
	query       *query.Service
	webhook     *webhook.Adapter
	idempotency *storage.IdempotencyStore
}

// New builds a Facade over its collaborators.
func New(engine *ledger.Engine, wallets *storage.WalletRepository, querySvc *query.Service, webhookAdapter *webhook.Adapter, idempotency *storage.IdempotencyStore) *Facade {
	return &Facade{
		engine:      engine,
		wallets:     wallets,
		query:       querySvc,
		webhook:     webhookAdapter,
		idempotency: idempotency,
	}
}

// CreateWalletRequest is the CreateWallet command input. The principal
// supplies its own fields; the body is empty (spec §6).
type CreateWalletRequest struct{}

// CreateWallet provisions principal's wallet. Fails with AlreadyExists
// if the principal already owns one — unlike the identity collaborator's
// internal auto-creation signal, the explicit command is not idempotent
// (spec §6 CreateWallet error table; contrast with spec §9's auto-create
// observer, which instead calls the Wallet Repository's idempotent
// GetOrCreate directly).
func (f *Facade) CreateWallet(ctx context.Context, principal Principal, _ CreateWalletRequest) (*storage.Wallet, error) {
	if _, err := f.wallets.GetByUser(ctx, principal.UserID); err == nil {
		return nil, apperr.New(apperr.KindAlreadyExists, "wallet already exists for this user")
	}
	return f.wallets.GetOrCreate(ctx, principal.UserID, principal.PhoneNumber, "USD")
}

// TransferRequest is the Transfer command input.
type TransferRequest struct {
	RecipientUserID string `json:"recipient_username"`
	Amount          string `json:"amount"`
	Reference       string `json:"reference,omitempty"`
}

// TransferResponse is the Transfer command's success body.
type TransferResponse struct {
	Message   string `json:"message"`
	Reference string `json:"reference"`
}

// Transfer initiates a two-phase transfer from principal to the named
// recipient.
func (f *Facade) Transfer(ctx context.Context, principal Principal, req TransferRequest) (*TransferResponse, error) {
	amount, err := money.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNonPositiveAmount, "invalid amount", err)
	}
	result, err := f.engine.Transfer(ctx, principal.UserID, req.RecipientUserID, amount, req.Reference)
	if err != nil {
		return nil, err
	}
	return &TransferResponse{Message: "transfer initiated", Reference: result.Reference}, nil
}

// ProcessActionRequest is the ProcessAction command input.
type ProcessActionRequest struct {
	Action    string `json:"action"`
	Reference string `json:"reference"`
}

// ProcessActionResponse is the ProcessAction command's success body.
type ProcessActionResponse struct {
	Message string `json:"message"`
}

// ProcessAction accepts or rejects the pending transfer identified by
// req.Reference, on behalf of principal.
func (f *Facade) ProcessAction(ctx context.Context, principal Principal, req ProcessActionRequest) (*ProcessActionResponse, error) {
	switch req.Action {
	case "accept":
		if _, err := f.engine.Accept(ctx, principal.UserID, req.Reference); err != nil {
			return nil, err
		}
		return &ProcessActionResponse{Message: "transfer accepted"}, nil
	case "reject":
		if _, err := f.engine.Reject(ctx, principal.UserID, req.Reference); err != nil {
			return nil, err
		}
		return &ProcessActionResponse{Message: "transfer rejected"}, nil
	default:
		return nil, apperr.New(apperr.KindNotFound, "action must be accept or reject")
	}
}

// CashOutRequestRequest is the CashOutRequest command input.
type CashOutRequestRequest struct {
	Amount string `json:"amount"`
}

// CashOutRequestResponse is the CashOutRequest command's success body.
type CashOutRequestResponse struct {
	WithdrawalCode string `json:"withdrawal_code"`
	Amount         string `json:"amount"`
	PhoneNumber    string `json:"phone_number"`
}

// CashOutRequest generates a redeemable withdrawal code for principal.
func (f *Facade) CashOutRequest(ctx context.Context, principal Principal, req CashOutRequestRequest) (*CashOutRequestResponse, error) {
	amount, err := money.NewFromString(req.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNonPositiveAmount, "invalid amount", err)
	}
	result, err := f.engine.CashOutRequest(ctx, principal.UserID, amount)
	if err != nil {
		return nil, err
	}
	return &CashOutRequestResponse{
		WithdrawalCode: result.WithdrawalCode,
		Amount:         result.Amount,
		PhoneNumber:    result.PhoneNumber,
	}, nil
}

// CashOutVerifyRequest is the CashOutVerify command input, called by the
// ATM collaborator from a whitelisted IP.
type CashOutVerifyRequest struct {
	PhoneNumber    string `json:"phone_number"`
	WithdrawalCode string `json:"withdrawal_code"`
}

// CashOutVerifyResponse is the CashOutVerify command's success body.
type CashOutVerifyResponse struct {
	Status        string `json:"status"`
	Amount        string `json:"amount"`
	TransactionID string `json:"transaction_id"`
}

// CashOutVerify redeems a withdrawal code. sourceIP is the caller's
// address as resolved by the HTTP layer; CashOutVerify checks it against
// the configured whitelist itself. idempotencyKey is the mandatory
// `Idempotency-Key` header (spec §6).
func (f *Facade) CashOutVerify(ctx context.Context, sourceIP, idempotencyKey string, req CashOutVerifyRequest) (*CashOutVerifyResponse, error) {
	if idempotencyKey == "" || len(idempotencyKey) > 128 {
		return nil, apperr.New(apperr.KindBadRequest, "Idempotency-Key header is required and must be at most 128 characters")
	}
	if !f.webhook.IPAllowed(sourceIP) {
		return nil, apperr.New(apperr.KindUnauthorized, "source IP is not whitelisted")
	}

	if cached, err := f.idempotency.Get(ctx, cashOutVerifyScope, idempotencyKey); err == nil {
		var resp CashOutVerifyResponse
		if jsonErr := json.Unmarshal(cached, &resp); jsonErr == nil {
			return &resp, nil
		}
	}

	result, err := f.engine.CashOutVerify(ctx, req.PhoneNumber, req.WithdrawalCode)
	if err != nil {
		return nil, err
	}

	resp := &CashOutVerifyResponse{Status: result.Status, Amount: result.Amount, TransactionID: result.TransactionID}
	if encoded, jsonErr := json.Marshal(resp); jsonErr == nil {
		_, _, _ = f.idempotency.CheckAndSet(ctx, cashOutVerifyScope, idempotencyKey, encoded)
	}
	return resp, nil
}

// IngestDepositWebhook wraps webhook.Adapter.Ingest for the HTTP layer.
func (f *Facade) IngestDepositWebhook(ctx context.Context, sourceIP, signatureHex, idempotencyKey string, rawBody []byte) (*webhook.Result, error) {
	return f.webhook.Ingest(ctx, sourceIP, signatureHex, idempotencyKey, rawBody)
}

// ListTransactionsRequest is the ListTransactions command input.
type ListTransactionsRequest struct {
	Filter   query.Filter
	Page     int
	PageSize int
}

// ListTransactions returns a paginated, cached listing of principal's
// transactions.
func (f *Facade) ListTransactions(ctx context.Context, principal Principal, req ListTransactionsRequest) (*query.Page, error) {
	return f.query.ListTransactions(ctx, principal.UserID, req.Filter, req.Page, req.PageSize)
}

// GetTransaction returns the transaction with id, if principal is its
// subject or counterparty.
func (f *Facade) GetTransaction(ctx context.Context, principal Principal, id string) (*storage.Transaction, error) {
	return f.query.GetTransaction(ctx, principal.UserID, id)
}
