// Package webhook implements the Webhook Ingress Adapter (spec §4.6):
// HMAC signature and source-IP verification for external deposit
// notifications, idempotency-wrapped, invoking the Money-Movement
// Engine's Deposit command.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/klingon-exchange/walletd/internal/ledger"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/logging"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// idempotencyScope partitions this adapter's idempotency records from
// every other caller of the shared Idempotency Store.
const idempotencyScope = "webhook"

// Body is the Paysend-compatible webhook payload (spec §6).
type Body struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	Recipient     struct {
		PhoneNumber string `json:"phone_number"`
		Amount      string `json:"amount"`
	} `json:"recipient"`
}

// Result is the adapter's outcome, marshaled straight to the HTTP
// response body by the caller.
type Result struct {
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
}

// Adapter verifies and processes inbound deposit webhooks.
type Adapter struct {
	engine      *ledger.Engine
	wallets     *storage.WalletRepository
	idempotency *storage.IdempotencyStore
	secret      []byte
	whitelist   map[string]struct{}
	log         *logging.Logger
}

// New builds an Adapter. whitelist may be empty, meaning no IP
// restriction (spec §4.6 still requires a non-empty secret to verify
// signatures).
func New(engine *ledger.Engine, wallets *storage.WalletRepository, idempotency *storage.IdempotencyStore, secret string, whitelist []string) *Adapter {
	set := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		set[ip] = struct{}{}
	}
	return &Adapter{
		engine:      engine,
		wallets:     wallets,
		idempotency: idempotency,
		secret:      []byte(secret),
		whitelist:   set,
		log:         logging.GetDefault().Component("webhook"),
	}
}

// IPAllowed reports whether sourceIP may call the webhook. An empty
// configured whitelist means unrestricted, matching config.WebhookConfig's
// documented default.
func (a *Adapter) IPAllowed(sourceIP string) bool {
	if len(a.whitelist) == 0 {
		return true
	}
	_, ok := a.whitelist[sourceIP]
	return ok
}

// VerifySignature checks that signatureHex equals
// HMAC-SHA256(secret, rawBody), in constant time (spec §4.6).
func (a *Adapter) VerifySignature(rawBody []byte, signatureHex string) bool {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	return helpers.ConstantTimeCompare(expected, got)
}

// Ingest processes one webhook delivery: sourceIP and signatureHex must
// already have been extracted by the HTTP layer from the connection and
// the `X-Paysend-Signature` header; idempotencyKey comes from the
// `Idempotency-Key` header.
func (a *Adapter) Ingest(ctx context.Context, sourceIP, signatureHex, idempotencyKey string, rawBody []byte) (*Result, error) {
	if !a.IPAllowed(sourceIP) {
		return nil, apperr.New(apperr.KindUnauthorized, "source IP is not whitelisted")
	}
	if !a.VerifySignature(rawBody, signatureHex) {
		return nil, apperr.New(apperr.KindUnauthorized, "invalid webhook signature")
	}
	if idempotencyKey == "" || len(idempotencyKey) > 128 {
		return nil, apperr.New(apperr.KindBadRequest, "Idempotency-Key header is required and must be at most 128 characters")
	}

	if cached, err := a.idempotency.Get(ctx, idempotencyScope, idempotencyKey); err == nil {
		var result Result
		if jsonErr := json.Unmarshal(cached, &result); jsonErr == nil {
			return &result, nil
		}
	} else if !errors.Is(err, storage.ErrIdempotencyKeyNotFound) {
		return nil, apperr.Internal(err)
	}

	var body Body
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "invalid webhook body", err)
	}

	if body.Status != "COMPLETED" {
		result := &Result{Status: "ignored"}
		a.storeIdempotent(ctx, idempotencyKey, result)
		return result, nil
	}

	wallet, err := a.wallets.GetByPhone(ctx, body.Recipient.PhoneNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.KindWalletNotFound, "no wallet bound to recipient phone number")
		}
		return nil, apperr.Internal(err)
	}

	amount, err := money.NewFromString(body.Recipient.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "invalid recipient amount", err)
	}

	reference := "Paysend: " + body.TransactionID
	depositResult, err := a.engine.Deposit(ctx, wallet.OwnerUserID, amount, storage.FundingPaysend, reference)
	if err != nil {
		return nil, err
	}

	result := &Result{Status: "processed", TransactionID: depositResult.Transaction.ID}
	a.storeIdempotent(ctx, idempotencyKey, result)
	return result, nil
}

// storeIdempotent records result under key so retried deliveries of the
// same Idempotency-Key return the identical response (Invariant I1).
// Failures here are logged, not surfaced: the deposit itself has already
// committed, and a transient idempotency-store write failure must not
// turn into a spurious error for an otherwise-successful webhook call.
func (a *Adapter) storeIdempotent(ctx context.Context, key string, result *Result) {
	encoded, err := json.Marshal(result)
	if err != nil {
		a.log.Warn("failed to marshal webhook result for idempotency store", "error", err)
		return
	}
	if _, _, err := a.idempotency.CheckAndSet(ctx, idempotencyScope, key, encoded); err != nil {
		a.log.Warn("failed to record idempotency response", "key", key, "error", err)
	}
}
