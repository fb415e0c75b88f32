// Package ledger implements the Money-Movement Engine (spec §4.2-§4.7):
// Deposit, Withdrawal, two-phase Transfer, one-time-code CashOut, and the
// background Expiry Worker. It owns all ordering, locking, and invariant
// checks over the Wallet and Transaction repositories.
package ledger

import (
	"context"
	"time"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Engine is the process-wide singleton holding repository handles that
// every money-movement command runs against. Each command opens its own
// atomic unit through Storage.WithTx and passes the *storage.Tx to its
// repository calls.
type Engine struct {
	store    *storage.Storage
	wallets  *storage.WalletRepository
	txns     *storage.TransactionRepository
	sink     *notify.Sink
	log      *logging.Logger

	transferExpiry time.Duration
	cashOutExpiry  time.Duration

	invalidator Invalidator
}

// Invalidator purges cached transaction listing pages for the given user
// ids. The Read/Query Layer implements this to satisfy Invariant C1 (spec
// §3): on every transaction insert or status change, every cache entry
// whose user_id is the subject or counterparty is purged before the next
// read is served. Wired in via SetInvalidator once the query layer exists,
// since the engine is constructed before it.
type Invalidator interface {
	Invalidate(userIDs ...string)
}

// Options configures an Engine.
type Options struct {
	TransferExpiry time.Duration
	CashOutExpiry  time.Duration
}

// New builds an Engine over store, wired to publish events to sink.
func New(store *storage.Storage, sink *notify.Sink, opts Options) *Engine {
	return &Engine{
		store:          store,
		wallets:        storage.NewWalletRepository(store),
		txns:           storage.NewTransactionRepository(store),
		sink:           sink,
		log:            logging.GetDefault().Component("ledger"),
		transferExpiry: opts.TransferExpiry,
		cashOutExpiry:  opts.CashOutExpiry,
	}
}

// SetInvalidator wires inv into the engine so every command invalidates
// the affected users' cached listing pages synchronously, before
// returning to the caller — unlike notification delivery, this must never
// be dropped or deferred, so it is not routed through the Notification
// Sink's fire-and-forget queue.
func (e *Engine) SetInvalidator(inv Invalidator) {
	e.invalidator = inv
}

// invalidate purges cached listings for userIDs, a no-op if no
// Invalidator has been wired in (e.g. in tests that don't exercise the
// Query Layer).
func (e *Engine) invalidate(userIDs ...string) {
	if e.invalidator != nil {
		e.invalidator.Invalidate(userIDs...)
	}
}

// ownerUserID resolves walletID's owning user id for cache invalidation,
// logging and returning "" (a safe no-op Invalidate call) rather than
// failing an already-committed write over a lookup that is cosmetic to
// correctness.
func (e *Engine) ownerUserID(ctx context.Context, walletID string) string {
	owner, err := e.wallets.OwnerUserID(ctx, walletID)
	if err != nil {
		e.log.Warn("could not resolve wallet owner for cache invalidation", "wallet_id", walletID, "error", err)
		return ""
	}
	return owner
}

// checkActive rejects a command against a frozen wallet (spec.md §9
// SUPPLEMENTED FEATURES item #3: an admin-deactivated wallet rejects
// further mutating commands with Unauthorized).
func checkActive(w *storage.Wallet) error {
	if !w.IsActive {
		return apperr.New(apperr.KindUnauthorized, "wallet is frozen")
	}
	return nil
}

// lockWalletsInOrder loads both wallets for update inside tx, always in
// ascending wallet-id order regardless of caller-provided role, per the
// Wallet Repository's deadlock-avoidance rule (spec §4.1).
func (e *Engine) lockWalletsInOrder(ctx context.Context, tx *storage.Tx, userA, userB string) (a, b *storage.Wallet, err error) {
	wa, err := e.wallets.GetByUserForUpdate(ctx, tx, userA)
	if err != nil {
		return nil, nil, err
	}
	wb, err := e.wallets.GetByUserForUpdate(ctx, tx, userB)
	if err != nil {
		return nil, nil, err
	}

	first, second := wa, wb
	if wb.ID < wa.ID {
		first, second = wb, wa
	}

	// Re-fetch in id order so the actual row-lock acquisition (implicit in
	// SQLite's single-writer model via Storage.WithTx) happens in a
	// deterministic sequence across concurrent callers, even though both
	// wallets were already loaded above.
	first, err = e.wallets.GetByIDForUpdate(ctx, tx, first.ID)
	if err != nil {
		return nil, nil, err
	}
	second, err = e.wallets.GetByIDForUpdate(ctx, tx, second.ID)
	if err != nil {
		return nil, nil, err
	}

	if first.OwnerUserID == userA {
		return first, second, nil
	}
	return second, first, nil
}
