package ledger

import (
	"context"

	"github.com/klingon-exchange/walletd/internal/storage"
)

// SetWalletActive flips walletID's active flag (spec.md §9 SUPPLEMENTED
// FEATURES item #3: an admin-style wallet freeze, not part of the public
// Facade table). Deactivating a wallet causes every subsequent Deposit,
// Withdrawal, CashOutRequest or CashOutVerify against it, any Transfer in
// which it is sender or recipient, an Accept by its owner, and a Reject of
// a transfer it sent to fail with Unauthorized until it is reactivated.
func (e *Engine) SetWalletActive(ctx context.Context, walletID string, active bool) error {
	return e.store.WithTx(ctx, func(tx *storage.Tx) error {
		w, err := e.wallets.GetByIDForUpdate(ctx, tx, walletID)
		if err != nil {
			return err
		}
		return e.wallets.SetActive(ctx, tx, w, active)
	})
}
