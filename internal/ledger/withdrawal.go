package ledger

import (
	"context"
	"database/sql"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// Withdrawal debits userID's wallet by amount immediately and records a
// single COMPLETED WITHDRAWAL transaction (spec §4.3). Fails with
// InsufficientFunds before any row is written.
func (e *Engine) Withdrawal(ctx context.Context, userID string, amount money.Amount, fundingSource, reference string) (*WithdrawalResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindNonPositiveAmount, "withdrawal amount must be positive")
	}

	var result WithdrawalResult
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		wallet, err := e.wallets.GetByUserForUpdate(ctx, tx, userID)
		if err != nil {
			return apperr.Wrap(apperr.KindNoSuchUser, "no wallet for user", err)
		}
		if err := checkActive(wallet); err != nil {
			return err
		}

		if err := e.wallets.ApplyDelta(ctx, tx, wallet, amount.Neg()); err != nil {
			return err
		}

		txn := &storage.Transaction{
			WalletID:      wallet.ID,
			Amount:        amount,
			Type:          storage.TypeWithdrawal,
			FundingSource: sql.NullString{String: fundingSource, Valid: fundingSource != ""},
			Reference:     reference,
			Status:        storage.StatusCompleted,
		}
		if err := e.txns.Insert(ctx, tx, txn); err != nil {
			return err
		}

		result = WithdrawalResult{Transaction: txn, Wallet: wallet}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(userID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventWithdrawal,
		TemplateName:     notify.TemplateFor(notify.EventWithdrawal),
		RecipientUserID:  userID,
		RecipientContact: result.Wallet.PhoneNumber,
		Reference:        reference,
		TransactionID:    result.Transaction.ID,
		Amount:           amount.String(),
	})

	return &result, nil
}
