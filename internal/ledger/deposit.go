package ledger

import (
	"context"
	"database/sql"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// Deposit credits targetUserID's wallet by amount and records a single
// COMPLETED DEPOSIT transaction (spec §4.2). There is no state machine —
// a deposit is single-shot.
func (e *Engine) Deposit(ctx context.Context, targetUserID string, amount money.Amount, fundingSource, reference string) (*DepositResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindNonPositiveAmount, "deposit amount must be positive")
	}

	var result DepositResult
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		wallet, err := e.wallets.GetByUserForUpdate(ctx, tx, targetUserID)
		if err != nil {
			return apperr.Wrap(apperr.KindNoSuchUser, "no wallet for user", err)
		}
		if err := checkActive(wallet); err != nil {
			return err
		}

		if err := e.wallets.ApplyDelta(ctx, tx, wallet, amount); err != nil {
			return err
		}

		txn := &storage.Transaction{
			WalletID:      wallet.ID,
			Amount:        amount,
			Type:          storage.TypeDeposit,
			FundingSource: sql.NullString{String: fundingSource, Valid: fundingSource != ""},
			Reference:     reference,
			Status:        storage.StatusCompleted,
		}
		if err := e.txns.Insert(ctx, tx, txn); err != nil {
			return err
		}

		result = DepositResult{Transaction: txn, Wallet: wallet}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(targetUserID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventDeposit,
		TemplateName:     notify.TemplateFor(notify.EventDeposit),
		RecipientUserID:  targetUserID,
		RecipientContact: result.Wallet.PhoneNumber,
		Reference:        reference,
		TransactionID:    result.Transaction.ID,
		Amount:           amount.String(),
	})

	return &result, nil
}
