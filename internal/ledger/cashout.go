package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/helpers"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// CashOutRequest generates an 8-hex-character withdrawal code redeemable
// by CashOutVerify and records a PENDING WITHDRAWAL transaction without
// debiting the wallet (spec §4.5 Request). The code is the bearer
// artifact; the debit happens only on successful verification.
func (e *Engine) CashOutRequest(ctx context.Context, userID string, amount money.Amount) (*CashOutRequestResult, error) {
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindNonPositiveAmount, "cash-out amount must be positive")
	}

	code, err := helpers.UpperHexCode(4)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	reference := "BLF-ATM-" + code

	var result CashOutRequestResult
	err = e.store.WithTx(ctx, func(tx *storage.Tx) error {
		wallet, err := e.wallets.GetByUserForUpdate(ctx, tx, userID)
		if err != nil {
			return apperr.Wrap(apperr.KindNoSuchUser, "no wallet for user", err)
		}
		if err := checkActive(wallet); err != nil {
			return err
		}
		if wallet.Balance.LessThan(amount) {
			return apperr.New(apperr.KindInsufficientFunds, "balance is less than the requested amount")
		}

		txn := &storage.Transaction{
			WalletID:      wallet.ID,
			Amount:        amount,
			Type:          storage.TypeWithdrawal,
			FundingSource: sql.NullString{String: storage.FundingBLFATM, Valid: true},
			Reference:     reference,
			Status:        storage.StatusPending,
			ExpiryTime:    sql.NullTime{Time: time.Now().Add(e.cashOutExpiry), Valid: true},
		}
		if err := e.txns.Insert(ctx, tx, txn); err != nil {
			return err
		}

		result = CashOutRequestResult{
			WithdrawalCode: code,
			Amount:         amount.String(),
			PhoneNumber:    wallet.PhoneNumber,
			Transaction:    txn,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(userID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventCashOutRequested,
		TemplateName:     notify.TemplateFor(notify.EventCashOutRequested),
		RecipientUserID:  userID,
		RecipientContact: result.PhoneNumber,
		Reference:        reference,
		TransactionID:    result.Transaction.ID,
		Amount:           amount.String(),
	})

	return &result, nil
}

// CashOutVerify redeems withdrawalCode for phoneNumber, debiting the
// wallet on success (spec §4.5 Verify). Callers must have already checked
// the source IP against the configured whitelist.
func (e *Engine) CashOutVerify(ctx context.Context, phoneNumber, withdrawalCode string) (*CashOutVerifyResult, error) {
	reference := "BLF-ATM-" + withdrawalCode

	var result CashOutVerifyResult
	var ownerUserID string
	// outcome carries a terminal failure (Expired/InsufficientFunds) whose
	// status write must still commit. It is never returned from inside the
	// atomic unit itself: doing so would roll back the very status
	// transition it just wrote, since Storage.WithTx rolls back on any
	// non-nil error from fn.
	var outcome *apperr.Error
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		txn, wallet, err := e.txns.GetPendingByPhoneAndReference(ctx, tx, phoneNumber, reference)
		if err != nil {
			return apperr.Wrap(apperr.KindInvalidCode, "no matching pending cash-out", err)
		}
		ownerUserID = wallet.OwnerUserID
		if err := checkActive(wallet); err != nil {
			return err
		}

		now := time.Now()
		if txn.ExpiryTime.Valid && now.After(txn.ExpiryTime.Time) {
			if err := e.txns.UpdateStatus(ctx, tx, txn.ID, storage.StatusExpired); err != nil {
				return err
			}
			outcome = apperr.New(apperr.KindExpired, "withdrawal code has expired")
			return nil
		}

		if wallet.Balance.LessThan(txn.Amount) {
			if err := e.txns.UpdateStatus(ctx, tx, txn.ID, storage.StatusFailed); err != nil {
				return err
			}
			outcome = apperr.New(apperr.KindInsufficientFunds, "balance is less than the withdrawal amount")
			return nil
		}

		if err := e.wallets.ApplyDelta(ctx, tx, wallet, txn.Amount.Neg()); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, txn.ID, storage.StatusCompleted); err != nil {
			return err
		}

		result = CashOutVerifyResult{Status: "approved", Amount: txn.Amount.String(), TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if outcome != nil {
		e.invalidate(ownerUserID)
		return nil, outcome
	}

	e.invalidate(ownerUserID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventCashOutVerified,
		TemplateName:     notify.TemplateFor(notify.EventCashOutVerified),
		RecipientUserID:  ownerUserID,
		RecipientContact: phoneNumber,
		Reference:        reference,
		TransactionID:    result.TransactionID,
		Amount:           result.Amount,
	})

	return &result, nil
}
