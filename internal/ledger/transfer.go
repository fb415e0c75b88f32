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

// Transfer initiates a two-phase, recipient-acknowledged transfer from
// senderUserID to recipientUserID (spec §4.4 Initiation). Funds are held
// off the sender's available balance immediately; the recipient is
// credited only on Accept.
func (e *Engine) Transfer(ctx context.Context, senderUserID, recipientUserID string, amount money.Amount, reference string) (*TransferResult, error) {
	if senderUserID == recipientUserID {
		return nil, apperr.New(apperr.KindSelfTransfer, "cannot transfer to yourself")
	}
	if !amount.IsPositive() {
		return nil, apperr.New(apperr.KindNonPositiveAmount, "transfer amount must be positive")
	}

	if reference == "" {
		ref, err := newTransferReference()
		if err != nil {
			return nil, apperr.Internal(err)
		}
		reference = ref
	}

	var result TransferResult
	var senderPhone, recipientPhone string
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		sender, recipient, err := e.lockWalletsInOrder(ctx, tx, senderUserID, recipientUserID)
		if err != nil {
			return apperr.Wrap(apperr.KindNoSuchUser, "sender or recipient has no wallet", err)
		}
		if err := checkActive(sender); err != nil {
			return err
		}
		if err := checkActive(recipient); err != nil {
			return err
		}
		senderPhone, recipientPhone = sender.PhoneNumber, recipient.PhoneNumber

		if err := e.wallets.ApplyDelta(ctx, tx, sender, amount.Neg()); err != nil {
			return err
		}

		expiry := time.Now().Add(e.transferExpiry)

		outLeg := &storage.Transaction{
			WalletID:        sender.ID,
			RelatedWalletID: sql.NullString{String: recipient.ID, Valid: true},
			Amount:          amount,
			Type:            storage.TypeTransferOut,
			Reference:       reference,
			Status:          storage.StatusPending,
			ExpiryTime:      sql.NullTime{Time: expiry, Valid: true},
		}
		if err := e.txns.Insert(ctx, tx, outLeg); err != nil {
			return err
		}

		inLeg := &storage.Transaction{
			WalletID:        recipient.ID,
			RelatedWalletID: sql.NullString{String: sender.ID, Valid: true},
			Amount:          amount,
			Type:            storage.TypeTransferIn,
			Reference:       reference,
			Status:          storage.StatusPending,
			ExpiryTime:      sql.NullTime{Time: expiry, Valid: true},
		}
		if err := e.txns.Insert(ctx, tx, inLeg); err != nil {
			return err
		}

		result = TransferResult{Reference: reference, OutLeg: outLeg, InLeg: inLeg}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(senderUserID, recipientUserID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferSent,
		TemplateName:     notify.TemplateFor(notify.EventTransferSent),
		RecipientUserID:  senderUserID,
		RecipientContact: senderPhone,
		Reference:        reference,
		TransactionID:    result.OutLeg.ID,
		Amount:           amount.String(),
	})
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferReceived,
		TemplateName:     notify.TemplateFor(notify.EventTransferReceived),
		RecipientUserID:  recipientUserID,
		RecipientContact: recipientPhone,
		Reference:        reference,
		TransactionID:    result.InLeg.ID,
		Amount:           amount.String(),
	})

	return &result, nil
}

// Accept credits the recipient and completes both legs of reference,
// provided callerUserID owns the TRANSFER_IN leg (spec §4.4 Accept).
func (e *Engine) Accept(ctx context.Context, callerUserID, reference string) (*ProcessActionResult, error) {
	var senderWalletID, recipientPhone string
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		legs, err := e.txns.ListByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		outLeg, inLeg, err := splitLegs(legs)
		if err != nil {
			return err
		}
		if outLeg.Status != storage.StatusPending || inLeg.Status != storage.StatusPending {
			return apperr.New(apperr.KindNotFound, "transfer is not pending")
		}

		recipient, err := e.wallets.GetByIDForUpdate(ctx, tx, inLeg.WalletID)
		if err != nil {
			return err
		}
		if recipient.OwnerUserID != callerUserID {
			return apperr.New(apperr.KindNotOwner, "caller does not own the recipient leg")
		}
		if err := checkActive(recipient); err != nil {
			return err
		}
		recipientPhone = recipient.PhoneNumber

		if err := e.wallets.ApplyDelta(ctx, tx, recipient, inLeg.Amount); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, inLeg.ID, storage.StatusCompleted); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, outLeg.ID, storage.StatusCompleted); err != nil {
			return err
		}
		senderWalletID = outLeg.WalletID
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(callerUserID, e.ownerUserID(ctx, senderWalletID))
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferAccepted,
		TemplateName:     notify.TemplateFor(notify.EventTransferAccepted),
		RecipientUserID:  callerUserID,
		RecipientContact: recipientPhone,
		Reference:        reference,
	})
	return &ProcessActionResult{Reference: reference, Action: "accept"}, nil
}

// Reject refunds the sender's hold and marks both legs of reference
// REJECTED, provided callerUserID owns the TRANSFER_IN leg (spec §4.4
// Reject).
func (e *Engine) Reject(ctx context.Context, callerUserID, reference string) (*ProcessActionResult, error) {
	var senderUserID, senderPhone string
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		legs, err := e.txns.ListByReference(ctx, tx, reference)
		if err != nil {
			return err
		}
		outLeg, inLeg, err := splitLegs(legs)
		if err != nil {
			return err
		}
		if outLeg.Status != storage.StatusPending || inLeg.Status != storage.StatusPending {
			return apperr.New(apperr.KindNotFound, "transfer is not pending")
		}

		recipient, err := e.wallets.GetByIDForUpdate(ctx, tx, inLeg.WalletID)
		if err != nil {
			return err
		}
		if recipient.OwnerUserID != callerUserID {
			return apperr.New(apperr.KindNotOwner, "caller does not own the recipient leg")
		}

		sender, err := e.wallets.GetByIDForUpdate(ctx, tx, outLeg.WalletID)
		if err != nil {
			return err
		}
		if err := checkActive(sender); err != nil {
			return err
		}
		if err := e.wallets.ApplyDelta(ctx, tx, sender, outLeg.Amount); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, outLeg.ID, storage.StatusRejected); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, inLeg.ID, storage.StatusRejected); err != nil {
			return err
		}
		senderUserID = sender.OwnerUserID
		senderPhone = sender.PhoneNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.invalidate(callerUserID, senderUserID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferRejected,
		TemplateName:     notify.TemplateFor(notify.EventTransferRejected),
		RecipientUserID:  senderUserID,
		RecipientContact: senderPhone,
		Reference:        reference,
	})
	return &ProcessActionResult{Reference: reference, Action: "reject"}, nil
}

func splitLegs(legs []*storage.Transaction) (outLeg, inLeg *storage.Transaction, err error) {
	for _, leg := range legs {
		switch leg.Type {
		case storage.TypeTransferOut:
			outLeg = leg
		case storage.TypeTransferIn:
			inLeg = leg
		}
	}
	if outLeg == nil || inLeg == nil {
		return nil, nil, apperr.New(apperr.KindNotFound, "transfer reference not found")
	}
	return outLeg, inLeg, nil
}

func newTransferReference() (string, error) {
	hex, err := helpers.RandomHex(4)
	if err != nil {
		return "", err
	}
	return "TRANSFER-" + hex, nil
}

