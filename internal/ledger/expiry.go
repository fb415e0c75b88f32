package ledger

import (
	"context"
	"time"

	"github.com/klingon-exchange/walletd/internal/notify"
	"github.com/klingon-exchange/walletd/internal/storage"
)

// ExpiryWorkerConfig configures the Expiry Worker (spec §4.7).
type ExpiryWorkerConfig struct {
	Period    time.Duration
	BatchSize int
}

// DefaultExpiryWorkerConfig returns the default configuration.
func DefaultExpiryWorkerConfig() ExpiryWorkerConfig {
	return ExpiryWorkerConfig{
		Period:    6 * time.Hour,
		BatchSize: 200,
	}
}

// ExpiryWorker periodically sweeps PENDING transactions past their
// expiry_time, refunding transfer holds and marking cash-out codes
// expired.
type ExpiryWorker struct {
	engine *Engine
	config ExpiryWorkerConfig

	ctx    context.Context
	cancel context.CancelFunc
}

// NewExpiryWorker creates a new expiry worker over engine.
func NewExpiryWorker(engine *Engine, cfg ExpiryWorkerConfig) *ExpiryWorker {
	ctx, cancel := context.WithCancel(context.Background())
	return &ExpiryWorker{
		engine: engine,
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the worker's background goroutine.
func (w *ExpiryWorker) Start() {
	go w.run()
	w.engine.log.Info("expiry worker started", "period", w.config.Period)
}

// Stop stops the worker.
func (w *ExpiryWorker) Stop() {
	w.cancel()
	w.engine.log.Info("expiry worker stopped")
}

func (w *ExpiryWorker) run() {
	ticker := time.NewTicker(w.config.Period)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.engine.RunExpirySweep(w.ctx, time.Now(), w.config.BatchSize); err != nil {
				w.engine.log.Error("expiry sweep failed", "error", err)
			}
		}
	}
}

// RunExpirySweep finds PENDING transactions past their expiry_time and
// compensates them (spec §4.7). Each transfer or cash-out is processed in
// its own atomic unit so one bad row does not abort the batch; it returns
// the count of transfers and cash-outs successfully expired (a transfer's
// two legs count once, through its OUT leg). Idempotent across runs: a
// second pass finds nothing left to do.
func (e *Engine) RunExpirySweep(ctx context.Context, now time.Time, batchSize int) (int, error) {
	candidates, err := e.txns.ListExpiredPending(ctx, now, batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, txn := range candidates {
		acted, err := e.expireOne(ctx, txn)
		if err != nil {
			e.log.Error("failed to expire transaction", "id", txn.ID, "reference", txn.Reference, "error", err)
			continue
		}
		if acted {
			expired++
		}
	}
	return expired, nil
}

// expireOne expires txn and reports whether it acted on it. IN legs are
// expired through their OUT partner, so they report false.
func (e *Engine) expireOne(ctx context.Context, txn *storage.Transaction) (bool, error) {
	switch txn.Type {
	case storage.TypeTransferOut:
		return true, e.expireTransferOut(ctx, txn)
	case storage.TypeTransferIn:
		// Driven by its OUT partner; a standalone PENDING IN leg without a
		// matching OUT leg cannot occur by construction (Invariant T1), so
		// one is only flagged for investigation, not acted on directly.
		partnerErr := e.store.WithTx(ctx, func(tx *storage.Tx) error {
			_, err := e.txns.GetByReferenceAndType(ctx, tx, txn.Reference, storage.TypeTransferOut)
			return err
		})
		if partnerErr != nil {
			e.log.Warn("found PENDING TRANSFER_IN leg without an OUT leg", "id", txn.ID, "reference", txn.Reference)
		}
		return false, nil
	case storage.TypeWithdrawal:
		return true, e.expireCashOut(ctx, txn)
	default:
		e.log.Warn("unexpected type for expiry candidate", "type", txn.Type, "id", txn.ID)
		return false, nil
	}
}

func (e *Engine) expireTransferOut(ctx context.Context, outLeg *storage.Transaction) error {
	var inLegID, senderUserID, senderPhone string
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		sender, err := e.wallets.GetByIDForUpdate(ctx, tx, outLeg.WalletID)
		if err != nil {
			return err
		}
		senderUserID, senderPhone = sender.OwnerUserID, sender.PhoneNumber
		if err := e.wallets.ApplyDelta(ctx, tx, sender, outLeg.Amount); err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, outLeg.ID, storage.StatusExpired); err != nil {
			return err
		}

		inLeg, err := e.txns.GetByReferenceAndType(ctx, tx, outLeg.Reference, storage.TypeTransferIn)
		if err != nil {
			return err
		}
		if err := e.txns.UpdateStatus(ctx, tx, inLeg.ID, storage.StatusExpired); err != nil {
			return err
		}
		inLegID = inLeg.ID
		return nil
	})
	if err != nil {
		return err
	}

	recipientUserID := e.ownerUserID(ctx, outLeg.RelatedWalletID.String)
	var recipientPhone string
	if recipient, err := e.wallets.GetByID(ctx, outLeg.RelatedWalletID.String); err == nil {
		recipientPhone = recipient.PhoneNumber
	} else {
		e.log.Warn("could not resolve recipient contact for expiry notification", "wallet_id", outLeg.RelatedWalletID.String, "error", err)
	}

	e.invalidate(senderUserID, recipientUserID)
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferExpired,
		TemplateName:     notify.TemplateFor(notify.EventTransferExpired),
		RecipientUserID:  senderUserID,
		RecipientContact: senderPhone,
		Reference:        outLeg.Reference,
		TransactionID:    outLeg.ID,
	})
	e.sink.Publish(notify.Event{
		Type:             notify.EventTransferExpired,
		TemplateName:     notify.TemplateFor(notify.EventTransferExpired),
		RecipientUserID:  recipientUserID,
		RecipientContact: recipientPhone,
		Reference:        outLeg.Reference,
		TransactionID:    inLegID,
	})
	return nil
}

func (e *Engine) expireCashOut(ctx context.Context, txn *storage.Transaction) error {
	// No debit ever occurred at request time, so expiry needs no refund —
	// just the status transition.
	err := e.store.WithTx(ctx, func(tx *storage.Tx) error {
		return e.txns.UpdateStatus(ctx, tx, txn.ID, storage.StatusExpired)
	})
	if err != nil {
		return err
	}
	e.invalidate(e.ownerUserID(ctx, txn.WalletID))
	return nil
}
