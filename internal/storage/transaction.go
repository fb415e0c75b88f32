package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/walletd/pkg/money"
)

// Transaction types (spec §3).
const (
	TypeDeposit      = "DEPOSIT"
	TypeWithdrawal   = "WITHDRAWAL"
	TypeTransferOut  = "TRANSFER_OUT"
	TypeTransferIn   = "TRANSFER_IN"
)

// Funding sources (spec §3).
const (
	FundingPaysend  = "PAYSEND"
	FundingBLFATM   = "BLF_ATM"
	FundingInternal = "INTERNAL"
)

// Transaction statuses (spec §3, state machines in §4.2-4.4).
const (
	StatusPending   = "PENDING"
	StatusAccepted  = "ACCEPTED"
	StatusRejected  = "REJECTED"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusExpired   = "EXPIRED"
)

// Transaction is one leg of a money movement.
type Transaction struct {
	ID              string
	WalletID        string
	RelatedWalletID sql.NullString
	Amount          money.Amount
	Type            string
	FundingSource   sql.NullString
	Reference       string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiryTime      sql.NullTime
}

// TransactionRepository is the Transaction Repository (spec §4, item 3).
type TransactionRepository struct {
	store *Storage
}

// NewTransactionRepository builds a TransactionRepository over store.
func NewTransactionRepository(store *Storage) *TransactionRepository {
	return &TransactionRepository{store: store}
}

// NewID returns a fresh transaction id of the same form Insert assigns to
// a Transaction whose ID is empty.
func (r *TransactionRepository) NewID() string {
	return uuid.New().String()
}

// Insert writes a new transaction row inside tx.
func (r *TransactionRepository) Insert(ctx context.Context, tx *Tx, t *Transaction) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	var expiryTime interface{}
	if t.ExpiryTime.Valid {
		expiryTime = t.ExpiryTime.Time.Unix()
	}

	_, err := tx.Raw().ExecContext(ctx,
		`INSERT INTO transactions
		 (id, wallet_id, related_wallet_id, amount, type, funding_source, reference, status, created_at, updated_at, expiry_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WalletID, nullableString(t.RelatedWalletID), t.Amount.Raw(), t.Type, nullableString(t.FundingSource),
		t.Reference, t.Status, t.CreatedAt.Unix(), t.UpdatedAt.Unix(), expiryTime,
	)
	return err
}

// GetByID loads a transaction by id inside tx, locking its row.
func (r *TransactionRepository) GetByID(ctx context.Context, tx *Tx, id string) (*Transaction, error) {
	row := tx.Raw().QueryRowContext(ctx, selectTransactionSQL+` WHERE id = ?`, id)
	return scanTransaction(row)
}

// GetByIDReadOnly loads a transaction by id without requiring an open
// atomic unit, for read paths such as GetTransaction.
func (r *TransactionRepository) GetByIDReadOnly(ctx context.Context, id string) (*Transaction, error) {
	row := r.store.db.QueryRowContext(ctx, selectTransactionSQL+` WHERE id = ?`, id)
	return scanTransaction(row)
}

// GetByReferenceAndType loads the transaction leg matching (reference,
// type) inside tx, locking its row. Used to find the partner leg of a
// transfer reference.
func (r *TransactionRepository) GetByReferenceAndType(ctx context.Context, tx *Tx, reference, typ string) (*Transaction, error) {
	row := tx.Raw().QueryRowContext(ctx, selectTransactionSQL+` WHERE reference = ? AND type = ?`, reference, typ)
	return scanTransaction(row)
}

// ListByReference loads every leg sharing reference inside tx, locking
// their rows.
func (r *TransactionRepository) ListByReference(ctx context.Context, tx *Tx, reference string) ([]*Transaction, error) {
	rows, err := tx.Raw().QueryContext(ctx, selectTransactionSQL+` WHERE reference = ?`, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// GetPendingByPhoneAndReference locates the unique PENDING transaction
// whose reference matches and whose owning wallet belongs to phoneNumber
// (spec §4.5 Verify step 1), locking both rows.
func (r *TransactionRepository) GetPendingByPhoneAndReference(ctx context.Context, tx *Tx, phoneNumber, reference string) (*Transaction, *Wallet, error) {
	row := tx.Raw().QueryRowContext(ctx,
		`SELECT t.id, t.wallet_id, t.related_wallet_id, t.amount, t.type, t.funding_source, t.reference, t.status, t.created_at, t.updated_at, t.expiry_time,
		        w.id, w.owner_user_id, w.phone_number, w.balance, w.currency, w.is_active, w.created_at, w.updated_at
		 FROM transactions t
		 JOIN wallets w ON w.id = t.wallet_id
		 WHERE w.phone_number = ? AND t.reference = ? AND t.status = ?`,
		phoneNumber, reference, StatusPending,
	)

	var (
		t                         Transaction
		w                         Wallet
		amount, balance           string
		relatedWalletID           sql.NullString
		fundingSource             sql.NullString
		expiryTime                sql.NullInt64
		tCreatedAt, tUpdatedAt    int64
		wIsActive                 int
		wCreatedAt, wUpdatedAt    int64
	)
	err := row.Scan(
		&t.ID, &t.WalletID, &relatedWalletID, &amount, &t.Type, &fundingSource, &t.Reference, &t.Status, &tCreatedAt, &tUpdatedAt, &expiryTime,
		&w.ID, &w.OwnerUserID, &w.PhoneNumber, &balance, &w.Currency, &wIsActive, &wCreatedAt, &wUpdatedAt,
	)
	if err != nil {
		return nil, nil, err
	}

	amt, err := money.NewFromString(amount)
	if err != nil {
		return nil, nil, err
	}
	t.Amount = amt
	t.RelatedWalletID = relatedWalletID
	t.FundingSource = fundingSource
	t.CreatedAt = time.Unix(tCreatedAt, 0)
	t.UpdatedAt = time.Unix(tUpdatedAt, 0)
	if expiryTime.Valid {
		t.ExpiryTime = sql.NullTime{Time: time.Unix(expiryTime.Int64, 0), Valid: true}
	}

	bal, err := money.NewFromString(balance)
	if err != nil {
		return nil, nil, err
	}
	w.Balance = bal
	w.IsActive = wIsActive != 0
	w.CreatedAt = time.Unix(wCreatedAt, 0)
	w.UpdatedAt = time.Unix(wUpdatedAt, 0)

	return &t, &w, nil
}

// UpdateStatus transitions a transaction's status inside tx.
func (r *TransactionRepository) UpdateStatus(ctx context.Context, tx *Tx, id, status string) error {
	now := time.Now()
	res, err := tx.Raw().ExecContext(ctx,
		`UPDATE transactions SET status = ?, updated_at = ? WHERE id = ?`,
		status, now.Unix(), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("storage: transaction not found for status update")
	}
	return nil
}

// ListExpiredPending scans for PENDING transactions whose expiry_time has
// passed, for the expiry worker (spec §4.7). olderThan bounds results to
// those already overdue as of that time.
func (r *TransactionRepository) ListExpiredPending(ctx context.Context, olderThan time.Time, limit int) ([]*Transaction, error) {
	rows, err := r.store.db.QueryContext(ctx,
		selectTransactionSQL+` WHERE status = ? AND expiry_time IS NOT NULL AND expiry_time <= ? ORDER BY expiry_time ASC LIMIT ?`,
		StatusPending, olderThan.Unix(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// ListForUser returns transactions where walletID is the subject or the
// counterparty, ordered created_at desc, for the Read/Query Layer (§4.8).
func (r *TransactionRepository) ListForUser(ctx context.Context, walletID string, limit, offset int) ([]*Transaction, error) {
	rows, err := r.store.db.QueryContext(ctx,
		selectTransactionSQL+` WHERE wallet_id = ? OR related_wallet_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		walletID, walletID, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTransactions(rows)
}

// CountForUser returns the total number of transactions where walletID is
// the subject or the counterparty, for pagination metadata.
func (r *TransactionRepository) CountForUser(ctx context.Context, walletID string) (int, error) {
	var count int
	err := r.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE wallet_id = ? OR related_wallet_id = ?`, walletID, walletID,
	).Scan(&count)
	return count, err
}

const selectTransactionSQL = `
	SELECT id, wallet_id, related_wallet_id, amount, type, funding_source, reference, status, created_at, updated_at, expiry_time
	FROM transactions`

func scanTransaction(row *sql.Row) (*Transaction, error) {
	var (
		t                      Transaction
		amount                 string
		relatedWalletID        sql.NullString
		fundingSource          sql.NullString
		expiryTime             sql.NullInt64
		createdAt, updatedAt   int64
	)
	if err := row.Scan(&t.ID, &t.WalletID, &relatedWalletID, &amount, &t.Type, &fundingSource, &t.Reference, &t.Status, &createdAt, &updatedAt, &expiryTime); err != nil {
		return nil, err
	}
	return buildTransaction(&t, amount, relatedWalletID, fundingSource, createdAt, updatedAt, expiryTime)
}

func scanTransactions(rows *sql.Rows) ([]*Transaction, error) {
	var result []*Transaction
	for rows.Next() {
		var (
			t                      Transaction
			amount                 string
			relatedWalletID        sql.NullString
			fundingSource          sql.NullString
			expiryTime             sql.NullInt64
			createdAt, updatedAt   int64
		)
		if err := rows.Scan(&t.ID, &t.WalletID, &relatedWalletID, &amount, &t.Type, &fundingSource, &t.Reference, &t.Status, &createdAt, &updatedAt, &expiryTime); err != nil {
			return nil, err
		}
		built, err := buildTransaction(&t, amount, relatedWalletID, fundingSource, createdAt, updatedAt, expiryTime)
		if err != nil {
			return nil, err
		}
		result = append(result, built)
	}
	return result, rows.Err()
}

func buildTransaction(t *Transaction, amount string, relatedWalletID, fundingSource sql.NullString, createdAt, updatedAt int64, expiryTime sql.NullInt64) (*Transaction, error) {
	amt, err := money.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	t.Amount = amt
	t.RelatedWalletID = relatedWalletID
	t.FundingSource = fundingSource
	t.CreatedAt = time.Unix(createdAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	if expiryTime.Valid {
		t.ExpiryTime = sql.NullTime{Time: time.Unix(expiryTime.Int64, 0), Valid: true}
	}
	return t, nil
}

func nullableString(s sql.NullString) interface{} {
	if s.Valid {
		return s.String
	}
	return nil
}

// sqlNullString wraps s as a valid sql.NullString, for building
// Transaction values in this package's tests.
func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// sqlNullTime wraps t as a valid sql.NullTime, for building Transaction
// values in this package's tests.
func sqlNullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: true}
}
