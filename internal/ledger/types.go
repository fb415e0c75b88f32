package ledger

import "github.com/klingon-exchange/walletd/internal/storage"

// DepositResult is the outcome of Deposit.
type DepositResult struct {
	Transaction *storage.Transaction
	Wallet      *storage.Wallet
}

// WithdrawalResult is the outcome of Withdrawal.
type WithdrawalResult struct {
	Transaction *storage.Transaction
	Wallet      *storage.Wallet
}

// TransferResult is the outcome of initiating a Transfer.
type TransferResult struct {
	Reference string
	OutLeg    *storage.Transaction
	InLeg     *storage.Transaction
}

// ProcessActionResult is the outcome of Accept/Reject.
type ProcessActionResult struct {
	Reference string
	Action    string
}

// CashOutRequestResult is the outcome of CashOutRequest.
type CashOutRequestResult struct {
	WithdrawalCode string
	Amount         string
	PhoneNumber    string
	Transaction    *storage.Transaction
}

// CashOutVerifyResult is the outcome of CashOutVerify.
type CashOutVerifyResult struct {
	Status        string
	Amount        string
	TransactionID string
}
