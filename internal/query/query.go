// Package query implements the Read/Query Layer (spec §4.8): cached,
// paginated listings of a user's transactions, invalidated on any
// transaction write that touches that user.
package query

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/klingon-exchange/walletd/internal/storage"
	"github.com/klingon-exchange/walletd/pkg/apperr"
	"github.com/klingon-exchange/walletd/pkg/logging"
	"github.com/klingon-exchange/walletd/pkg/money"
)

// Filter narrows a transaction listing beyond plain pagination. Zero
// values mean "no constraint" on that field. Filtered queries bypass the
// page cache: the cache's key space (spec §3: user_id, page, page_size)
// has no room for arbitrary filter combinations, and original_source's
// filters.py treats filtering and the cached happy-path listing as
// separate concerns.
type Filter struct {
	Type      string
	Status    string
	From      time.Time
	To        time.Time
	MinAmount money.Amount
	MaxAmount money.Amount
}

func (f Filter) isZero() bool {
	return f.Type == "" && f.Status == "" && f.From.IsZero() && f.To.IsZero() &&
		f.MinAmount.IsZero() && f.MaxAmount.IsZero()
}

func (f Filter) matches(t *storage.Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && t.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && t.CreatedAt.After(f.To) {
		return false
	}
	if !f.MinAmount.IsZero() && t.Amount.LessThan(f.MinAmount) {
		return false
	}
	if !f.MaxAmount.IsZero() && t.Amount.Cmp(f.MaxAmount) > 0 {
		return false
	}
	return true
}

// Page is one page of a user's transaction listing.
type Page struct {
	Transactions []*storage.Transaction
	Total        int
	Page         int
	PageSize     int
}

type cacheEntry struct {
	page      *Page
	expiresAt time.Time
}

// Service is the Read/Query Layer. It wraps the Transaction Repository
// with an in-process, per-user-invalidated TTL cache.
type Service struct {
	txns    *storage.TransactionRepository
	wallets *storage.WalletRepository
	ttl     time.Duration
	log     *logging.Logger

	mu      sync.Mutex
	entries map[string]cacheEntry   // cache key -> entry
	byUser  map[string]map[string]struct{} // user_id -> set of cache keys, for pattern-delete (spec §9)
}

// NewService builds a Service over store with the given cache TTL.
func NewService(txns *storage.TransactionRepository, wallets *storage.WalletRepository, ttl time.Duration) *Service {
	return &Service{
		txns:    txns,
		wallets: wallets,
		ttl:     ttl,
		log:     logging.GetDefault().Component("query"),
		entries: make(map[string]cacheEntry),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// ListTransactions returns page (1-indexed) of userID's transactions,
// ordered created_at desc, where userID is the subject or the
// counterparty (spec §4.8). Unfiltered queries are served from the
// per-(user, page, page_size) cache when warm.
func (s *Service) ListTransactions(ctx context.Context, userID string, filter Filter, page, pageSize int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	cacheable := filter.isZero()
	key := cacheKey(userID, page, pageSize)
	if cacheable {
		if p, ok := s.get(key); ok {
			return p, nil
		}
	}

	wallet, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		return &Page{Transactions: nil, Page: page, PageSize: pageSize}, nil
	}

	if cacheable {
		offset := (page - 1) * pageSize
		txns, err := s.txns.ListForUser(ctx, wallet.ID, pageSize, offset)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		total, err := s.txns.CountForUser(ctx, wallet.ID)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		result := &Page{Transactions: txns, Total: total, Page: page, PageSize: pageSize}
		s.put(userID, key, result)
		return result, nil
	}

	// Filtered listings scan the full set for wallet.ID and apply the
	// filter in-process; the Transaction Repository's index is on
	// (wallet_id, created_at), not on filter fields, so pushing the
	// filter into SQL would need per-field query variants original_source
	// builds dynamically (wallet/filters.py) that this engine keeps simple
	// by filtering application-side instead.
	all, err := s.txns.ListForUser(ctx, wallet.ID, 1_000_000, 0)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	var filtered []*storage.Transaction
	for _, t := range all {
		if filter.matches(t) {
			filtered = append(filtered, t)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return &Page{Transactions: filtered[start:end], Total: total, Page: page, PageSize: pageSize}, nil
}

// GetTransaction returns the transaction with id, provided userID is its
// subject or counterparty. NotFound if it doesn't exist; Forbidden if it
// exists but belongs to neither (spec §6 GetTransaction error table).
func (s *Service) GetTransaction(ctx context.Context, userID, id string) (*storage.Transaction, error) {
	txn, err := s.txns.GetByIDReadOnly(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, "transaction not found", err)
	}

	wallet, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		return nil, apperr.New(apperr.KindForbidden, "caller has no wallet")
	}

	isSubject := txn.WalletID == wallet.ID
	isCounterparty := txn.RelatedWalletID.Valid && txn.RelatedWalletID.String == wallet.ID
	if !isSubject && !isCounterparty {
		return nil, apperr.New(apperr.KindForbidden, "caller is neither the subject nor the counterparty")
	}
	return txn, nil
}

// Invalidate purges every cached page for each user in userIDs,
// satisfying Invariant C1 (spec §3): "on any transaction insert or status
// change, every cache entry whose user_id ∈ {subject, counterparty} is
// invalidated before the next read is served." Implements
// ledger.Invalidator.
func (s *Service) Invalidate(userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, userID := range userIDs {
		if userID == "" {
			continue
		}
		keys := s.byUser[userID]
		for key := range keys {
			delete(s.entries, key)
		}
		delete(s.byUser, userID)
	}
}

func (s *Service) get(key string) (*Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.page, true
}

func (s *Service) put(userID, key string, page *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cacheEntry{page: page, expiresAt: time.Now().Add(s.ttl)}
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]struct{})
	}
	s.byUser[userID][key] = struct{}{}
}

func cacheKey(userID string, page, pageSize int) string {
	return userID + "|" + strconv.Itoa(page) + "|" + strconv.Itoa(pageSize)
}
