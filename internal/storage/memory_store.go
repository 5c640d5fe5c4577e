package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// freeTierMonthlyLimit is the verification quota granted to users with no
// subscription row.
const freeTierMonthlyLimit = 100

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu            sync.Mutex
	verifications map[string]*VerificationRecord // by wallet
	buckets       map[string]*rateBucket
	usage         map[string]*usageRow
	deliveries    map[string]*WebhookDelivery
}

type rateBucket struct {
	count       int
	windowStart time.Time
}

type usageRow struct {
	tier        string
	limit       int // < 0 means unlimited
	used        int
	periodStart time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verifications: make(map[string]*VerificationRecord),
		buckets:       make(map[string]*rateBucket),
		usage:         make(map[string]*usageRow),
		deliveries:    make(map[string]*WebhookDelivery),
	}
}

func (s *MemoryStore) UpsertVerification(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *rec
	if existing, ok := s.verifications[rec.WalletAddress]; ok {
		stored.ID = existing.ID
	} else if stored.ID == "" {
		stored.ID = NewVerificationID()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}
	s.verifications[rec.WalletAddress] = &stored

	out := stored
	return &out, nil
}

func (s *MemoryStore) GetVerificationByWallet(ctx context.Context, wallet string) (*VerificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.verifications[wallet]
	if !ok {
		return nil, ErrNotFound
	}
	out := *rec
	return &out, nil
}

func (s *MemoryStore) RateLimit(ctx context.Context, wallet string, max int, window time.Duration) (RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	b, ok := s.buckets[wallet]
	if !ok || now.Sub(b.windowStart) >= window {
		s.buckets[wallet] = &rateBucket{count: 1, windowStart: now}
		return RateLimitResult{Allowed: true, Count: 1, Limit: max, ResetAt: now.Add(window)}, nil
	}

	resetAt := b.windowStart.Add(window)
	if b.count >= max {
		return RateLimitResult{Allowed: false, Count: b.count, Limit: max, ResetAt: resetAt}, nil
	}
	b.count++
	return RateLimitResult{Allowed: true, Count: b.count, Limit: max, ResetAt: resetAt}, nil
}

func (s *MemoryStore) CheckAllowance(ctx context.Context, externalUserID string) (Allowance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.usageRowLocked(externalUserID)
	if row.limit < 0 {
		return Allowance{Allowed: true, Remaining: -1, Tier: row.tier, ExpiresAt: periodEnd(row.periodStart)}, nil
	}
	remaining := row.limit - row.used
	if remaining < 0 {
		remaining = 0
	}
	return Allowance{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Tier:      row.tier,
		ExpiresAt: periodEnd(row.periodStart),
	}, nil
}

func (s *MemoryStore) IncrementUsage(ctx context.Context, externalUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.usageRowLocked(externalUserID)
	row.used++
	return nil
}

// GrantTier assigns a tier and monthly limit to a user. Test helper; the
// production subscription flow writes these rows out of band.
func (s *MemoryStore) GrantTier(externalUserID, tier string, monthlyLimit int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.usageRowLocked(externalUserID)
	row.tier = tier
	row.limit = monthlyLimit
}

// usageRowLocked fetches or creates the usage row, rolling the monthly
// period forward when it has lapsed. Caller holds the lock.
func (s *MemoryStore) usageRowLocked(externalUserID string) *usageRow {
	now := time.Now().UTC()
	row, ok := s.usage[externalUserID]
	if !ok {
		row = &usageRow{tier: "free", limit: freeTierMonthlyLimit, periodStart: monthStart(now)}
		s.usage[externalUserID] = row
		return row
	}
	if !sameMonth(row.periodStart, now) {
		row.used = 0
		row.periodStart = monthStart(now)
	}
	return row
}

func (s *MemoryStore) LogWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *d
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.deliveries[d.ID] = &stored
	return nil
}

func (s *MemoryStore) UpdateWebhookDelivery(ctx context.Context, id string, update DeliveryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return ErrNotFound
	}
	d.Status = update.Status
	d.HTTPStatus = update.HTTPStatus
	d.ResponseSnippet = update.ResponseSnippet
	d.ErrorMessage = update.ErrorMessage
	d.Attempts = update.Attempts
	completed := update.CompletedAt
	d.CompletedAt = &completed
	return nil
}

func (s *MemoryStore) ListWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WebhookDelivery, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func periodEnd(periodStart time.Time) time.Time {
	return monthStart(periodStart).AddDate(0, 1, 0)
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
