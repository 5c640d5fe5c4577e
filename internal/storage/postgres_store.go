package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Avantemaps-pi/avante-verifier-internal/internal/config"
	"github.com/Avantemaps-pi/avante-verifier-internal/internal/metrics"
)

// Default table names; overridable through config for deployments that
// share a database with other services.
const (
	defaultVerificationsTable = "business_verifications"
	defaultRateBucketsTable   = "rate_buckets"
	defaultUsageTable         = "subscription_usage"
	defaultDeliveriesTable    = "webhook_deliveries"
)

// PostgresStore implements Store over a shared *sql.DB pool.
type PostgresStore struct {
	db      *sql.DB
	metrics *metrics.Metrics

	verificationsTable string
	rateBucketsTable   string
	usageTable         string
	deliveriesTable    string
}

// NewPostgresStore creates the store and ensures its schema exists.
func NewPostgresStore(db *sql.DB, tables config.TableMappingConfig, m *metrics.Metrics) (*PostgresStore, error) {
	s := &PostgresStore{
		db:                 db,
		metrics:            m,
		verificationsTable: tableOrDefault(tables.Verifications, defaultVerificationsTable),
		rateBucketsTable:   tableOrDefault(tables.RateBuckets, defaultRateBucketsTable),
		usageTable:         tableOrDefault(tables.SubscriptionUsage, defaultUsageTable),
		deliveriesTable:    tableOrDefault(tables.WebhookDeliveries, defaultDeliveriesTable),
	}
	if err := s.ensureSchema(); err != nil {
		return nil, fmt.Errorf("ensure storage schema: %w", err)
	}
	return s, nil
}

func tableOrDefault(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func (s *PostgresStore) ensureSchema() error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			wallet_address TEXT NOT NULL UNIQUE,
			business_name TEXT NOT NULL,
			external_user_id TEXT NOT NULL,
			total_transactions INTEGER NOT NULL,
			credited_transactions INTEGER NOT NULL,
			unique_wallets INTEGER NOT NULL,
			meets_requirements BOOLEAN NOT NULL,
			failure_reason TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, s.verificationsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			wallet_address TEXT PRIMARY KEY,
			count INTEGER NOT NULL,
			window_start TIMESTAMPTZ NOT NULL
		)`, s.rateBucketsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			external_user_id TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			monthly_limit INTEGER NOT NULL DEFAULT %d,
			used INTEGER NOT NULL DEFAULT 0,
			period_start TIMESTAMPTZ NOT NULL
		)`, s.usageTable, freeTierMonthlyLimit),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			verification_id TEXT NOT NULL,
			url TEXT NOT NULL,
			event TEXT NOT NULL,
			payload BYTEA NOT NULL,
			status TEXT NOT NULL,
			http_status INTEGER NOT NULL DEFAULT 0,
			response_snippet TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`, s.deliveriesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created_at ON %s (created_at DESC)`,
			s.deliveriesTable, s.deliveriesTable),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) observe(operation string, start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveDBQuery(operation, "postgres", time.Since(start))
	}
}

func (s *PostgresStore) UpsertVerification(ctx context.Context, rec *VerificationRecord) (*VerificationRecord, error) {
	defer s.observe("upsert_verification", time.Now())

	stored := *rec
	if stored.ID == "" {
		stored.ID = NewVerificationID()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now().UTC()
	}

	// On conflict the existing id wins so repeat verifications keep a
	// stable identifier.
	query := fmt.Sprintf(`
		INSERT INTO %s (id, wallet_address, business_name, external_user_id,
			total_transactions, credited_transactions, unique_wallets,
			meets_requirements, failure_reason, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (wallet_address) DO UPDATE SET
			business_name = EXCLUDED.business_name,
			external_user_id = EXCLUDED.external_user_id,
			total_transactions = EXCLUDED.total_transactions,
			credited_transactions = EXCLUDED.credited_transactions,
			unique_wallets = EXCLUDED.unique_wallets,
			meets_requirements = EXCLUDED.meets_requirements,
			failure_reason = EXCLUDED.failure_reason,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, updated_at`, s.verificationsTable)

	err := s.db.QueryRowContext(ctx, query,
		stored.ID, stored.WalletAddress, stored.BusinessName, stored.ExternalUserID,
		stored.TotalTransactions, stored.CreditedTransactions, stored.UniqueWallets,
		stored.MeetsRequirements, stored.FailureReason, string(stored.Status), stored.UpdatedAt,
	).Scan(&stored.ID, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upsert verification: %w", err)
	}
	return &stored, nil
}

func (s *PostgresStore) GetVerificationByWallet(ctx context.Context, wallet string) (*VerificationRecord, error) {
	defer s.observe("get_verification", time.Now())

	query := fmt.Sprintf(`
		SELECT id, wallet_address, business_name, external_user_id,
			total_transactions, credited_transactions, unique_wallets,
			meets_requirements, failure_reason, status, updated_at
		FROM %s WHERE wallet_address = $1`, s.verificationsTable)

	var rec VerificationRecord
	var status string
	err := s.db.QueryRowContext(ctx, query, wallet).Scan(
		&rec.ID, &rec.WalletAddress, &rec.BusinessName, &rec.ExternalUserID,
		&rec.TotalTransactions, &rec.CreditedTransactions, &rec.UniqueWallets,
		&rec.MeetsRequirements, &rec.FailureReason, &status, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get verification: %w", err)
	}
	rec.Status = VerificationStatus(status)
	return &rec, nil
}

// RateLimit runs the check-and-increment inside one transaction with a row
// lock, so concurrent requests for the same wallet serialise here.
func (s *PostgresStore) RateLimit(ctx context.Context, wallet string, max int, window time.Duration) (RateLimitResult, error) {
	defer s.observe("rate_limit", time.Now())

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit begin: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`
		INSERT INTO %s (wallet_address, count, window_start)
		VALUES ($1, 0, $2)
		ON CONFLICT (wallet_address) DO NOTHING`, s.rateBucketsTable)
	if _, err := tx.ExecContext(ctx, insert, wallet, now); err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit insert: %w", err)
	}

	var (
		count       int
		windowStart time.Time
	)
	sel := fmt.Sprintf(`SELECT count, window_start FROM %s WHERE wallet_address = $1 FOR UPDATE`,
		s.rateBucketsTable)
	if err := tx.QueryRowContext(ctx, sel, wallet).Scan(&count, &windowStart); err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit select: %w", err)
	}

	allowed := true
	switch {
	case now.Sub(windowStart) >= window:
		count = 1
		windowStart = now
	case count >= max:
		allowed = false
	default:
		count++
	}

	if allowed {
		update := fmt.Sprintf(`UPDATE %s SET count = $2, window_start = $3 WHERE wallet_address = $1`,
			s.rateBucketsTable)
		if _, err := tx.ExecContext(ctx, update, wallet, count, windowStart); err != nil {
			return RateLimitResult{}, fmt.Errorf("rate limit update: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return RateLimitResult{}, fmt.Errorf("rate limit commit: %w", err)
	}

	return RateLimitResult{
		Allowed: allowed,
		Count:   count,
		Limit:   max,
		ResetAt: windowStart.Add(window),
	}, nil
}

func (s *PostgresStore) CheckAllowance(ctx context.Context, externalUserID string) (Allowance, error) {
	defer s.observe("check_allowance", time.Now())

	now := time.Now().UTC()
	query := fmt.Sprintf(`SELECT tier, monthly_limit, used, period_start FROM %s WHERE external_user_id = $1`,
		s.usageTable)

	var (
		tier        string
		limit, used int
		periodStart time.Time
	)
	err := s.db.QueryRowContext(ctx, query, externalUserID).Scan(&tier, &limit, &used, &periodStart)
	if errors.Is(err, sql.ErrNoRows) {
		// No subscription row: free tier, untouched this month.
		return Allowance{
			Allowed:   freeTierMonthlyLimit > 0,
			Remaining: freeTierMonthlyLimit,
			Tier:      "free",
			ExpiresAt: periodEnd(now),
		}, nil
	}
	if err != nil {
		return Allowance{}, fmt.Errorf("check allowance: %w", err)
	}

	if !sameMonth(periodStart, now) {
		used = 0
	}
	if limit < 0 {
		return Allowance{Allowed: true, Remaining: -1, Tier: tier, ExpiresAt: periodEnd(now)}, nil
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Allowance{
		Allowed:   remaining > 0,
		Remaining: remaining,
		Tier:      tier,
		ExpiresAt: periodEnd(now),
	}, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, externalUserID string) error {
	defer s.observe("increment_usage", time.Now())

	now := time.Now().UTC()
	query := fmt.Sprintf(`
		INSERT INTO %s (external_user_id, tier, monthly_limit, used, period_start)
		VALUES ($1, 'free', %d, 1, $2)
		ON CONFLICT (external_user_id) DO UPDATE SET
			used = CASE
				WHEN date_trunc('month', %s.period_start) = date_trunc('month', $2::timestamptz)
					THEN %s.used + 1
				ELSE 1
			END,
			period_start = CASE
				WHEN date_trunc('month', %s.period_start) = date_trunc('month', $2::timestamptz)
					THEN %s.period_start
				ELSE $2
			END`,
		s.usageTable, freeTierMonthlyLimit, s.usageTable, s.usageTable, s.usageTable, s.usageTable)

	if _, err := s.db.ExecContext(ctx, query, externalUserID, monthStart(now)); err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) LogWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	defer s.observe("log_delivery", time.Now())

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, verification_id, url, event, payload, status,
			http_status, response_snippet, error_message, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.deliveriesTable)

	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.VerificationID, d.URL, d.Event, d.Payload, d.Status,
		d.HTTPStatus, d.ResponseSnippet, d.ErrorMessage, d.Attempts, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("log webhook delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWebhookDelivery(ctx context.Context, id string, update DeliveryUpdate) error {
	defer s.observe("update_delivery", time.Now())

	query := fmt.Sprintf(`
		UPDATE %s SET status = $2, http_status = $3, response_snippet = $4,
			error_message = $5, attempts = $6, completed_at = $7
		WHERE id = $1`, s.deliveriesTable)

	res, err := s.db.ExecContext(ctx, query,
		id, update.Status, update.HTTPStatus, update.ResponseSnippet,
		update.ErrorMessage, update.Attempts, update.CompletedAt)
	if err != nil {
		return fmt.Errorf("update webhook delivery: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
	defer s.observe("list_deliveries", time.Now())

	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
		SELECT id, verification_id, url, event, payload, status,
			http_status, response_snippet, error_message, attempts,
			created_at, completed_at
		FROM %s ORDER BY created_at DESC LIMIT $1`, s.deliveriesTable)

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	var out []WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		var completedAt sql.NullTime
		if err := rows.Scan(
			&d.ID, &d.VerificationID, &d.URL, &d.Event, &d.Payload, &d.Status,
			&d.HTTPStatus, &d.ResponseSnippet, &d.ErrorMessage, &d.Attempts,
			&d.CreatedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		if completedAt.Valid {
			t := completedAt.Time
			d.CompletedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close is a no-op; the shared pool owns the connection lifecycle.
func (s *PostgresStore) Close() error {
	return nil
}
