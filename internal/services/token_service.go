package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timegate/backend/internal/config"
	"github.com/timegate/backend/internal/models"
)

var (
	// ErrInvalidDuration is returned by Issue for durations without a
	// configured price.
	ErrInvalidDuration = errors.New("no price configured for duration")

	// ErrTokenInvalid covers unknown, revoked and malformed tokens. Expired
	// tokens are distinguished internally but callers outside the engine
	// should treat both identically, so token existence is not leaked.
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")

	// ErrNotRevocable is returned when a token is not owned by the caller,
	// already revoked, or has been activated. Only a fully unconsumed token
	// is refundable.
	ErrNotRevocable = errors.New("token not revocable")
)

const secretBytes = 32 // 256 bits of entropy

// ValidationResult is what a successful validation yields, and what the
// cache stores keyed by fingerprint.
type ValidationResult struct {
	AccountID string            `json:"accountId"`
	TokenID   string            `json:"tokenId"`
	Scope     models.TokenScope `json:"scope"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// IssueResult is returned by Issue. The secret is shown exactly once.
type IssueResult struct {
	TokenID       string            `json:"tokenId"`
	Secret        string            `json:"token"`
	Cost          decimal.Decimal   `json:"cost"`
	DurationHours int               `json:"durationHours"`
	Scope         models.TokenScope `json:"scope"`
}

// TokenService orchestrates the capability token lifecycle: issuance debits
// the ledger, first validation lazily activates, and revocation of an
// unconsumed token refunds the full cost. A nil redis client disables the
// fast validation path; every lookup then goes to the store.
type TokenService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *LedgerService
	pricing *config.PricingTable
}

func NewTokenService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, pricing *config.PricingTable) *TokenService {
	return &TokenService{
		db:      db,
		redis:   redisClient,
		ledger:  ledger,
		pricing: pricing,
	}
}

// Fingerprint derives the one-way cache key for a secret. The raw secret is
// never cached or logged.
func Fingerprint(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// Issue creates a pending token and debits its price in one atomic unit. The
// token row is inserted before the account lock is taken, preserving the
// token-before-account lock order shared with Revoke. The cache is not
// populated: a pending token has no expiry yet.
func (s *TokenService) Issue(ctx context.Context, accountID string, durationHours int, scope models.TokenScope) (*IssueResult, error) {
	price, ok := s.pricing.Price(durationHours)
	if !ok {
		return nil, fmt.Errorf("%w: %d hours (configured: %v)", ErrInvalidDuration, durationHours, s.pricing.Durations())
	}

	if scope != models.ScopeUnrestricted && scope != models.ScopeRestrictedPathSet {
		return nil, fmt.Errorf("unknown scope %q", scope)
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("failed to generate secret: %w", err)
	}
	tokenID := uuid.New().String()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO capability_tokens (id, account_id, secret, duration_hours, scope, cost, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, true, $7)
	`, tokenID, accountID, secret, durationHours, string(scope), price, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to store token: %w", err)
	}

	reason := fmt.Sprintf("purchase %dh token %s", durationHours, tokenID)
	if _, err := s.ledger.DebitTx(ctx, tx, accountID, price, reason); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	log.Printf("[TOKEN] Issued token %s (fp=%s) for account %s: %dh, scope=%s, cost=%s",
		tokenID, Fingerprint(secret), accountID, durationHours, scope, price.StringFixed(2))

	return &IssueResult{
		TokenID:       tokenID,
		Secret:        secret,
		Cost:          price,
		DurationHours: durationHours,
		Scope:         scope,
	}, nil
}

// Validate resolves a bearer secret to its account, token, scope and expiry.
// The cache fast path takes no lock; on a miss the store row is locked so
// that racing first validations agree on a single activation instant.
func (s *TokenService) Validate(ctx context.Context, secret string) (*ValidationResult, error) {
	fingerprint := Fingerprint(secret)

	if cached := s.cacheGet(ctx, fingerprint); cached != nil {
		if cached.ExpiresAt.After(time.Now()) {
			return cached, nil
		}
		// Entry outlived its token; treat as a miss.
	}

	result, ttl, err := s.validateAgainstStore(ctx, secret, fingerprint)
	if err != nil {
		return nil, err
	}

	// Populated outside the store transaction: no lock is ever held across
	// a cache network call.
	s.cacheSet(ctx, fingerprint, result, ttl)
	return result, nil
}

func (s *TokenService) validateAgainstStore(ctx context.Context, secret, fingerprint string) (*ValidationResult, time.Duration, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	var (
		token       models.CapabilityToken
		activatedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT id, account_id, duration_hours, scope, active, activated_at
		FROM capability_tokens
		WHERE secret = $1
		FOR UPDATE
	`, secret).Scan(&token.ID, &token.AccountID, &token.DurationHours, &token.Scope, &token.Active, &activatedAt)

	if err == sql.ErrNoRows {
		log.Printf("[TOKEN] Validation failed for unknown token fp=%s", fingerprint)
		return nil, 0, ErrTokenInvalid
	}
	if err != nil {
		return nil, 0, fmt.Errorf("token lookup failed: %w", err)
	}

	if !token.Active {
		log.Printf("[TOKEN] Validation failed for revoked token %s", token.ID)
		return nil, 0, ErrTokenInvalid
	}

	now := time.Now()
	duration := time.Duration(token.DurationHours) * time.Hour

	var expiresAt time.Time
	if !activatedAt.Valid {
		// First use: the activation transition. The row lock serializes
		// racing validations; only one observes a null activated_at.
		if _, err := tx.ExecContext(ctx, `
			UPDATE capability_tokens SET activated_at = $1 WHERE id = $2
		`, now, token.ID); err != nil {
			return nil, 0, fmt.Errorf("token activation failed: %w", err)
		}
		expiresAt = now.Add(duration)
		log.Printf("[TOKEN] Activated token %s, expires %s", token.ID, expiresAt.Format(time.RFC3339))
	} else {
		expiresAt = activatedAt.Time.Add(duration)
		if !expiresAt.After(now) {
			return nil, 0, ErrTokenExpired
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	result := &ValidationResult{
		AccountID: token.AccountID,
		TokenID:   token.ID,
		Scope:     token.Scope,
		ExpiresAt: expiresAt,
	}
	return result, time.Until(expiresAt), nil
}

// Revoke cancels a still-pending token owned by the caller and credits the
// full cost snapshot back, in one atomic unit. A token validated even once is
// not revocable, so there is no use-then-refund incentive.
func (s *TokenService) Revoke(ctx context.Context, tokenID, accountID string) (decimal.Decimal, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback()

	var (
		ownerID     string
		secret      string
		cost        decimal.Decimal
		active      bool
		activatedAt sql.NullTime
	)
	err = tx.QueryRowContext(ctx, `
		SELECT account_id, secret, cost, active, activated_at
		FROM capability_tokens
		WHERE id = $1
		FOR UPDATE
	`, tokenID).Scan(&ownerID, &secret, &cost, &active, &activatedAt)

	if err == sql.ErrNoRows {
		return decimal.Zero, ErrNotRevocable
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("token lookup failed: %w", err)
	}

	if ownerID != accountID || !active || activatedAt.Valid {
		return decimal.Zero, ErrNotRevocable
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE capability_tokens SET active = false, revoked_at = $1 WHERE id = $2
	`, time.Now(), tokenID); err != nil {
		return decimal.Zero, fmt.Errorf("token revocation failed: %w", err)
	}

	reason := fmt.Sprintf("refund token %s", tokenID)
	if _, err := s.ledger.CreditTx(ctx, tx, accountID, cost, models.EntryRefund, reason, ""); err != nil {
		return decimal.Zero, err
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, err
	}

	// A pending token was never cacheable, but clear anyway.
	s.cacheDel(ctx, Fingerprint(secret))

	log.Printf("[TOKEN] Revoked token %s for account %s, refunded %s", tokenID, accountID, cost.StringFixed(2))
	return cost, nil
}

// ListTokens returns the account's tokens, newest first, with secrets masked.
func (s *TokenService) ListTokens(ctx context.Context, accountID string) ([]models.CapabilityToken, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, duration_hours, scope, cost, active, created_at, activated_at, revoked_at
		FROM capability_tokens
		WHERE account_id = $1
		ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := []models.CapabilityToken{}
	for rows.Next() {
		var (
			token       models.CapabilityToken
			activatedAt sql.NullTime
			revokedAt   sql.NullTime
		)
		if err := rows.Scan(&token.ID, &token.AccountID, &token.DurationHours, &token.Scope,
			&token.Cost, &token.Active, &token.CreatedAt, &activatedAt, &revokedAt); err != nil {
			return nil, err
		}
		if activatedAt.Valid {
			token.ActivatedAt = &activatedAt.Time
		}
		if revokedAt.Valid {
			token.RevokedAt = &revokedAt.Time
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Cache helpers. Failures are logged and swallowed: a cache outage degrades
// latency, never correctness.

func (s *TokenService) cacheGet(ctx context.Context, fingerprint string) *ValidationResult {
	if s.redis == nil {
		return nil
	}

	data, err := s.redis.Get(ctx, cacheKey(fingerprint)).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("[TOKEN] Cache read failed for fp=%s, falling back to store: %v", fingerprint, err)
		return nil
	}

	var result ValidationResult
	if err := json.Unmarshal(data, &result); err != nil {
		log.Printf("[TOKEN] Corrupt cache entry for fp=%s: %v", fingerprint, err)
		return nil
	}
	return &result
}

func (s *TokenService) cacheSet(ctx context.Context, fingerprint string, result *ValidationResult, ttl time.Duration) {
	if s.redis == nil || ttl <= 0 {
		return
	}

	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(fingerprint), data, ttl).Err(); err != nil {
		log.Printf("[TOKEN] Cache write failed for fp=%s: %v", fingerprint, err)
	}
}

func (s *TokenService) cacheDel(ctx context.Context, fingerprint string) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(fingerprint)).Err(); err != nil {
		log.Printf("[TOKEN] Cache delete failed for fp=%s: %v", fingerprint, err)
	}
}

func cacheKey(fingerprint string) string {
	return "token:" + fingerprint
}
