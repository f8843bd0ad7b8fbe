// Package redis provides a Redis implementation of the entitlement Ledger
// and SessionStore interfaces. Balance mutations and session writes go
// through Lua scripts so each operation is atomic on the server.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marketmood/entitlement/pkg/entitlement"
)

// Store implements entitlement.Ledger and entitlement.SessionStore using Redis
type Store struct {
	client  redis.UniversalClient
	config  Config
	scripts map[string]*redis.Script
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "entitlement:")
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "entitlement:",
	}
}

// New creates a new Redis store.
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring.
func New(client redis.UniversalClient, config Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "entitlement:"
	}

	s := &Store{
		client:  client,
		config:  config,
		scripts: make(map[string]*redis.Script),
	}
	s.loadScripts()
	return s, nil
}

// loadScripts compiles the Lua scripts for atomic operations
func (s *Store) loadScripts() {
	// Charge: balance check, deduction, version bump, and tx append in one step
	s.scripts["charge"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local txlogKey = KEYS[2]
		local amount = tonumber(ARGV[1])
		local txData = ARGV[2]
		local updatedAt = ARGV[3]

		local balance = redis.call('HGET', acctKey, 'balance')
		if not balance then
			return {-1, 'unknown'}
		end
		balance = tonumber(balance)

		if balance < amount then
			return {balance, 'insufficient'}
		end

		local newBalance = redis.call('HINCRBY', acctKey, 'balance', -amount)
		redis.call('HINCRBY', acctKey, 'version', 1)
		redis.call('HSET', acctKey, 'updated_at', updatedAt)
		redis.call('RPUSH', txlogKey, txData)
		return {newBalance, 'ok'}
	`)

	// Refill: addition, version bump, tx append
	s.scripts["refill"] = redis.NewScript(`
		local acctKey = KEYS[1]
		local txlogKey = KEYS[2]
		local amount = tonumber(ARGV[1])
		local txData = ARGV[2]
		local updatedAt = ARGV[3]

		if redis.call('EXISTS', acctKey) == 0 then
			return {-1, 'unknown'}
		end

		local newBalance = redis.call('HINCRBY', acctKey, 'balance', amount)
		redis.call('HINCRBY', acctKey, 'version', 1)
		redis.call('HSET', acctKey, 'updated_at', updatedAt)
		redis.call('RPUSH', txlogKey, txData)
		return {newBalance, 'ok'}
	`)

	// Put: supersede the current active session for the key (if any) and
	// install the new one, all in one step
	s.scripts["put"] = redis.NewScript(`
		local activeKey = KEYS[1]
		local sessKey = KEYS[2]
		local historyKey = KEYS[3]
		local componentsKey = KEYS[4]
		local indexKey = KEYS[5]
		local sessPrefix = ARGV[1]
		local sessionID = ARGV[2]
		local component = ARGV[3]
		local expiresAt = tonumber(ARGV[4])

		local prev = redis.call('GET', activeKey)
		if prev then
			redis.call('HSET', sessPrefix .. prev, 'status', 'superseded')
			redis.call('ZREM', indexKey, prev)
		end

		for i = 5, #ARGV - 1, 2 do
			redis.call('HSET', sessKey, ARGV[i], ARGV[i + 1])
		end

		redis.call('SET', activeKey, sessionID)
		redis.call('RPUSH', historyKey, sessionID)
		redis.call('SADD', componentsKey, component)
		redis.call('ZADD', indexKey, expiresAt, sessionID)
		return 'ok'
	`)

	// ExpireStale: walk the active index and transition everything past due
	s.scripts["expire_stale"] = redis.NewScript(`
		local indexKey = KEYS[1]
		local sessPrefix = ARGV[1]
		local now = ARGV[2]

		local ids = redis.call('ZRANGEBYSCORE', indexKey, '-inf', now)
		local count = 0
		for _, id in ipairs(ids) do
			local status = redis.call('HGET', sessPrefix .. id, 'status')
			if status == 'active' then
				redis.call('HSET', sessPrefix .. id, 'status', 'expired')
				count = count + 1
			end
			redis.call('ZREM', indexKey, id)
		end
		return count
	`)
}

func (s *Store) accountKey(accountID string) string {
	return s.config.KeyPrefix + "account:" + accountID
}

func (s *Store) txlogKey(accountID string) string {
	return s.config.KeyPrefix + "txlog:" + accountID
}

func (s *Store) sessionKey(sessionID string) string {
	return s.sessionPrefix() + sessionID
}

func (s *Store) sessionPrefix() string {
	return s.config.KeyPrefix + "sess:"
}

func (s *Store) activeKey(accountID string, component entitlement.Component) string {
	return s.config.KeyPrefix + "active:" + accountID + ":" + string(component)
}

func (s *Store) historyKey(accountID string) string {
	return s.config.KeyPrefix + "history:" + accountID
}

func (s *Store) componentsKey(accountID string) string {
	return s.config.KeyPrefix + "components:" + accountID
}

func (s *Store) activeIndexKey() string {
	return s.config.KeyPrefix + "active_index"
}

// CreateAccount implements entitlement.Ledger
func (s *Store) CreateAccount(ctx context.Context, acct *entitlement.Account) error {
	if acct == nil || acct.ID == "" {
		return fmt.Errorf("invalid account")
	}
	if acct.CreditBalance < 0 {
		return entitlement.ErrInvalidAmount
	}

	key := s.accountKey(acct.ID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists == 1 {
		return fmt.Errorf("account %s already exists", acct.ID)
	}

	now := time.Now().UTC()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	err = s.client.HSet(ctx, key, map[string]interface{}{
		"id":          acct.ID,
		"tier":        string(acct.Tier),
		"balance":     acct.CreditBalance,
		"version":     0,
		"deactivated": boolField(acct.Deactivated),
		"created_at":  createdAt.Format(time.RFC3339Nano),
		"updated_at":  now.Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount implements entitlement.Ledger
func (s *Store) GetAccount(ctx context.Context, accountID string) (*entitlement.Account, error) {
	fields, err := s.client.HGetAll(ctx, s.accountKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	return parseAccount(fields)
}

// GetBalance implements entitlement.Ledger
func (s *Store) GetBalance(ctx context.Context, accountID string) (int, error) {
	val, err := s.client.HGet(ctx, s.accountKey(accountID), "balance").Result()
	if err == redis.Nil {
		return 0, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return strconv.Atoi(val)
}

// DeactivateAccount implements entitlement.Ledger
func (s *Store) DeactivateAccount(ctx context.Context, accountID string) error {
	key := s.accountKey(accountID)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to check account: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}
	return s.client.HSet(ctx, key,
		"deactivated", "1",
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano)).Err()
}

// Charge implements entitlement.Ledger via the charge script
func (s *Store) Charge(ctx context.Context, req *entitlement.ChargeRequest) (*entitlement.CreditTransaction, error) {
	if req == nil || req.Amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	record := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: req.AccountID,
		Amount:    -req.Amount,
		Reason:    req.Reason,
		Timestamp: time.Now().UTC(),
	}
	txData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	res, err := s.scripts["charge"].Run(ctx, s.client,
		[]string{s.accountKey(req.AccountID), s.txlogKey(req.AccountID)},
		req.Amount, string(txData), record.Timestamp.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return nil, fmt.Errorf("charge script failed: %w", err)
	}

	balance, status, err := parseScriptReply(res)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return record, nil
	case "unknown":
		return nil, fmt.Errorf("%s: %w", req.AccountID, entitlement.ErrUnknownAccount)
	case "insufficient":
		return nil, &entitlement.InsufficientCreditsError{
			Required:  req.Amount,
			Available: balance,
		}
	default:
		return nil, fmt.Errorf("charge script returned %q", status)
	}
}

// Refill implements entitlement.Ledger via the refill script
func (s *Store) Refill(ctx context.Context, accountID string, amount int, reason string) (*entitlement.CreditTransaction, error) {
	if amount <= 0 {
		return nil, entitlement.ErrInvalidAmount
	}

	record := &entitlement.CreditTransaction{
		ID:        uuid.NewString(),
		AccountID: accountID,
		Amount:    amount,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	txData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transaction: %w", err)
	}

	res, err := s.scripts["refill"].Run(ctx, s.client,
		[]string{s.accountKey(accountID), s.txlogKey(accountID)},
		amount, string(txData), record.Timestamp.Format(time.RFC3339Nano)).Result()
	if err != nil {
		return nil, fmt.Errorf("refill script failed: %w", err)
	}

	_, status, err := parseScriptReply(res)
	if err != nil {
		return nil, err
	}
	switch status {
	case "ok":
		return record, nil
	case "unknown":
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	default:
		return nil, fmt.Errorf("refill script returned %q", status)
	}
}

// Transactions implements entitlement.Ledger
func (s *Store) Transactions(ctx context.Context, accountID string) ([]*entitlement.CreditTransaction, error) {
	if exists, err := s.client.Exists(ctx, s.accountKey(accountID)).Result(); err != nil {
		return nil, fmt.Errorf("failed to check account: %w", err)
	} else if exists == 0 {
		return nil, fmt.Errorf("%s: %w", accountID, entitlement.ErrUnknownAccount)
	}

	entries, err := s.client.LRange(ctx, s.txlogKey(accountID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction log: %w", err)
	}

	out := make([]*entitlement.CreditTransaction, 0, len(entries))
	for _, entry := range entries {
		var record entitlement.CreditTransaction
		if err := json.Unmarshal([]byte(entry), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
		}
		out = append(out, &record)
	}
	return out, nil
}

// GetActive implements entitlement.SessionStore
func (s *Store) GetActive(ctx context.Context, accountID string, component entitlement.Component) (*entitlement.Session, error) {
	sessionID, err := s.client.Get(ctx, s.activeKey(accountID, component)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active session: %w", err)
	}

	sess, err := s.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil || !sess.ActiveAt(time.Now()) {
		return nil, nil
	}
	return sess, nil
}

// Put implements entitlement.SessionStore via the put script
func (s *Store) Put(ctx context.Context, session *entitlement.Session) error {
	if session == nil || session.ID == "" || session.AccountID == "" || session.Component == "" {
		return fmt.Errorf("invalid session")
	}

	args := []interface{}{
		s.sessionPrefix(),
		session.ID,
		string(session.Component),
		session.ExpiresAt.UnixNano(),
		"id", session.ID,
		"account_id", session.AccountID,
		"component", string(session.Component),
		"credits_charged", session.CreditsCharged,
		"granted_at", session.GrantedAt.UTC().Format(time.RFC3339Nano),
		"expires_at", session.ExpiresAt.UTC().Format(time.RFC3339Nano),
		"tier_at_grant", string(session.TierAtGrant),
		"status", string(session.Status),
	}

	err := s.scripts["put"].Run(ctx, s.client,
		[]string{
			s.activeKey(session.AccountID, session.Component),
			s.sessionKey(session.ID),
			s.historyKey(session.AccountID),
			s.componentsKey(session.AccountID),
			s.activeIndexKey(),
		},
		args...).Err()
	if err != nil {
		return fmt.Errorf("put script failed: %w", err)
	}
	return nil
}

// ListActive implements entitlement.SessionStore
func (s *Store) ListActive(ctx context.Context, accountID string) ([]*entitlement.Session, error) {
	components, err := s.client.SMembers(ctx, s.componentsKey(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list components: %w", err)
	}

	var out []*entitlement.Session
	for _, component := range components {
		sess, err := s.GetActive(ctx, accountID, entitlement.Component(component))
		if err != nil {
			return nil, err
		}
		if sess != nil {
			out = append(out, sess)
		}
	}
	return out, nil
}

// MarkExpired implements entitlement.SessionStore
func (s *Store) MarkExpired(ctx context.Context, sessionID string) error {
	key := s.sessionKey(sessionID)
	status, err := s.client.HGet(ctx, key, "status").Result()
	if err == redis.Nil {
		return fmt.Errorf("%s: %w", sessionID, entitlement.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read session: %w", err)
	}
	if status != string(entitlement.StatusActive) {
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, "status", string(entitlement.StatusExpired))
	pipe.ZRem(ctx, s.activeIndexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mark session expired: %w", err)
	}
	return nil
}

// ExpireStale implements entitlement.SessionStore via the expire_stale script
func (s *Store) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	res, err := s.scripts["expire_stale"].Run(ctx, s.client,
		[]string{s.activeIndexKey()},
		s.sessionPrefix(), now.UnixNano()).Int()
	if err != nil {
		return 0, fmt.Errorf("expire_stale script failed: %w", err)
	}
	return res, nil
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*entitlement.Session, error) {
	fields, err := s.client.HGetAll(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseSession(fields)
}

func parseAccount(fields map[string]string) (*entitlement.Account, error) {
	balance, err := strconv.Atoi(fields["balance"])
	if err != nil {
		return nil, fmt.Errorf("bad balance field: %w", err)
	}
	version, err := strconv.ParseInt(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad version field: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("bad created_at field: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("bad updated_at field: %w", err)
	}
	return &entitlement.Account{
		ID:             fields["id"],
		Tier:           entitlement.Tier(fields["tier"]),
		CreditBalance:  balance,
		BalanceVersion: version,
		Deactivated:    fields["deactivated"] == "1",
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}, nil
}

func parseSession(fields map[string]string) (*entitlement.Session, error) {
	charged, err := strconv.Atoi(fields["credits_charged"])
	if err != nil {
		return nil, fmt.Errorf("bad credits_charged field: %w", err)
	}
	grantedAt, err := time.Parse(time.RFC3339Nano, fields["granted_at"])
	if err != nil {
		return nil, fmt.Errorf("bad granted_at field: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, fields["expires_at"])
	if err != nil {
		return nil, fmt.Errorf("bad expires_at field: %w", err)
	}
	return &entitlement.Session{
		ID:             fields["id"],
		AccountID:      fields["account_id"],
		Component:      entitlement.Component(fields["component"]),
		CreditsCharged: charged,
		GrantedAt:      grantedAt,
		ExpiresAt:      expiresAt,
		TierAtGrant:    entitlement.Tier(fields["tier_at_grant"]),
		Status:         entitlement.SessionStatus(fields["status"]),
	}, nil
}

func parseScriptReply(res interface{}) (int, string, error) {
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return 0, "", fmt.Errorf("unexpected script reply %v", res)
	}
	balance, ok := reply[0].(int64)
	if !ok {
		return 0, "", fmt.Errorf("unexpected balance in script reply %v", res)
	}
	status, ok := reply[1].(string)
	if !ok {
		return 0, "", fmt.Errorf("unexpected status in script reply %v", res)
	}
	return int(balance), status, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
