// Package postgres implements the ledger storage interfaces backed by
// PostgreSQL. Batch admission runs in a single transaction so records and
// escrow credits land together or not at all.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/payroll_ledger/internal/app/domain/asset"
	"github.com/R3E-Network/payroll_ledger/internal/app/domain/payment"
	"github.com/R3E-Network/payroll_ledger/internal/app/storage"
)

// Store implements storage.LedgerStore backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type paymentRow struct {
	Index        int64        `db:"idx"`
	Recipient    string       `db:"recipient"`
	Asset        string       `db:"asset"`
	Amount       string       `db:"amount"`
	ChainTag     string       `db:"chain_tag"`
	Executed     bool         `db:"executed"`
	ScheduledSeq int64        `db:"scheduled_seq"`
	ScheduledAt  time.Time    `db:"scheduled_at"`
	ExecutedAt   sql.NullTime `db:"executed_at"`
}

func (r paymentRow) toDomain() (payment.Payment, error) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok {
		return payment.Payment{}, fmt.Errorf("corrupt amount %q at index %d", r.Amount, r.Index)
	}
	p := payment.Payment{
		Index:        uint64(r.Index),
		Recipient:    r.Recipient,
		Asset:        asset.ID(r.Asset),
		Amount:       amount,
		ChainTag:     r.ChainTag,
		Executed:     r.Executed,
		ScheduledSeq: uint64(r.ScheduledSeq),
		ScheduledAt:  r.ScheduledAt,
	}
	if r.ExecutedAt.Valid {
		p.ExecutedAt = r.ExecutedAt.Time
	}
	return p, nil
}

const paymentColumns = `idx, recipient, asset, amount, chain_tag, executed, scheduled_seq, scheduled_at, executed_at`

// --- PaymentStore -----------------------------------------------------------

func (s *Store) AppendBatch(ctx context.Context, payments []payment.Payment, credits map[asset.ID]*big.Int) ([]payment.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var next int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(idx), -1) + 1 FROM payroll_payments
	`).Scan(&next); err != nil {
		return nil, err
	}

	// One admission sequence per batch; every record in the batch shares it.
	var seq int64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(scheduled_seq), 0) + 1 FROM payroll_payments
	`).Scan(&seq); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	admitted := make([]payment.Payment, 0, len(payments))
	for i, p := range payments {
		p = p.Clone()
		p.Index = uint64(next + int64(i))
		p.ScheduledSeq = uint64(seq)
		p.ScheduledAt = now
		p.Executed = false

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payroll_payments (idx, recipient, asset, amount, chain_tag, executed, scheduled_seq, scheduled_at)
			VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		`, int64(p.Index), p.Recipient, string(p.Asset), p.Amount.String(), p.ChainTag, int64(p.ScheduledSeq), p.ScheduledAt); err != nil {
			return nil, err
		}
		admitted = append(admitted, p)
	}

	for id, amount := range credits {
		if err := creditTx(ctx, tx, id, amount); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return admitted, nil
}

func (s *Store) Payment(ctx context.Context, index uint64) (payment.Payment, error) {
	var row paymentRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+paymentColumns+` FROM payroll_payments WHERE idx = $1
	`, int64(index))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, err
	}
	return row.toDomain()
}

func (s *Store) ListPayments(ctx context.Context, offset uint64, limit int) ([]payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payroll_payments WHERE idx >= $1 ORDER BY idx`
	args := []interface{}{int64(offset)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []paymentRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	result := make([]payment.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, nil
}

func (s *Store) CountPayments(ctx context.Context) (uint64, error) {
	var count int64
	if err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM payroll_payments`); err != nil {
		return 0, err
	}
	return uint64(count), nil
}

func (s *Store) MarkExecuted(ctx context.Context, index uint64, at time.Time) (payment.Payment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return payment.Payment{}, err
	}
	defer tx.Rollback()

	var row paymentRow
	err = tx.GetContext(ctx, &row, `
		SELECT `+paymentColumns+` FROM payroll_payments WHERE idx = $1 FOR UPDATE
	`, int64(index))
	if errors.Is(err, sql.ErrNoRows) {
		return payment.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return payment.Payment{}, err
	}
	if row.Executed {
		return payment.Payment{}, storage.ErrAlreadyExecuted
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE payroll_payments SET executed = TRUE, executed_at = $2 WHERE idx = $1
	`, int64(index), at); err != nil {
		return payment.Payment{}, err
	}
	if err := tx.Commit(); err != nil {
		return payment.Payment{}, err
	}

	row.Executed = true
	row.ExecutedAt = sql.NullTime{Time: at, Valid: true}
	return row.toDomain()
}

// --- EscrowStore ------------------------------------------------------------

func creditTx(ctx context.Context, tx *sqlx.Tx, id asset.ID, amount *big.Int) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payroll_escrow (asset, balance)
		VALUES ($1, $2::NUMERIC)
		ON CONFLICT (asset) DO UPDATE SET balance = payroll_escrow.balance + EXCLUDED.balance
	`, string(id), amount.String())
	return err
}

func (s *Store) CreditEscrow(ctx context.Context, id asset.ID, amount *big.Int) (*big.Int, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO payroll_escrow (asset, balance)
		VALUES ($1, $2::NUMERIC)
		ON CONFLICT (asset) DO UPDATE SET balance = payroll_escrow.balance + EXCLUDED.balance
		RETURNING balance::TEXT
	`, string(id), amount.String()).Scan(&balanceStr)
	if err != nil {
		return nil, err
	}
	return parseBalance(balanceStr)
}

func (s *Store) DebitEscrow(ctx context.Context, id asset.ID, amount *big.Int) (*big.Int, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, `
		UPDATE payroll_escrow
		SET balance = balance - $2::NUMERIC
		WHERE asset = $1 AND balance >= $2::NUMERIC
		RETURNING balance::TEXT
	`, string(id), amount.String()).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrInsufficientEscrow
	}
	if err != nil {
		return nil, err
	}
	return parseBalance(balanceStr)
}

func (s *Store) FreeBalance(ctx context.Context, id asset.ID) (*big.Int, error) {
	var balanceStr string
	err := s.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM payroll_escrow WHERE asset = $1
	`, string(id)).Scan(&balanceStr)
	if errors.Is(err, sql.ErrNoRows) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return parseBalance(balanceStr)
}

func (s *Store) Balances(ctx context.Context) (map[asset.ID]*big.Int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT asset, balance::TEXT FROM payroll_escrow`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[asset.ID]*big.Int)
	for rows.Next() {
		var id, balanceStr string
		if err := rows.Scan(&id, &balanceStr); err != nil {
			return nil, err
		}
		balance, err := parseBalance(balanceStr)
		if err != nil {
			return nil, err
		}
		result[asset.ID(id)] = balance
	}
	return result, rows.Err()
}

func parseBalance(raw string) (*big.Int, error) {
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("corrupt escrow balance %q", raw)
	}
	return balance, nil
}

// --- AccessStore ------------------------------------------------------------

func (s *Store) EnsureOwner(ctx context.Context, principal string) error {
	var existing string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM payroll_state WHERE key = 'owner'
	`).Scan(&existing)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO payroll_state (key, value) VALUES ('owner', $1)
		`, principal)
		return err
	}
	if err != nil {
		return err
	}
	if existing != principal {
		return fmt.Errorf("owner already set to %s", existing)
	}
	return nil
}

func (s *Store) Owner(ctx context.Context) (string, error) {
	var owner string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM payroll_state WHERE key = 'owner'
	`).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("owner not initialised")
	}
	return owner, err
}

func (s *Store) IsAdmin(ctx context.Context, principal string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM payroll_admins WHERE principal = $1)
	`, principal).Scan(&exists)
	return exists, err
}

func (s *Store) AddAdmin(ctx context.Context, principal string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_admins (principal) VALUES ($1)
		ON CONFLICT (principal) DO NOTHING
	`, principal)
	return err
}

func (s *Store) RemoveAdmin(ctx context.Context, principal string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM payroll_admins WHERE principal = $1
	`, principal)
	return err
}

func (s *Store) ListAdmins(ctx context.Context) ([]string, error) {
	var admins []string
	err := s.db.SelectContext(ctx, &admins, `
		SELECT principal FROM payroll_admins ORDER BY principal
	`)
	return admins, err
}

// --- StateStore -------------------------------------------------------------

func (s *Store) Paused(ctx context.Context) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM payroll_state WHERE key = 'paused'
	`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == "true", nil
}

func (s *Store) SetPaused(ctx context.Context, paused bool) error {
	value := "false"
	if paused {
		value = "true"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_state (key, value) VALUES ('paused', $1)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, value)
	return err
}

func (s *Store) YieldWallet(ctx context.Context, id asset.ID) (string, error) {
	var wallet string
	err := s.db.QueryRowContext(ctx, `
		SELECT wallet FROM payroll_yield_wallets WHERE asset = $1
	`, string(id)).Scan(&wallet)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return wallet, err
}

func (s *Store) SetYieldWallet(ctx context.Context, id asset.ID, wallet string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_yield_wallets (asset, wallet) VALUES ($1, $2)
		ON CONFLICT (asset) DO UPDATE SET wallet = EXCLUDED.wallet
	`, string(id), wallet)
	return err
}

// --- RoutingStore -----------------------------------------------------------

func (s *Store) AppendRouting(ctx context.Context, entry payment.RoutingEntry) (payment.RoutingEntry, error) {
	entry = entry.Clone()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payroll_routing (id, direction, asset, counterparty, amount, memo, actor, created_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8)
	`, entry.ID, string(entry.Direction), string(entry.Asset), entry.Counterparty, entry.Amount.String(), entry.Memo, entry.Actor, entry.CreatedAt)
	if err != nil {
		return payment.RoutingEntry{}, err
	}
	return entry, nil
}

func (s *Store) ListRouting(ctx context.Context) ([]payment.RoutingEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, direction, asset, counterparty, amount::TEXT, memo, actor, created_at
		FROM payroll_routing ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []payment.RoutingEntry
	for rows.Next() {
		var (
			entry     payment.RoutingEntry
			direction string
			id        string
			amountStr string
		)
		if err := rows.Scan(&entry.ID, &direction, &id, &entry.Counterparty, &amountStr, &entry.Memo, &entry.Actor, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Direction = payment.RoutingDirection(direction)
		entry.Asset = asset.ID(id)
		amount, ok := new(big.Int).SetString(amountStr, 10)
		if !ok {
			return nil, fmt.Errorf("corrupt routing amount %q", amountStr)
		}
		entry.Amount = amount
		result = append(result, entry)
	}
	return result, rows.Err()
}
