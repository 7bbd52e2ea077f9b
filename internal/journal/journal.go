// FILE: journal.go
// Package journal – the authoritative, append-append-mostly trade and
// status persistence layer (spec.md §4.6, §6).
//
// Physical storage is a relational table keyed by id, backed by
// modernc.org/sqlite (pure Go, no cgo) through database/sql — the same
// combination SynapseStrike's store/strategy.go uses for its strategy and
// trade bookkeeping. Every write runs in its own short transaction so the
// journal is safe for concurrent use by every executor (spec.md §5).
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/razorcore/execution-core/internal/domain"
	"github.com/razorcore/execution-core/internal/xerrors"
)

// Journal owns the trades and user_strategies tables.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if necessary) a sqlite-backed journal at path and
// runs its append-only migrations.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialise writers, avoid SQLITE_BUSY
	j := &Journal{db: db}
	if err := j.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			instrument TEXT NOT NULL,
			broker TEXT NOT NULL,
			environment TEXT NOT NULL,
			side TEXT NOT NULL,
			entry_order_id TEXT NOT NULL,
			sl_order_id TEXT,
			tp_order_id TEXT,
			entry_price REAL NOT NULL,
			amount REAL NOT NULL,
			stop_loss REAL NOT NULL,
			take_profit REAL NOT NULL,
			status TEXT NOT NULL,
			opened_at INTEGER NOT NULL,
			closed_at INTEGER,
			exit_price REAL,
			exit_reason TEXT,
			pnl REAL,
			pnl_percentage REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_open_key ON trades(user_id, strategy_name, instrument, broker, environment, status)`,
		`CREATE TABLE IF NOT EXISTS user_strategies (
			user_id TEXT NOT NULL,
			strategy_name TEXT NOT NULL,
			instrument TEXT NOT NULL,
			broker TEXT NOT NULL,
			environment TEXT NOT NULL,
			status TEXT NOT NULL,
			last_action TEXT NOT NULL,
			config TEXT NOT NULL,
			auto_reconnect INTEGER NOT NULL,
			connected_at INTEGER,
			last_heartbeat INTEGER,
			error_count INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			daily_trades INTEGER NOT NULL DEFAULT 0,
			daily_reset_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (user_id, strategy_name, instrument, broker, environment)
		)`,
	}
	for _, s := range stmts {
		if _, err := j.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("journal: migrate: %w", err)
		}
	}
	return nil
}

// RecordTradeInput carries the fields recordTrade accepts (spec.md §4.6).
type RecordTradeInput struct {
	Key          domain.InstanceKey
	Side         domain.Side
	EntryOrderID string
	SLOrderID    string
	TPOrderID    string
	EntryPrice   float64
	Amount       float64
	StopLoss     float64
	TakeProfit   float64
}

// RecordTrade inserts a new open trade row and returns its id.
func (j *Journal) RecordTrade(ctx context.Context, in RecordTradeInput) (string, error) {
	id := uuid.New().String()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades (id, user_id, strategy_name, instrument, broker, environment, side,
			entry_order_id, sl_order_id, tp_order_id, entry_price, amount, stop_loss, take_profit,
			status, opened_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		id, in.Key.UserID, in.Key.StrategyName, in.Key.Instrument, string(in.Key.Broker), string(in.Key.Environment),
		string(in.Side), in.EntryOrderID, nullable(in.SLOrderID), nullable(in.TPOrderID),
		in.EntryPrice, in.Amount, in.StopLoss, in.TakeProfit, string(domain.TradeStatusOpen), time.Now().UnixMilli())
	if err != nil {
		return "", xerrors.Wrap(xerrors.KindJournalWrite, "", "recordTrade", err)
	}
	return id, nil
}

// CloseTradeInput carries the fields closeTrade accepts.
type CloseTradeInput struct {
	TradeID       string
	ExitPrice     float64
	ExitReason    domain.ExitReason
	PnL           float64
	PnLPercentage float64
}

// CloseTrade marks a trade closed. Idempotent: closing an already-closed
// row is a no-op (spec.md §8 round-trip property).
func (j *Journal) CloseTrade(ctx context.Context, in CloseTradeInput) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE trades SET status=?, closed_at=?, exit_price=?, exit_reason=?, pnl=?, pnl_percentage=?
		WHERE id=? AND status=?`,
		string(domain.TradeStatusClosed), time.Now().UnixMilli(), in.ExitPrice, string(in.ExitReason),
		in.PnL, in.PnLPercentage, in.TradeID, string(domain.TradeStatusOpen))
	if err != nil {
		return xerrors.Wrap(xerrors.KindJournalWrite, "", "closeTrade", err)
	}
	n, _ := res.RowsAffected()
	_ = n // idempotent: 0 rows affected means it was already closed, not an error
	return nil
}

// UpdateOrderIDs rewrites a trade's protective-order ids after a
// cancel-and-replace (spec.md §4.5).
func (j *Journal) UpdateOrderIDs(ctx context.Context, tradeID string, slOrderID, tpOrderID *string) error {
	if slOrderID != nil {
		if _, err := j.db.ExecContext(ctx, `UPDATE trades SET sl_order_id=? WHERE id=?`, *slOrderID, tradeID); err != nil {
			return xerrors.Wrap(xerrors.KindJournalWrite, "", "updateOrderIds(sl)", err)
		}
	}
	if tpOrderID != nil {
		if _, err := j.db.ExecContext(ctx, `UPDATE trades SET tp_order_id=? WHERE id=?`, *tpOrderID, tradeID); err != nil {
			return xerrors.Wrap(xerrors.KindJournalWrite, "", "updateOrderIds(tp)", err)
		}
	}
	return nil
}

// UpdateStops rewrites a trade's stop-loss/take-profit prices.
func (j *Journal) UpdateStops(ctx context.Context, tradeID string, stopLoss, takeProfit *float64) error {
	if stopLoss != nil {
		if _, err := j.db.ExecContext(ctx, `UPDATE trades SET stop_loss=? WHERE id=?`, *stopLoss, tradeID); err != nil {
			return xerrors.Wrap(xerrors.KindJournalWrite, "", "updateStops(sl)", err)
		}
	}
	if takeProfit != nil {
		if _, err := j.db.ExecContext(ctx, `UPDATE trades SET take_profit=? WHERE id=?`, *takeProfit, tradeID); err != nil {
			return xerrors.Wrap(xerrors.KindJournalWrite, "", "updateStops(tp)", err)
		}
	}
	return nil
}

// TradeFilter narrows QueryTrades.
type TradeFilter struct {
	UserID       string
	StrategyName string
	Instrument   string
	Status       domain.TradeStatus
	Limit        int
	Offset       int
}

// QueryTrades returns trades matching filter, newest first.
func (j *Journal) QueryTrades(ctx context.Context, f TradeFilter) ([]domain.TradeRecord, error) {
	query := `SELECT id, user_id, strategy_name, instrument, broker, environment, side,
		entry_order_id, sl_order_id, tp_order_id, entry_price, amount, stop_loss, take_profit,
		status, opened_at, closed_at, exit_price, exit_reason, pnl, pnl_percentage
		FROM trades WHERE 1=1`
	args := []any{}
	if f.UserID != "" {
		query += " AND user_id=?"
		args = append(args, f.UserID)
	}
	if f.StrategyName != "" {
		query += " AND strategy_name=?"
		args = append(args, f.StrategyName)
	}
	if f.Instrument != "" {
		query += " AND instrument=?"
		args = append(args, f.Instrument)
	}
	if f.Status != "" {
		query += " AND status=?"
		args = append(args, string(f.Status))
	}
	query += " ORDER BY opened_at DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: queryTrades: %w", err)
	}
	defer rows.Close()

	var out []domain.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// OpenTradesFor returns the open trade rows for one instance key — used
// by reconciliation (spec.md §4.8) and by the executor to find its
// current trade id after a restart.
func (j *Journal) OpenTradesFor(ctx context.Context, key domain.InstanceKey) ([]domain.TradeRecord, error) {
	trades, err := j.QueryTrades(ctx, TradeFilter{
		UserID: key.UserID, StrategyName: key.StrategyName, Instrument: key.Instrument, Status: domain.TradeStatusOpen,
	})
	if err != nil {
		return nil, err
	}
	var out []domain.TradeRecord
	for _, t := range trades {
		if t.Broker == key.Broker && t.Environment == key.Environment {
			out = append(out, t)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(rows rowScanner) (domain.TradeRecord, error) {
	var (
		t                                    domain.TradeRecord
		broker, environment, side, status    string
		slOrderID, tpOrderID, exitReasonStr  sql.NullString
		openedAt                             int64
		closedAt                             sql.NullInt64
		exitPrice, pnl, pnlPercentage        sql.NullFloat64
	)
	if err := rows.Scan(&t.ID, &t.UserID, &t.StrategyName, &t.Instrument, &broker, &environment, &side,
		&t.EntryOrderID, &slOrderID, &tpOrderID, &t.EntryPrice, &t.Amount, &t.StopLoss, &t.TakeProfit,
		&status, &openedAt, &closedAt, &exitPrice, &exitReasonStr, &pnl, &pnlPercentage); err != nil {
		return domain.TradeRecord{}, fmt.Errorf("journal: scan trade: %w", err)
	}
	t.Broker = domain.Broker(broker)
	t.Environment = domain.Environment(environment)
	t.Side = domain.Side(side)
	t.Status = domain.TradeStatus(status)
	t.SLOrderID = slOrderID.String
	t.TPOrderID = tpOrderID.String
	t.OpenedAt = time.UnixMilli(openedAt)
	if closedAt.Valid {
		ts := time.UnixMilli(closedAt.Int64)
		t.ClosedAt = &ts
	}
	if exitPrice.Valid {
		v := exitPrice.Float64
		t.ExitPrice = &v
	}
	if exitReasonStr.Valid {
		r := domain.ExitReason(exitReasonStr.String)
		t.ExitReason = &r
	}
	if pnl.Valid {
		v := pnl.Float64
		t.PnL = &v
	}
	if pnlPercentage.Valid {
		v := pnlPercentage.Float64
		t.PnLPercent = &v
	}
	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertStatus writes (creating on first call) the status row for key.
func (j *Journal) UpsertStatus(ctx context.Context, row domain.StatusRow) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO user_strategies (user_id, strategy_name, instrument, broker, environment,
			status, last_action, config, auto_reconnect, connected_at, last_heartbeat, error_count,
			error_message, daily_trades, daily_reset_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(user_id, strategy_name, instrument, broker, environment) DO UPDATE SET
			status=excluded.status, last_action=excluded.last_action, config=excluded.config,
			auto_reconnect=excluded.auto_reconnect, connected_at=excluded.connected_at,
			last_heartbeat=excluded.last_heartbeat, error_count=excluded.error_count,
			error_message=excluded.error_message, daily_trades=excluded.daily_trades,
			daily_reset_at=excluded.daily_reset_at`,
		row.Key.UserID, row.Key.StrategyName, row.Key.Instrument, string(row.Key.Broker), string(row.Key.Environment),
		string(row.Status), string(row.LastAction), row.ConfigJSON, boolToInt(row.AutoReconnect),
		timePtrToMillis(row.ConnectedAt), timePtrToMillis(row.LastHeartbeat), row.ErrorCount, row.ErrorMessage,
		row.DailyTrades, row.DailyResetAt.UnixMilli())
	if err != nil {
		return xerrors.Wrap(xerrors.KindJournalWrite, "", "upsertStatus", err)
	}
	return nil
}

// UpdateHeartbeat bumps last_heartbeat and the daily_trades/daily_reset_at
// counter columns for key — the supervisor's per-instance 30s heartbeat task
// (spec.md §4.9, §5; SUPPLEMENTED FEATURES "daily trade counter
// persistence across restarts").
func (j *Journal) UpdateHeartbeat(ctx context.Context, key domain.InstanceKey, dailyTrades int, dailyResetAt time.Time) error {
	_, err := j.db.ExecContext(ctx, `
		UPDATE user_strategies SET last_heartbeat=?, daily_trades=?, daily_reset_at=?
		WHERE user_id=? AND strategy_name=? AND instrument=? AND broker=? AND environment=?`,
		time.Now().UnixMilli(), dailyTrades, dailyResetAt.UnixMilli(),
		key.UserID, key.StrategyName, key.Instrument, string(key.Broker), string(key.Environment))
	if err != nil {
		return xerrors.Wrap(xerrors.KindJournalWrite, "", "updateHeartbeat", err)
	}
	return nil
}

// StatusFor returns the single status row for key, if any.
func (j *Journal) StatusFor(ctx context.Context, key domain.InstanceKey) (domain.StatusRow, bool, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT user_id, strategy_name, instrument, broker, environment, status, last_action, config,
			auto_reconnect, connected_at, last_heartbeat, error_count, error_message, daily_trades, daily_reset_at
		FROM user_strategies WHERE user_id=? AND strategy_name=? AND instrument=? AND broker=? AND environment=?`,
		key.UserID, key.StrategyName, key.Instrument, string(key.Broker), string(key.Environment))
	r, ok, err := scanStatus(row)
	return r, ok, err
}

// FindAllStrategiesToResume returns status rows marked active with
// autoReconnect set, across a given broker/environment (spec.md §4.6).
func (j *Journal) FindAllStrategiesToResume(ctx context.Context, brokerName domain.Broker, env domain.Environment) ([]domain.StatusRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT user_id, strategy_name, instrument, broker, environment, status, last_action, config,
			auto_reconnect, connected_at, last_heartbeat, error_count, error_message, daily_trades, daily_reset_at
		FROM user_strategies WHERE broker=? AND environment=? AND status=? AND auto_reconnect=1`,
		string(brokerName), string(env), string(domain.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("journal: findAllStrategiesToResume: %w", err)
	}
	defer rows.Close()

	var out []domain.StatusRow
	for rows.Next() {
		r, ok, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, rows.Err()
}

func scanStatus(rs rowScanner) (domain.StatusRow, bool, error) {
	var (
		row                                           domain.StatusRow
		userID, strategyName, instrument, brokerS, env string
		status, lastAction                            string
		autoReconnect, errorCount                     int
		connectedAt, lastHeartbeat, dailyResetAt       sql.NullInt64
		errorMessage                                   sql.NullString
		dailyTrades                                    int
	)
	err := rs.Scan(&userID, &strategyName, &instrument, &brokerS, &env, &status, &lastAction, &row.ConfigJSON,
		&autoReconnect, &connectedAt, &lastHeartbeat, &errorCount, &errorMessage, &dailyTrades, &dailyResetAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StatusRow{}, false, nil
	}
	if err != nil {
		return domain.StatusRow{}, false, fmt.Errorf("journal: scan status: %w", err)
	}
	row.Key = domain.InstanceKey{UserID: userID, StrategyName: strategyName, Instrument: instrument,
		Broker: domain.Broker(brokerS), Environment: domain.Environment(env)}
	row.Status = domain.StatusState(status)
	row.LastAction = domain.StatusAction(lastAction)
	row.AutoReconnect = autoReconnect != 0
	row.ErrorCount = errorCount
	row.ErrorMessage = errorMessage.String
	row.DailyTrades = dailyTrades
	if connectedAt.Valid {
		t := time.UnixMilli(connectedAt.Int64)
		row.ConnectedAt = &t
	}
	if lastHeartbeat.Valid {
		t := time.UnixMilli(lastHeartbeat.Int64)
		row.LastHeartbeat = &t
	}
	if dailyResetAt.Valid {
		row.DailyResetAt = time.UnixMilli(dailyResetAt.Int64)
	}
	return row, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timePtrToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

// DerivePnL implements spec.md §4.6's linear/USDC perpetual P&L formula.
func DerivePnL(side domain.Side, entry, exit, amount float64) (pnl, pnlPct float64) {
	priceChangePct := (exit - entry) / entry
	sign := 1.0
	if side == domain.SideSell {
		sign = -1.0
	}
	pnl = priceChangePct * amount * sign
	pnlPct = priceChangePct * 100 * sign
	return pnl, pnlPct
}
