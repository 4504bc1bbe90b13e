// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/luxfi/ltindexer/pagination"
)

// PostgresStore implements Store using PostgreSQL. On-chain integers are
// NUMERIC(78,0). Delta upserts insert a default row if missing, then lock
// it with SELECT ... FOR UPDATE and write the result in the same
// transaction.
type PostgresStore struct {
	db     *sql.DB
	q      querier
	tx     *sql.Tx
	config Config
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres creates a new PostgreSQL store
func NewPostgres(cfg Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{
		db:     db,
		q:      db,
		config: cfg,
	}, nil
}

func (s *PostgresStore) Init(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	return s.InitSchema(ctx, IndexerSchema)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InitSchema creates missing tables and indexes.
func (s *PostgresStore) InitSchema(ctx context.Context, schema Schema) error {
	for _, table := range schema.Tables {
		if err := s.createTable(ctx, table); err != nil {
			return fmt.Errorf("create table %s: %w", table.Name, err)
		}
	}
	for _, idx := range schema.Indexes {
		if err := s.createIndex(ctx, idx); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (s *PostgresStore) createTable(ctx context.Context, table Table) error {
	var cols, primary []string
	for _, col := range table.Columns {
		colDef := fmt.Sprintf("%s %s", col.Name, columnTypeToSQL(col.Type))
		if !col.Nullable {
			colDef += " NOT NULL"
		}
		if col.Default != "" {
			colDef += " DEFAULT " + col.Default
		}
		if col.Primary {
			primary = append(primary, col.Name)
		}
		cols = append(cols, colDef)
	}
	if len(primary) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(primary, ", ")))
	}
	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Name, strings.Join(cols, ", "))
	_, err := s.q.ExecContext(ctx, query)
	return err
}

func columnTypeToSQL(t ColumnType) string {
	switch t {
	case TypeText:
		return "TEXT"
	case TypeInt:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeBool:
		return "BOOLEAN"
	case TypeNumeric:
		return "NUMERIC(78,0)"
	default:
		return "TEXT"
	}
}

func (s *PostgresStore) createIndex(ctx context.Context, idx Index) error {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	query := fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, idx.Name, idx.Table, strings.Join(idx.Columns, ", "))
	_, err := s.q.ExecContext(ctx, query)
	return err
}

// SQL helpers

type scanner interface {
	Scan(dest ...interface{}) error
}

// bigScan scans a NUMERIC column into a *big.Int; NULL yields nil.
type bigScan struct{ dst **big.Int }

func num(dst **big.Int) bigScan { return bigScan{dst: dst} }

func (b bigScan) Scan(src interface{}) error {
	var s string
	switch v := src.(type) {
	case nil:
		*b.dst = nil
		return nil
	case []byte:
		s = string(v)
	case string:
		s = v
	case int64:
		*b.dst = big.NewInt(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into big.Int", src)
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return fmt.Errorf("invalid numeric %q", s)
	}
	*b.dst = n
	return nil
}

func numArg(v *big.Int) string { return orZero(v).String() }

func nullNumArg(v *big.Int) interface{} {
	if v == nil {
		return nil
	}
	return v.String()
}

func placeholders(from, n int) string {
	ps := make([]string, n)
	for i := range ps {
		ps[i] = fmt.Sprintf("$%d", from+i)
	}
	return strings.Join(ps, ", ")
}

func insertSQL(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(1, len(cols)))
}

// updateSQL sets every column after the first nkeys, keyed by the first
// nkeys columns; placeholders follow column order.
func updateSQL(table string, cols []string, nkeys int) string {
	sets := make([]string, 0, len(cols)-nkeys)
	for i := nkeys; i < len(cols); i++ {
		sets = append(sets, fmt.Sprintf("%s = $%d", cols[i], i+1))
	}
	where := make([]string, nkeys)
	for i := 0; i < nkeys; i++ {
		where[i] = fmt.Sprintf("%s = $%d", cols[i], i+1)
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(sets, ", "), strings.Join(where, " AND "))
}

func prefixed(alias string, cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return strings.Join(out, ", ")
}

// Atomic runs fn inside one transaction. Nested calls join the open
// transaction.
func (s *PostgresStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return fn(&PostgresStore{db: s.db, q: tx, tx: tx, config: s.config})
	})
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	if s.tx != nil {
		return fn(s.tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func lower(s string) string { return strings.ToLower(s) }

// Instruments

var instrumentCols = []string{
	"address", "market_id", "target_asset", "target_leverage", "is_long", "symbol", "name",
	"decimals", "mint_paused", "exchange_rate", "total_supply", "base_asset_balance",
	"latest_bridge_from_perp_block", "created_at",
}

func scanInstrument(row scanner) (*Instrument, error) {
	var i Instrument
	if err := row.Scan(&i.Address, &i.MarketID, &i.TargetAsset, num(&i.TargetLeverage), &i.IsLong,
		&i.Symbol, &i.Name, &i.Decimals, &i.MintPaused, num(&i.ExchangeRate), num(&i.TotalSupply),
		num(&i.BaseAssetBalance), &i.LatestBridgeFromPerpBlock, &i.CreatedAt); err != nil {
		return nil, err
	}
	i.normalize()
	return &i, nil
}

func instrumentArgs(i *Instrument) []interface{} {
	return []interface{}{lower(i.Address), int64(i.MarketID), i.TargetAsset, numArg(i.TargetLeverage), i.IsLong,
		i.Symbol, i.Name, int(i.Decimals), i.MintPaused, numArg(i.ExchangeRate), numArg(i.TotalSupply),
		numArg(i.BaseAssetBalance), int64(i.LatestBridgeFromPerpBlock), i.CreatedAt}
}

func (s *PostgresStore) queryInstruments(ctx context.Context, where string, args ...interface{}) ([]*Instrument, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+strings.Join(instrumentCols, ", ")+" FROM leveraged_tokens "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Instrument
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetInstrument(ctx context.Context, address string) (*Instrument, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+strings.Join(instrumentCols, ", ")+" FROM leveraged_tokens WHERE address = $1", lower(address))
	inst, err := scanInstrument(row)
	return inst, notFound(err)
}

func (s *PostgresStore) GetInstrumentBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	all, err := s.queryInstruments(ctx, "WHERE symbol = $1 LIMIT 1", symbol)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	return all[0], nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]*Instrument, error) {
	return s.queryInstruments(ctx, "ORDER BY created_at, address")
}

func (s *PostgresStore) PutInstrument(ctx context.Context, inst *Instrument) error {
	sets := make([]string, 0, len(instrumentCols)-1)
	for _, c := range instrumentCols[1:] {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	query := insertSQL("leveraged_tokens", instrumentCols) +
		" ON CONFLICT (address) DO UPDATE SET " + strings.Join(sets, ", ")
	_, err := s.q.ExecContext(ctx, query, instrumentArgs(inst)...)
	return err
}

func (s *PostgresStore) UpdateInstrument(ctx context.Context, address string, fn func(*Instrument) error) (bool, error) {
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, "SELECT "+strings.Join(instrumentCols, ", ")+" FROM leveraged_tokens WHERE address = $1 FOR UPDATE", lower(address))
		inst, err := scanInstrument(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := fn(inst); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL("leveraged_tokens", instrumentCols, 1), instrumentArgs(inst)...)
		return err
	})
	return found, err
}

func (s *PostgresStore) SetExchangeRate(ctx context.Context, address string, rate *big.Int) error {
	_, err := s.q.ExecContext(ctx, "UPDATE leveraged_tokens SET exchange_rate = $2 WHERE address = $1", lower(address), numArg(rate))
	return err
}

func (s *PostgresStore) RecentlyBridged(ctx context.Context, sinceBlock uint64) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		"SELECT address FROM leveraged_tokens WHERE latest_bridge_from_perp_block > 0 AND latest_bridge_from_perp_block >= $1",
		int64(sinceBlock))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var addr string
		if err := rows.Scan(&addr); err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, rows.Err()
}

// Trades

var tradeCols = []string{
	"id", "tx_hash", "timestamp", "block", "log_index", "leveraged_token", "is_buy", "sender",
	"recipient", "base_asset_amount", "leveraged_token_amount", "profit_amount", "profit_percent",
}

func tradeDest(t *Trade) []interface{} {
	return []interface{}{&t.ID, &t.TxHash, &t.Timestamp, &t.Block, &t.LogIndex, &t.LeveragedToken, &t.IsBuy,
		&t.Sender, &t.Recipient, num(&t.BaseAssetAmount), num(&t.LeveragedTokenAmount),
		num(&t.ProfitAmount), num(&t.ProfitPercent)}
}

func scanTrade(row scanner) (*Trade, error) {
	var t Trade
	if err := row.Scan(tradeDest(&t)...); err != nil {
		return nil, err
	}
	return &t, nil
}

const tradeViewFrom = " FROM trades t JOIN leveraged_tokens l ON t.leveraged_token = l.address"

func tradeViewSelect() string {
	return "SELECT " + prefixed("t", tradeCols) + ", l.target_leverage, l.is_long, l.target_asset" + tradeViewFrom
}

func scanTradeView(row scanner) (*TradeView, error) {
	var v TradeView
	dest := append(tradeDest(&v.Trade), num(&v.TargetLeverage), &v.IsLong, &v.TargetAsset)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	v.TargetLeverage = orZero(v.TargetLeverage)
	return &v, nil
}

func (s *PostgresStore) queryTradeViews(ctx context.Context, query string, args ...interface{}) ([]*TradeView, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []*TradeView{}
	for rows.Next() {
		v, err := scanTradeView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertTrade(ctx context.Context, t *Trade) error {
	res, err := s.q.ExecContext(ctx, insertSQL("trades", tradeCols)+" ON CONFLICT (id) DO NOTHING",
		t.ID, t.TxHash, t.Timestamp, int64(t.Block), int64(t.LogIndex), lower(t.LeveragedToken), t.IsBuy,
		lower(t.Sender), lower(t.Recipient), numArg(t.BaseAssetAmount), numArg(t.LeveragedTokenAmount),
		nullNumArg(t.ProfitAmount), nullNumArg(t.ProfitPercent))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) SetTradeProfit(ctx context.Context, id string, amount, percent *big.Int) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE trades SET profit_amount = $2, profit_percent = $3 WHERE id = $1 AND profit_amount IS NULL",
		id, nullNumArg(amount), nullNumArg(percent))
	return err
}

func (s *PostgresStore) GetTradeByTxHash(ctx context.Context, txHash string) (*TradeView, error) {
	row := s.q.QueryRowContext(ctx, tradeViewSelect()+" WHERE t.tx_hash = $1 ORDER BY t.id LIMIT 1", lower(txHash))
	v, err := scanTradeView(row)
	return v, notFound(err)
}

func (s *PostgresStore) TradesForUser(ctx context.Context, user string) ([]*Trade, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+strings.Join(tradeCols, ", ")+
		" FROM trades WHERE sender = $1 OR recipient = $1 ORDER BY timestamp, block, log_index, id", lower(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AllTrades(ctx context.Context) ([]*TradeView, error) {
	return s.queryTradeViews(ctx, tradeViewSelect()+" ORDER BY t.timestamp, t.id")
}

func (s *PostgresStore) TradeHistory(ctx context.Context) ([]*TradeView, error) {
	return s.queryTradeViews(ctx, "SELECT "+prefixed("t", tradeCols)+
		", l.target_leverage, COALESCE(l.is_long, false), COALESCE(l.target_asset, '')"+
		" FROM trades t LEFT JOIN leveraged_tokens l ON t.leveraged_token = l.address ORDER BY t.timestamp, t.id")
}

var tradeSortColumns = map[SortField]string{
	SortDate:        "t.timestamp",
	SortTargetAsset: "l.target_asset",
	SortActivity:    "t.is_buy",
	SortNomVal:      "t.base_asset_amount",
	SortPnlAmount:   "t.profit_amount",
	SortPnlPercent:  "t.profit_percent",
}

func tradeOrderBy(field SortField, desc bool) string {
	col, ok := tradeSortColumns[field]
	if !ok {
		col, field = tradeSortColumns[SortDate], SortDate
	}
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	order := []string{col + " " + dir}
	if field.isPnl() {
		order[0] += " NULLS LAST"
	}
	if field != SortDate {
		order = append(order, "t.timestamp DESC")
	}
	order = append(order, "t.id ASC")
	return strings.Join(order, ", ")
}

func (s *PostgresStore) ListTrades(ctx context.Context, q TradeQuery) (*TradePage, error) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.User != "" {
		add("t.recipient = $%d", lower(q.User))
	}
	if q.TargetAsset != "" {
		add("l.target_asset = $%d", q.TargetAsset)
	}
	if q.Address != "" {
		add("t.leveraged_token = $%d", lower(q.Address))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := &TradePage{}
	if err := s.q.QueryRowContext(ctx, "SELECT count(*)"+tradeViewFrom+where, args...).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("count trades: %w", err)
	}

	query := tradeViewSelect() + where + " ORDER BY " + tradeOrderBy(q.SortBy, q.Descending) +
		fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	items, err := s.queryTradeViews(ctx, query, append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	page.Items = items
	return page, nil
}

// Transfers

var transferCols = []string{"id", "tx_hash", "timestamp", "block", "log_index", "leveraged_token", "from_address", "to_address", "amount"}

func (s *PostgresStore) InsertTransfer(ctx context.Context, t *Transfer) error {
	res, err := s.q.ExecContext(ctx, insertSQL("transfers", transferCols)+" ON CONFLICT (id) DO NOTHING",
		t.ID, t.TxHash, t.Timestamp, int64(t.Block), int64(t.LogIndex), lower(t.LeveragedToken),
		lower(t.From), lower(t.To), numArg(t.Amount))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) TransfersForUser(ctx context.Context, user string) ([]*Transfer, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+strings.Join(transferCols, ", ")+
		" FROM transfers WHERE from_address = $1 OR to_address = $1 ORDER BY timestamp, block, log_index, id", lower(user))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Transfer
	for rows.Next() {
		var t Transfer
		if err := rows.Scan(&t.ID, &t.TxHash, &t.Timestamp, &t.Block, &t.LogIndex, &t.LeveragedToken,
			&t.From, &t.To, num(&t.Amount)); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// Balances

var balanceCols = []string{"user_address", "leveraged_token", "total_balance", "purchase_cost", "realized_profit", "last_updated"}

func scanBalance(row scanner) (*Balance, error) {
	var b Balance
	if err := row.Scan(&b.User, &b.LeveragedToken, num(&b.TotalBalance), num(&b.PurchaseCost),
		num(&b.RealizedProfit), &b.LastUpdated); err != nil {
		return nil, err
	}
	b.normalize()
	return &b, nil
}

func (s *PostgresStore) queryBalances(ctx context.Context, where string, args ...interface{}) ([]*Balance, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT "+strings.Join(balanceCols, ", ")+" FROM balances "+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetBalance(ctx context.Context, user, token string) (*Balance, error) {
	row := s.q.QueryRowContext(ctx, "SELECT "+strings.Join(balanceCols, ", ")+
		" FROM balances WHERE user_address = $1 AND leveraged_token = $2", lower(user), lower(token))
	b, err := scanBalance(row)
	return b, notFound(err)
}

func (s *PostgresStore) BalancesForUser(ctx context.Context, user string) ([]*Balance, error) {
	return s.queryBalances(ctx, "WHERE user_address = $1 ORDER BY leveraged_token", lower(user))
}

func (s *PostgresStore) PositiveBalances(ctx context.Context) ([]*Balance, error) {
	return s.queryBalances(ctx, "WHERE total_balance > 0")
}

func (s *PostgresStore) UpsertBalance(ctx context.Context, user, token string, fn func(*Balance) error) error {
	user, token = lower(user), lower(token)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO balances (user_address, leveraged_token) VALUES ($1, $2) ON CONFLICT DO NOTHING", user, token); err != nil {
			return err
		}
		b, err := scanBalance(tx.QueryRowContext(ctx, "SELECT "+strings.Join(balanceCols, ", ")+
			" FROM balances WHERE user_address = $1 AND leveraged_token = $2 FOR UPDATE", user, token))
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL("balances", balanceCols, 2),
			user, token, numArg(b.TotalBalance), numArg(b.PurchaseCost), numArg(b.RealizedProfit), b.LastUpdated)
		return err
	})
}

// Users

var userCols = []string{
	"address", "trade_count", "mint_volume_nominal", "redeem_volume_nominal", "total_volume_nominal",
	"mint_volume_notional", "redeem_volume_notional", "total_volume_notional", "last_trade_timestamp",
	"realized_profit", "referral_code", "referrer_code", "referrer_address", "referred_user_count",
	"referrer_rebates", "referee_rebates", "total_rebates", "claimed_rebates",
}

func scanUser(row scanner) (*User, error) {
	var u User
	if err := row.Scan(&u.Address, &u.TradeCount, num(&u.MintVolumeNominal), num(&u.RedeemVolumeNominal),
		num(&u.TotalVolumeNominal), num(&u.MintVolumeNotional), num(&u.RedeemVolumeNotional),
		num(&u.TotalVolumeNotional), &u.LastTradeTimestamp, num(&u.RealizedProfit), &u.ReferralCode,
		&u.ReferrerCode, &u.ReferrerAddress, &u.ReferredUserCount, num(&u.ReferrerRebates),
		num(&u.RefereeRebates), num(&u.TotalRebates), num(&u.ClaimedRebates)); err != nil {
		return nil, err
	}
	u.normalize()
	return &u, nil
}

func userArgs(u *User) []interface{} {
	return []interface{}{lower(u.Address), u.TradeCount, numArg(u.MintVolumeNominal), numArg(u.RedeemVolumeNominal),
		numArg(u.TotalVolumeNominal), numArg(u.MintVolumeNotional), numArg(u.RedeemVolumeNotional),
		numArg(u.TotalVolumeNotional), u.LastTradeTimestamp, numArg(u.RealizedProfit), u.ReferralCode,
		lower(u.ReferrerCode), lower(u.ReferrerAddress), u.ReferredUserCount, numArg(u.ReferrerRebates),
		numArg(u.RefereeRebates), numArg(u.TotalRebates), numArg(u.ClaimedRebates)}
}

func (s *PostgresStore) queryUsers(ctx context.Context, query string, args ...interface{}) ([]*User, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetUser(ctx context.Context, address string) (*User, error) {
	u, err := scanUser(s.q.QueryRowContext(ctx, "SELECT "+strings.Join(userCols, ", ")+" FROM users WHERE address = $1", lower(address)))
	return u, notFound(err)
}

func (s *PostgresStore) lockUser(ctx context.Context, tx *sql.Tx, address string) (*User, error) {
	return scanUser(tx.QueryRowContext(ctx, "SELECT "+strings.Join(userCols, ", ")+" FROM users WHERE address = $1 FOR UPDATE", address))
}

func (s *PostgresStore) UpsertUser(ctx context.Context, address string, fn func(*User) error) error {
	address = lower(address)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO users (address) VALUES ($1) ON CONFLICT DO NOTHING", address); err != nil {
			return err
		}
		u, err := s.lockUser(ctx, tx, address)
		if err != nil {
			return err
		}
		if err := fn(u); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL("users", userCols, 1), userArgs(u)...)
		return err
	})
}

func (s *PostgresStore) UpdateUser(ctx context.Context, address string, fn func(*User) error) (bool, error) {
	address = lower(address)
	found := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		u, err := s.lockUser(ctx, tx, address)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := fn(u); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL("users", userCols, 1), userArgs(u)...)
		return err
	})
	return found, err
}

func (s *PostgresStore) ListUsers(ctx context.Context, w pagination.Window) (*pagination.Page[*User], error) {
	where := "trade_count > 0"
	pred, args := w.Predicate("last_trade_timestamp", "address", 1)
	if pred != "" {
		where += " AND " + pred
	}
	query := fmt.Sprintf("SELECT %s FROM users WHERE %s ORDER BY %s LIMIT %d",
		strings.Join(userCols, ", "), where, w.OrderBy("last_trade_timestamp", "address"), w.FetchLimit())
	rows, err := s.queryUsers(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	items, info := pagination.Finish(w, rows, userCursor)

	page := &pagination.Page[*User]{Items: items, PageInfo: info}
	if err := s.q.QueryRowContext(ctx, "SELECT count(*) FROM users WHERE trade_count > 0").Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	return page, nil
}

func (s *PostgresStore) ListReferrers(ctx context.Context) ([]*User, error) {
	return s.queryUsers(ctx, "SELECT "+strings.Join(userCols, ", ")+
		" FROM users WHERE referral_code <> '' OR referred_user_count > 0 ORDER BY referred_user_count DESC, address")
}

func (s *PostgresStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	var exists bool
	err := s.q.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE referral_code = $1)", code).Scan(&exists)
	return exists, err
}

// Protocol records

func (s *PostgresStore) InsertFee(ctx context.Context, f *Fee) error {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO fees (id, timestamp, leveraged_token, amount) VALUES ($1, $2, $3, $4) ON CONFLICT (id) DO NOTHING",
		f.ID, f.Timestamp, lower(f.LeveragedToken), numArg(f.Amount))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) AllFees(ctx context.Context) ([]*Fee, error) {
	rows, err := s.q.QueryContext(ctx, "SELECT id, timestamp, leveraged_token, amount FROM fees ORDER BY timestamp, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Fee
	for rows.Next() {
		var f Fee
		if err := rows.Scan(&f.ID, &f.Timestamp, &f.LeveragedToken, num(&f.Amount)); err != nil {
			return nil, err
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertMint(ctx context.Context, m *Mint) error {
	_, err := s.q.ExecContext(ctx, insertSQL("mints", []string{
		"id", "timestamp", "leveraged_token", "sender", "recipient", "base_asset_amount", "leveraged_token_amount",
	})+" ON CONFLICT (id) DO NOTHING",
		m.ID, m.Timestamp, lower(m.LeveragedToken), lower(m.Sender), lower(m.Recipient),
		numArg(m.BaseAssetAmount), numArg(m.LeveragedTokenAmount))
	return err
}

func (s *PostgresStore) PutAgent(ctx context.Context, a *Agent) error {
	_, err := s.q.ExecContext(ctx,
		"INSERT INTO agents (slot, agent, name) VALUES ($1, $2, $3) ON CONFLICT (slot) DO UPDATE SET agent = EXCLUDED.agent, name = EXCLUDED.name",
		int64(a.Slot), lower(a.Agent), a.Name)
	return err
}

var globalCols = []string{
	"id", "owner", "all_mints_paused", "min_transaction_size", "min_lock_amount", "redemption_fee",
	"execute_redemption_fee", "streaming_fee", "treasury_fee_share", "referrer_rebate", "referee_rebate",
}

func scanGlobal(row scanner) (*GlobalStorage, error) {
	var id string
	var g GlobalStorage
	if err := row.Scan(&id, &g.Owner, &g.AllMintsPaused, num(&g.MinTransactionSize), num(&g.MinLockAmount),
		num(&g.RedemptionFee), num(&g.ExecuteRedemptionFee), num(&g.StreamingFee), num(&g.TreasuryFeeShare),
		num(&g.ReferrerRebate), num(&g.RefereeRebate)); err != nil {
		return nil, err
	}
	g.normalize()
	return &g, nil
}

func (s *PostgresStore) GetGlobalStorage(ctx context.Context) (*GlobalStorage, error) {
	g, err := scanGlobal(s.q.QueryRowContext(ctx, "SELECT "+strings.Join(globalCols, ", ")+" FROM global_storage WHERE id = $1", GlobalStorageID))
	return g, notFound(err)
}

func (s *PostgresStore) UpsertGlobalStorage(ctx context.Context, fn func(*GlobalStorage) error) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO global_storage (id, owner) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			GlobalStorageID, NewGlobalStorage().Owner); err != nil {
			return err
		}
		g, err := scanGlobal(tx.QueryRowContext(ctx, "SELECT "+strings.Join(globalCols, ", ")+" FROM global_storage WHERE id = $1 FOR UPDATE", GlobalStorageID))
		if err != nil {
			return err
		}
		if err := fn(g); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, updateSQL("global_storage", globalCols, 1),
			GlobalStorageID, lower(g.Owner), g.AllMintsPaused, numArg(g.MinTransactionSize), numArg(g.MinLockAmount),
			numArg(g.RedemptionFee), numArg(g.ExecuteRedemptionFee), numArg(g.StreamingFee),
			numArg(g.TreasuryFeeShare), numArg(g.ReferrerRebate), numArg(g.RefereeRebate))
		return err
	})
}
