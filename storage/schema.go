// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

// Schema defines the database schema
type Schema struct {
	Name    string
	Tables  []Table
	Indexes []Index
}

// Table defines a database table
type Table struct {
	Name    string
	Columns []Column
}

// Column defines a table column
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string
	Primary  bool
}

// ColumnType represents a column data type
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInt     ColumnType = "int"
	TypeBigInt  ColumnType = "bigint"
	TypeBool    ColumnType = "bool"
	TypeNumeric ColumnType = "numeric" // uint256-sized integers
)

// Index defines a database index
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

func text(name string) Column    { return Column{Name: name, Type: TypeText, Default: "''"} }
func bigint(name string) Column  { return Column{Name: name, Type: TypeBigInt, Default: "0"} }
func boolean(name string) Column { return Column{Name: name, Type: TypeBool, Default: "false"} }
func numeric(name string) Column { return Column{Name: name, Type: TypeNumeric, Default: "0"} }
func pk(c Column) Column         { c.Primary = true; c.Default = ""; return c }
func nullable(c Column) Column   { c.Nullable = true; c.Default = ""; return c }

// IndexerSchema is the relational layout of the record store.
var IndexerSchema = Schema{
	Name: "ltindexer",
	Tables: []Table{
		{Name: "leveraged_tokens", Columns: []Column{
			pk(text("address")),
			bigint("market_id"),
			text("target_asset"),
			numeric("target_leverage"),
			boolean("is_long"),
			text("symbol"),
			text("name"),
			{Name: "decimals", Type: TypeInt, Default: "18"},
			boolean("mint_paused"),
			numeric("exchange_rate"),
			numeric("total_supply"),
			numeric("base_asset_balance"),
			bigint("latest_bridge_from_perp_block"),
			bigint("created_at"),
		}},
		{Name: "trades", Columns: []Column{
			pk(text("id")),
			text("tx_hash"),
			bigint("timestamp"),
			bigint("block"),
			bigint("log_index"),
			text("leveraged_token"),
			boolean("is_buy"),
			text("sender"),
			text("recipient"),
			numeric("base_asset_amount"),
			numeric("leveraged_token_amount"),
			nullable(numeric("profit_amount")),
			nullable(numeric("profit_percent")),
		}},
		{Name: "transfers", Columns: []Column{
			pk(text("id")),
			text("tx_hash"),
			bigint("timestamp"),
			bigint("block"),
			bigint("log_index"),
			text("leveraged_token"),
			text("from_address"),
			text("to_address"),
			numeric("amount"),
		}},
		{Name: "balances", Columns: []Column{
			pk(text("user_address")),
			pk(text("leveraged_token")),
			numeric("total_balance"),
			numeric("purchase_cost"),
			numeric("realized_profit"),
			bigint("last_updated"),
		}},
		{Name: "users", Columns: []Column{
			pk(text("address")),
			bigint("trade_count"),
			numeric("mint_volume_nominal"),
			numeric("redeem_volume_nominal"),
			numeric("total_volume_nominal"),
			numeric("mint_volume_notional"),
			numeric("redeem_volume_notional"),
			numeric("total_volume_notional"),
			bigint("last_trade_timestamp"),
			numeric("realized_profit"),
			text("referral_code"),
			text("referrer_code"),
			text("referrer_address"),
			bigint("referred_user_count"),
			numeric("referrer_rebates"),
			numeric("referee_rebates"),
			numeric("total_rebates"),
			numeric("claimed_rebates"),
		}},
		{Name: "fees", Columns: []Column{
			pk(text("id")),
			bigint("timestamp"),
			text("leveraged_token"),
			numeric("amount"),
		}},
		{Name: "mints", Columns: []Column{
			pk(text("id")),
			bigint("timestamp"),
			text("leveraged_token"),
			text("sender"),
			text("recipient"),
			numeric("base_asset_amount"),
			numeric("leveraged_token_amount"),
		}},
		{Name: "global_storage", Columns: []Column{
			pk(text("id")),
			text("owner"),
			boolean("all_mints_paused"),
			numeric("min_transaction_size"),
			numeric("min_lock_amount"),
			numeric("redemption_fee"),
			numeric("execute_redemption_fee"),
			numeric("streaming_fee"),
			numeric("treasury_fee_share"),
			numeric("referrer_rebate"),
			numeric("referee_rebate"),
		}},
		{Name: "agents", Columns: []Column{
			pk(bigint("slot")),
			text("agent"),
			text("name"),
		}},
	},
	Indexes: []Index{
		{Name: "idx_lt_symbol", Table: "leveraged_tokens", Columns: []string{"symbol"}},
		{Name: "idx_trades_recipient", Table: "trades", Columns: []string{"recipient", "timestamp"}},
		{Name: "idx_trades_sender", Table: "trades", Columns: []string{"sender"}},
		{Name: "idx_trades_tx_hash", Table: "trades", Columns: []string{"tx_hash"}},
		{Name: "idx_trades_timestamp", Table: "trades", Columns: []string{"timestamp"}},
		{Name: "idx_transfers_from", Table: "transfers", Columns: []string{"from_address"}},
		{Name: "idx_transfers_to", Table: "transfers", Columns: []string{"to_address"}},
		{Name: "idx_users_last_trade", Table: "users", Columns: []string{"last_trade_timestamp", "address"}},
		{Name: "idx_users_referral_code", Table: "users", Columns: []string{"referral_code"}},
		{Name: "idx_fees_timestamp", Table: "fees", Columns: []string{"timestamp"}},
	},
}
