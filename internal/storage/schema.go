package storage

// schema is the single-file database's DDL. Secondary indexes cover the
// access patterns the query layer and resample engine use.
const schema = `
CREATE TABLE IF NOT EXISTS market_data (
	symbol                   TEXT    NOT NULL,
	timestamp                INTEGER NOT NULL,
	freq                     TEXT    NOT NULL,
	open_price               REAL    NOT NULL,
	high_price               REAL    NOT NULL,
	low_price                REAL    NOT NULL,
	close_price              REAL    NOT NULL,
	volume                   REAL    NOT NULL,
	quote_volume             REAL    NOT NULL,
	trades_count             INTEGER NOT NULL,
	taker_buy_volume         REAL    NOT NULL,
	taker_buy_quote_volume   REAL    NOT NULL,
	taker_sell_volume        REAL    NOT NULL,
	taker_sell_quote_volume  REAL    NOT NULL,
	close_time               INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (symbol, timestamp, freq)
);
CREATE INDEX IF NOT EXISTS idx_market_data_symbol ON market_data(symbol);
CREATE INDEX IF NOT EXISTS idx_market_data_timestamp ON market_data(timestamp);
CREATE INDEX IF NOT EXISTS idx_market_data_freq ON market_data(freq);
CREATE INDEX IF NOT EXISTS idx_market_data_symbol_freq_ts ON market_data(symbol, freq, timestamp);

CREATE TABLE IF NOT EXISTS funding_rate (
	symbol        TEXT    NOT NULL,
	timestamp     INTEGER NOT NULL,
	funding_rate  REAL    NOT NULL,
	funding_time  INTEGER NOT NULL,
	mark_price    REAL,
	index_price   REAL,
	PRIMARY KEY (symbol, timestamp)
);
CREATE INDEX IF NOT EXISTS idx_funding_rate_symbol ON funding_rate(symbol);
CREATE INDEX IF NOT EXISTS idx_funding_rate_timestamp ON funding_rate(timestamp);

CREATE TABLE IF NOT EXISTS open_interest (
	symbol               TEXT    NOT NULL,
	timestamp            INTEGER NOT NULL,
	interval             TEXT    NOT NULL,
	open_interest        REAL    NOT NULL,
	open_interest_value  REAL,
	PRIMARY KEY (symbol, timestamp, interval)
);
CREATE INDEX IF NOT EXISTS idx_open_interest_symbol ON open_interest(symbol);
CREATE INDEX IF NOT EXISTS idx_open_interest_timestamp ON open_interest(timestamp);

CREATE TABLE IF NOT EXISTS long_short_ratio (
	symbol             TEXT    NOT NULL,
	timestamp          INTEGER NOT NULL,
	period             TEXT    NOT NULL,
	ratio_type         TEXT    NOT NULL,
	long_short_ratio   REAL    NOT NULL,
	long_account       REAL,
	short_account      REAL,
	PRIMARY KEY (symbol, timestamp, period, ratio_type)
);
CREATE INDEX IF NOT EXISTS idx_long_short_ratio_symbol ON long_short_ratio(symbol);
CREATE INDEX IF NOT EXISTS idx_long_short_ratio_timestamp ON long_short_ratio(timestamp);
`
