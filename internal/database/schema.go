package database

// Schema is the single source of truth for the relational store. Every
// statement is idempotent so the schema can be applied on each start.
const Schema = `
CREATE TABLE IF NOT EXISTS universe (
    asset_id       TEXT PRIMARY KEY,
    symbol         TEXT NOT NULL,
    name           TEXT NOT NULL DEFAULT '',
    asset_type     TEXT NOT NULL DEFAULT 'UNKNOWN',
    market_scope   TEXT NOT NULL,
    market_code    TEXT NOT NULL DEFAULT '',
    exchange_code  TEXT NOT NULL DEFAULT '',
    currency       TEXT NOT NULL DEFAULT '',
    country        TEXT NOT NULL DEFAULT '',
    sector         TEXT NOT NULL DEFAULT '',
    industry       TEXT NOT NULL DEFAULT '',
    tier           INTEGER NOT NULL DEFAULT 3,
    priority_level INTEGER NOT NULL DEFAULT 0,
    active         INTEGER NOT NULL DEFAULT 0,
    created_at     TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at     TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_universe_scope_active ON universe(market_scope, active);
CREATE INDEX IF NOT EXISTS idx_universe_scope_tier   ON universe(market_scope, tier);
CREATE INDEX IF NOT EXISTS idx_universe_symbol       ON universe(symbol);

CREATE TABLE IF NOT EXISTS scores_latest (
    asset_id               TEXT PRIMARY KEY,
    market_scope           TEXT NOT NULL,
    score_total            REAL,
    score_value            REAL,
    score_momentum         REAL,
    score_safety           REAL,
    score_fx_risk          REAL,
    score_liquidity_risk   REAL,
    confidence             REAL NOT NULL DEFAULT 0,
    state_label            TEXT NOT NULL DEFAULT 'NA',
    rsi                    REAL,
    zscore                 REAL,
    vol_annual             REAL,
    max_drawdown           REAL,
    sma200                 REAL,
    last_price             REAL,
    fundamentals_available INTEGER NOT NULL DEFAULT 0,
    breakdown              TEXT NOT NULL DEFAULT '',
    computed_at            TEXT NOT NULL,
    updated_at             TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_scores_scope_total ON scores_latest(market_scope, score_total DESC);

CREATE TABLE IF NOT EXISTS scores_staging (
    run_id                 TEXT NOT NULL,
    asset_id               TEXT NOT NULL,
    market_scope           TEXT NOT NULL,
    score_total            REAL,
    score_value            REAL,
    score_momentum         REAL,
    score_safety           REAL,
    score_fx_risk          REAL,
    score_liquidity_risk   REAL,
    confidence             REAL NOT NULL DEFAULT 0,
    state_label            TEXT NOT NULL DEFAULT 'NA',
    rsi                    REAL,
    zscore                 REAL,
    vol_annual             REAL,
    max_drawdown           REAL,
    sma200                 REAL,
    last_price             REAL,
    fundamentals_available INTEGER NOT NULL DEFAULT 0,
    breakdown              TEXT NOT NULL DEFAULT '',
    computed_at            TEXT NOT NULL,
    PRIMARY KEY (run_id, asset_id)
);

CREATE INDEX IF NOT EXISTS idx_scores_staging_run ON scores_staging(run_id);

CREATE TABLE IF NOT EXISTS gating_status (
    asset_id          TEXT PRIMARY KEY,
    market_scope      TEXT NOT NULL,
    coverage          REAL NOT NULL DEFAULT 0,
    liquidity         REAL NOT NULL DEFAULT 0,
    price_min         REAL NOT NULL DEFAULT 0,
    stale_ratio       REAL NOT NULL DEFAULT 0,
    zero_volume_ratio REAL NOT NULL DEFAULT 0,
    eligible          INTEGER NOT NULL DEFAULT 0,
    reason            TEXT NOT NULL DEFAULT '',
    data_confidence   REAL NOT NULL DEFAULT 0,
    fx_risk           REAL,
    liquidity_risk    REAL,
    bars_total        INTEGER NOT NULL DEFAULT 0,
    first_bar_date    TEXT,
    last_bar_date     TEXT,
    updated_at        TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_gating_scope_eligible ON gating_status(market_scope, eligible);

CREATE TABLE IF NOT EXISTS gating_staging (
    run_id            TEXT NOT NULL,
    asset_id          TEXT NOT NULL,
    market_scope      TEXT NOT NULL,
    coverage          REAL NOT NULL DEFAULT 0,
    liquidity         REAL NOT NULL DEFAULT 0,
    price_min         REAL NOT NULL DEFAULT 0,
    stale_ratio       REAL NOT NULL DEFAULT 0,
    zero_volume_ratio REAL NOT NULL DEFAULT 0,
    eligible          INTEGER NOT NULL DEFAULT 0,
    reason            TEXT NOT NULL DEFAULT '',
    data_confidence   REAL NOT NULL DEFAULT 0,
    fx_risk           REAL,
    liquidity_risk    REAL,
    bars_total        INTEGER NOT NULL DEFAULT 0,
    first_bar_date    TEXT,
    last_bar_date     TEXT,
    PRIMARY KEY (run_id, asset_id)
);

CREATE INDEX IF NOT EXISTS idx_gating_staging_run ON gating_staging(run_id);

CREATE TABLE IF NOT EXISTS job_runs (
    run_id           TEXT PRIMARY KEY,
    market_scope     TEXT NOT NULL,
    job_type         TEXT NOT NULL,
    mode             TEXT NOT NULL,
    created_by       TEXT NOT NULL DEFAULT '',
    status           TEXT NOT NULL DEFAULT 'running',
    assets_processed INTEGER NOT NULL DEFAULT 0,
    assets_success   INTEGER NOT NULL DEFAULT 0,
    assets_failed    INTEGER NOT NULL DEFAULT 0,
    started_at       TEXT NOT NULL DEFAULT (datetime('now')),
    finished_at      TEXT,
    error            TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_runs_started ON job_runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_runs_scope   ON job_runs(market_scope, status);

CREATE TABLE IF NOT EXISTS job_queue (
    id           TEXT PRIMARY KEY,
    job_type     TEXT NOT NULL,
    market_scope TEXT NOT NULL,
    payload      TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'PENDING',
    requested_by TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL DEFAULT (datetime('now')),
    started_at   TEXT,
    finished_at  TEXT,
    error        TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_job_queue_claim ON job_queue(status, market_scope, created_at);

CREATE TABLE IF NOT EXISTS rotation_state (
    asset_id        TEXT PRIMARY KEY,
    last_refresh_at TEXT,
    priority_level  INTEGER NOT NULL DEFAULT 0,
    in_top50        INTEGER NOT NULL DEFAULT 0,
    cooldown_until  TEXT,
    last_error      TEXT NOT NULL DEFAULT '',
    refresh_count   INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rotation_refresh ON rotation_state(last_refresh_at);

CREATE TABLE IF NOT EXISTS watchlist (
    user_id     TEXT NOT NULL,
    asset_id    TEXT NOT NULL,
    boost_until TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (user_id, asset_id)
);

CREATE INDEX IF NOT EXISTS idx_watchlist_asset ON watchlist(asset_id);

CREATE TABLE IF NOT EXISTS users (
    user_id    TEXT PRIMARY KEY,
    plan       TEXT NOT NULL DEFAULT 'free',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_daily (
    user_id TEXT NOT NULL,
    date    TEXT NOT NULL,
    used    INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, date)
);
`
