package storage

import "context"

// schema is the full DDL, idempotent so startup can always apply it.
const schema = `
CREATE TABLE IF NOT EXISTS trades (
    condition_id TEXT        NOT NULL,
    trade_id     TEXT        NOT NULL,
    token_id     TEXT        NOT NULL,
    price        NUMERIC     NOT NULL,
    size         NUMERIC     NOT NULL,
    side         TEXT        NOT NULL,
    ts           TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (condition_id, trade_id)
);

CREATE TABLE IF NOT EXISTS watermarks (
    stream     TEXT        NOT NULL,
    key        TEXT        NOT NULL,
    value      BIGINT      NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (stream, key)
);

CREATE TABLE IF NOT EXISTS triggers (
    token_id     TEXT             NOT NULL,
    condition_id TEXT             NOT NULL,
    threshold    DOUBLE PRECISION NOT NULL,
    price        NUMERIC          NOT NULL,
    size         NUMERIC          NOT NULL DEFAULT 0,
    score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    outcome      TEXT             NOT NULL DEFAULT '',
    triggered_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (token_id, condition_id, threshold)
);

-- Dual-key uniqueness: one trigger per (condition, threshold) no matter
-- which token crossed first. The advisory-locked check-and-insert is the
-- primary enforcement; this index backs it at the schema level.
CREATE UNIQUE INDEX IF NOT EXISTS triggers_condition_threshold
    ON triggers (condition_id, threshold);

CREATE TABLE IF NOT EXISTS candidates (
    token_id     TEXT             NOT NULL,
    condition_id TEXT             NOT NULL,
    threshold    DOUBLE PRECISION NOT NULL,
    price        NUMERIC          NOT NULL,
    score        DOUBLE PRECISION NOT NULL DEFAULT 0,
    status       TEXT             NOT NULL DEFAULT 'pending',
    created_at   TIMESTAMPTZ      NOT NULL DEFAULT now(),
    decided_at   TIMESTAMPTZ,
    PRIMARY KEY (token_id, condition_id, threshold)
);

CREATE TABLE IF NOT EXISTS orders (
    order_id       TEXT        PRIMARY KEY,
    token_id       TEXT        NOT NULL,
    condition_id   TEXT        NOT NULL,
    side           TEXT        NOT NULL,
    price          NUMERIC     NOT NULL,
    size           NUMERIC     NOT NULL,
    filled_size    NUMERIC     NOT NULL DEFAULT 0,
    avg_fill_price NUMERIC     NOT NULL DEFAULT 0,
    status         TEXT        NOT NULL,
    mode           TEXT        NOT NULL,
    reason         TEXT        NOT NULL DEFAULT '',
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS orders_status ON orders (status);

CREATE TABLE IF NOT EXISTS positions (
    position_id    TEXT        PRIMARY KEY,
    token_id       TEXT        NOT NULL,
    condition_id   TEXT        NOT NULL,
    size           NUMERIC     NOT NULL,
    entry_price    NUMERIC     NOT NULL,
    entry_cost     NUMERIC     NOT NULL,
    entry_time     TIMESTAMPTZ NOT NULL,
    hold_start_at  TIMESTAMPTZ NOT NULL,
    realized_pnl   NUMERIC     NOT NULL DEFAULT 0,
    current_price  NUMERIC     NOT NULL DEFAULT 0,
    unrealized_pnl NUMERIC     NOT NULL DEFAULT 0,
    status         TEXT        NOT NULL DEFAULT 'open',
    imported       BOOLEAN     NOT NULL DEFAULT FALSE,
    exit_order_id  TEXT        NOT NULL DEFAULT '',
    exit_timestamp TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS positions_token ON positions (token_id) WHERE status = 'open';

CREATE TABLE IF NOT EXISTS exit_events (
    id          TEXT             PRIMARY KEY,
    position_id TEXT             NOT NULL,
    exit_type   TEXT             NOT NULL,
    entry_price NUMERIC          NOT NULL,
    exit_price  NUMERIC          NOT NULL,
    size        NUMERIC          NOT NULL,
    gross_pnl   NUMERIC          NOT NULL,
    net_pnl     NUMERIC          NOT NULL,
    hours_held  DOUBLE PRECISION NOT NULL,
    status      TEXT             NOT NULL DEFAULT 'pending',
    created_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS watchlist (
    token_id          TEXT             PRIMARY KEY,
    condition_id      TEXT             NOT NULL,
    question          TEXT             NOT NULL DEFAULT '',
    trigger_price     NUMERIC          NOT NULL,
    initial_score     DOUBLE PRECISION NOT NULL,
    current_score     DOUBLE PRECISION NOT NULL,
    time_to_end_hours DOUBLE PRECISION NOT NULL,
    status            TEXT             NOT NULL DEFAULT 'watching',
    score_history     DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    added_at          TIMESTAMPTZ      NOT NULL DEFAULT now(),
    updated_at        TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS market_universe (
    condition_id          TEXT             PRIMARY KEY,
    question              TEXT             NOT NULL DEFAULT '',
    category              TEXT             NOT NULL DEFAULT '',
    end_date              TIMESTAMPTZ,
    resolved              BOOLEAN          NOT NULL DEFAULT FALSE,
    resolution            TEXT             NOT NULL DEFAULT '',
    tier                  INT              NOT NULL DEFAULT 1,
    score                 DOUBLE PRECISION NOT NULL DEFAULT 0,
    pinned_tier           INT              NOT NULL DEFAULT 0,
    last_signal_at        TIMESTAMPTZ,
    below_threshold_since TIMESTAMPTZ,
    price_change_1h       DOUBLE PRECISION NOT NULL DEFAULT 0,
    price_change_24h      DOUBLE PRECISION NOT NULL DEFAULT 0,
    volume_24h            DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at            TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS token_metadata (
    token_id      TEXT PRIMARY KEY,
    condition_id  TEXT NOT NULL,
    outcome_index INT  NOT NULL DEFAULT 0,
    outcome       TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS token_metadata_condition ON token_metadata (condition_id);

CREATE TABLE IF NOT EXISTS price_snapshots (
    condition_id TEXT        NOT NULL,
    token_id     TEXT        NOT NULL,
    price        NUMERIC     NOT NULL,
    taken_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS price_snapshots_token_time ON price_snapshots (token_id, taken_at);

CREATE TABLE IF NOT EXISTS tier_requests (
    id             BIGSERIAL   PRIMARY KEY,
    condition_id   TEXT        NOT NULL,
    requested_tier INT         NOT NULL,
    requested_by   TEXT        NOT NULL DEFAULT '',
    expires_at     TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS approvals (
    token_id   TEXT        PRIMARY KEY,
    max_price  NUMERIC     NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    status     TEXT        NOT NULL DEFAULT 'pending'
);

CREATE TABLE IF NOT EXISTS sync_runs (
    id          TEXT        PRIMARY KEY,
    kind        TEXT        NOT NULL,
    status      TEXT        NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
    finished_at TIMESTAMPTZ,
    duration_ms BIGINT      NOT NULL DEFAULT 0,
    markets     INT         NOT NULL DEFAULT 0,
    trades      INT         NOT NULL DEFAULT 0,
    error       TEXT        NOT NULL DEFAULT ''
);
`

// EnsureSchema applies the DDL. Safe to run on every startup.
func (p *Pool) EnsureSchema(ctx context.Context) error {
	_, err := p.Execute(ctx, schema)
	return err
}
