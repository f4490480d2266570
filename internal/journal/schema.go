package journal

const Schema = `
CREATE TABLE IF NOT EXISTS outcomes (
	position_id   TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	side          TEXT NOT NULL,
	status        TEXT NOT NULL,
	size          TEXT NOT NULL,
	leverage      INTEGER NOT NULL,
	entry_price   TEXT NOT NULL,
	exit_price    TEXT NOT NULL,
	margin        TEXT NOT NULL,
	realized_pnl  TEXT NOT NULL,
	fees          TEXT NOT NULL,
	penalty       TEXT NOT NULL DEFAULT '0',
	shortfall     TEXT NOT NULL DEFAULT '0',
	opened_at     TIMESTAMP NOT NULL,
	closed_at     TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS outcomes_user_closed ON outcomes (user_id, closed_at);
`
