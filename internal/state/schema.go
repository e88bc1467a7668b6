package state

// schema is applied once per database file. It roots the on-disk
// layout: blocks, checkpoints, transactions, contracts, contract_state,
// contract_results. Foreign keys cascade on delete so a rollback
// (DELETE FROM blocks WHERE height > h) wipes every dependent row in
// one statement.
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS blocks (
	height    INTEGER NOT NULL PRIMARY KEY,
	hash      BLOB NOT NULL UNIQUE,
	prev_hash BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	height INTEGER NOT NULL UNIQUE REFERENCES blocks(height) ON DELETE CASCADE,
	hash   BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	height   INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	txid     BLOB NOT NULL,
	tx_index INTEGER NOT NULL,
	UNIQUE(height, tx_index)
);

CREATE TABLE IF NOT EXISTS contracts (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL,
	height   INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	tx_index INTEGER NOT NULL,
	bytes    BLOB NOT NULL,
	UNIQUE(height, tx_index)
);

CREATE TABLE IF NOT EXISTS contract_state (
	contract_id INTEGER NOT NULL REFERENCES contracts(id) ON DELETE CASCADE,
	tx_id       INTEGER REFERENCES transactions(id) ON DELETE CASCADE,
	height      INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	path        TEXT NOT NULL,
	value       BLOB,
	deleted     INTEGER NOT NULL DEFAULT 0,
	UNIQUE(contract_id, height, path)
);
CREATE INDEX IF NOT EXISTS contract_state_lookup
	ON contract_state(contract_id, path, height DESC);

CREATE TABLE IF NOT EXISTS contract_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	height      INTEGER NOT NULL REFERENCES blocks(height) ON DELETE CASCADE,
	txid        BLOB NOT NULL,
	input_index INTEGER NOT NULL,
	gas_used    INTEGER NOT NULL,
	ok          INTEGER NOT NULL,
	value       TEXT,
	message     TEXT,
	ephemeral   INTEGER NOT NULL DEFAULT 0,
	UNIQUE(txid, input_index)
);

-- Checkpoints mark a height as finalized in the same atomic commit as the
-- block row and its state writes.
CREATE TRIGGER IF NOT EXISTS checkpoint_on_block
AFTER INSERT ON blocks
BEGIN
	INSERT INTO checkpoints (height, hash) VALUES (NEW.height, NEW.hash);
END;
`
