package store

type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered schema history. Append only.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create receipts and receipt items",
		SQL: `
			CREATE TABLE receipts (
				id            TEXT PRIMARY KEY,
				conversation  TEXT NOT NULL,
				channel_id    TEXT NOT NULL,
				chat_id       TEXT NOT NULL,
				sender_id     TEXT NOT NULL DEFAULT '',
				event_id      TEXT NOT NULL DEFAULT '',
				provider      TEXT NOT NULL DEFAULT '',
				total         TEXT NOT NULL,
				items_total   TEXT NOT NULL,
				committed_at  TEXT NOT NULL
			);

			CREATE INDEX idx_receipts_conversation ON receipts (conversation, committed_at);
			CREATE INDEX idx_receipts_committed ON receipts (committed_at);

			CREATE TABLE receipt_items (
				receipt_id  TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
				position    INTEGER NOT NULL,
				name        TEXT NOT NULL,
				price       TEXT NOT NULL,
				PRIMARY KEY (receipt_id, position)
			);
		`,
	},
	{
		Version: 2,
		Name:    "record session total after each receipt",
		SQL: `
			ALTER TABLE receipts ADD COLUMN session_total TEXT NOT NULL DEFAULT '';
		`,
	},
}
