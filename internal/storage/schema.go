package storage

// Schema for the per-room durable log and session checkpoints.
//
// The messages primary key is (room, key) where key is the ISO-8601
// encoding of the message timestamp, so natural key order within a
// room equals chronological order and "most recent N" is a reverse
// index scan.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	room    TEXT NOT NULL,
	key     TEXT NOT NULL,
	payload TEXT NOT NULL,
	PRIMARY KEY (room, key)
);

CREATE TABLE IF NOT EXISTS checkpoints (
	token      TEXT PRIMARY KEY,
	room       TEXT NOT NULL,
	name       TEXT NOT NULL,
	identity   TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// SQLite pragmas applied at open time.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA temp_store = MEMORY",
}
