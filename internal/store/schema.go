package store

// Schema contains SQL schema definitions for the store. Neither table holds
// message content or mailbox secrets.
const Schema = `
-- One row per send request
CREATE TABLE IF NOT EXISTS send_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mailbox TEXT NOT NULL,
    message_id TEXT NOT NULL,
    recipients TEXT NOT NULL,
    subject TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL,
    error_code TEXT,
    error TEXT,
    archived_to TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_send_log_mailbox ON send_log(mailbox, id);

-- Last seen INBOX state per watched mailbox
CREATE TABLE IF NOT EXISTS mailbox_marks (
    mailbox TEXT PRIMARY KEY,
    uid_validity INTEGER NOT NULL,
    uid_next INTEGER NOT NULL,
    messages INTEGER NOT NULL,
    updated_at TEXT NOT NULL
);
`
