package store

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
    id            TEXT PRIMARY KEY,
    username      TEXT UNIQUE NOT NULL,
    password_hash TEXT NOT NULL,
    created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id   TEXT PRIMARY KEY,
    name TEXT UNIQUE NOT NULL
);

CREATE TABLE IF NOT EXISTS user_groups (
    user_id  TEXT NOT NULL,
    group_id TEXT NOT NULL,
    PRIMARY KEY (user_id, group_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pages (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    owner_id   TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS page_permissions (
    page_id      TEXT NOT NULL,
    subject_type TEXT NOT NULL CHECK(subject_type IN ('user', 'group')),
    subject_id   TEXT NOT NULL,
    can_view     INTEGER NOT NULL DEFAULT 1,
    can_edit     INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (page_id, subject_type, subject_id),
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS alarms (
    id             TEXT PRIMARY KEY,
    page_id        TEXT NOT NULL,
    ticker         TEXT NOT NULL,
    option         TEXT NOT NULL,
    condition      TEXT NOT NULL,
    strategy_id    TEXT NOT NULL DEFAULT '',
    strategy_name  TEXT NOT NULL DEFAULT '',
    created_by     TEXT NOT NULL,
    active         INTEGER NOT NULL DEFAULT 1,
    created_at     DATETIME NOT NULL,
    last_triggered DATETIME,
    FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE,
    FOREIGN KEY (created_by) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS alarm_events (
    id           TEXT PRIMARY KEY,
    alarm_id     TEXT NOT NULL,
    triggered_by TEXT NOT NULL,
    price        REAL,
    triggered_at DATETIME NOT NULL,
    FOREIGN KEY (alarm_id) REFERENCES alarms(id) ON DELETE CASCADE,
    FOREIGN KEY (triggered_by) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_alarms_page ON alarms(page_id);
CREATE INDEX IF NOT EXISTS idx_alarms_strategy ON alarms(page_id, strategy_id);
CREATE INDEX IF NOT EXISTS idx_permissions_subject ON page_permissions(subject_type, subject_id);
CREATE INDEX IF NOT EXISTS idx_user_groups_user ON user_groups(user_id);
`
