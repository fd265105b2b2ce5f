// Package store is the relational system of record: assets, deals with their
// stage/message/document logs, and transfer intents.
//
// Runs on SQLite (mattn/go-sqlite3) or Postgres (lib/pq), picked from the
// DSN. Schema changes are embedded sql-migrate files under migrations/.
// Queries are written with ? placeholders and rebound per driver.
//
// # Concurrency
//
// Rows that several writers may race on carry a version column. Writers
// update with WHERE version = ? and treat zero affected rows as a lost race
// (apperr.KindConflict); callers re-read and retry. Ownership changes
// additionally compare the expected current owner.
//
// # Idempotency
//
//   - Inserts keyed by caller-chosen IDs use ON CONFLICT DO NOTHING and
//     report whether a row was written.
//   - A partial unique index allows one terminal stage per deal.
//   - Transfer intents are keyed by deal, so applying a transfer twice finds
//     the first intent instead of moving the asset again.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
