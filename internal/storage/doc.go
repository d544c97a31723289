// Package storage persists reminders.
//
// Drivers:
//   - sqlite: single-file database (modernc.org/sqlite, no cgo)
//   - postgres: PostgreSQL via lib/pq
//   - file: dependency-free snapshot + journal, for small deployments
//
// Every driver satisfies reminder.Store: ids are never reused, (user_id,
// message_id) is unique, and due/pending reads are ordered by
// (trigger_time, id). Errors are returned as *reminder.PersistenceError.
package storage
