// Package reminder implements the reminder scheduling and delivery engine.
//
// The store's row-set is the pending-work set: a reminder is pending while its
// row exists and is retired by deleting it. Delivery is at-least-once with
// best-effort deduplication:
//   - Dispatcher serializes delivery per reminder id inside this process.
//   - A confirmed send is followed by a delete; a failed delete means the next
//     scan redelivers (duplicate tolerated, loss is not).
//   - Transient send failures keep the row; permanent ones delete it.
//
// Scanner polls the store on a fixed interval, Recover runs once at startup,
// and Service is the create/cancel/list surface used by the command layer.
package reminder
