// Package history persists the sync cycle log and per-device change history
// in SQLite.
//
// Every cycle, published or not, gets one sync_cycles row. Every device
// tagged as changed in a published snapshot gets a device_history row with
// the full record as JSON; removed devices get a tombstone row. The tables
// are created by the embedded migrations in the migrations package.
package history
