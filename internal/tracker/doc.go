// Package tracker synchronises the SweTrack device roster into immutable,
// change-tagged snapshots.
//
// A Coordinator runs one poll cycle per scan interval:
//
//	tick -> FetchRoster (1 call) -> Enricher (0 or 2 calls per device)
//	     -> merge -> Snapshot -> Store.publish -> subscribers
//
// Cycles are single-flight: a tick that fires while a cycle is running is
// dropped, not queued. A roster-level failure abandons the cycle and leaves
// the current snapshot untouched. Enrichment failures are isolated per device
// and per call; the last good extended values are carried forward (sticky
// merge) until the device leaves the roster.
//
// Readers use Store.Current, which never blocks and never observes a
// partially merged snapshot, or Store.Subscribe to be called once per
// published snapshot.
package tracker
