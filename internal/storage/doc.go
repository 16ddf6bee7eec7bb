// Package storage implements the sales retention engine.
//
// Architecture:
//
//	┌─────────────┐  AdvanceDay  ┌──────────────────────┐  age > D  ┌─────────┐
//	│ current day │─────────────▶│ window of D closed   │──────────▶│ archive │
//	│ (cur lock)  │              │ days (window lock)   │           │ parquet │
//	└─────────────┘              └──────────────────────┘           └─────────┘
//	       │                         │ at most S resident
//	       ▼                         ▼
//	   notifier                  day files (dayfile)
//
// The current day accepts events and wakes blocking waits through the
// notifier, which shares the current-day lock. Closed days keep their
// aggregates in memory for their whole life; their raw events are paged
// between memory and day files under an LRU bound of S resident days.
//
// Lock order is current day, then window, then a single series. No code
// path takes them in another order.
package storage
