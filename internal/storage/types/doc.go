// Package types defines the data types shared by the storage engine, the
// day-file codec and the wire protocol.
//
// Key types:
//   - Event: a single sale, immutable once recorded
//   - Series: the arrival-ordered events of one product within one day
//   - Stats: the aggregate of one product on one closed day
package types
