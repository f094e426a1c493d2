// Package storage keeps the append-only outcome audit trail.
//
// One record is written per admin call and per scanner exit. Nothing in the
// daemon reads the trail back to make scheduling decisions.
package storage
