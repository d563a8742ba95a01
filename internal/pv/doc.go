// Package pv holds the IOC's process variables: typed, named records that
// clients read, write and monitor.
//
// A record is declared once with Add(Spec). Clients write through Put, which
// coerces the value to the record type, rejects read-only records and runs
// the record's put hook before committing. The IOC publishes derived values
// with Write, which skips both checks. Every commit bumps a global sequence
// number and is fanned out to subscribers without blocking the writer.
package pv
