// Package mstore provides metered decorators for both store interfaces.
//
// NewMeteredStore and NewMeteredVolatileStore wrap any store and record a
// go-metrics timer per operation plus counters for the error classes of the
// store package (not found, race condition, unavailable, other). Prefix scans are
// timed from creation of the iterator until Close. WriteReport renders a registry
// as a table, it is used by the CLI to print store statistics.
//
// Usage:
//
//	registry := metrics.NewRegistry()
//	s := mstore.NewMeteredStore(bstoreInstance, registry, "persistent")
//	...
//	mstore.WriteReport(os.Stdout, registry)
package mstore
