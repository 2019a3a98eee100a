// Package cmd implements the command-line interface of dORM. It provides a
// hierarchical command structure for running store servers and for working with
// the objects stored through the data access layer.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a server hosting persistent and volatile store shards
//   - kv: Raw key-value operations and benchmarks on a single shard
//   - object: Create, read, update and delete single objects of a schema
//   - query: Runs filtered queries with the query cache of the data access layer
//   - check: Verifies and repairs the reverse index of relations
//   - util: Shared flags, configuration and store setup (internal use)
//
// Every flag can also be set with an environment variable DORM_<FLAG> or in a .env file.
// See dorm -help for a list of all commands.
package cmd
