// Package hdal provides the object and relational data access layer on top of a
// persistent store and a volatile cache store (see package store).
//
// The package focuses on:
//   - Typed objects with properties, relations and computed dynamic properties
//   - Optimistic concurrency with a per-field three way merge on save
//   - Queries over field paths that follow relations in both directions
//   - Cached query results that stay coherent across processes
//
// Key Components:
//
//   - Registry and TypeSpec: the types known to a process. A type is referenced in
//     persisted data only by its type id, which is derived from its name and source,
//     so independent processes with their own registries agree on it.
//
//   - DataObject: the in-memory copy of one object. Save merges the changes of the
//     caller with the current store state and writes the object, the reverse index
//     and the cache invalidation in a single transaction asserting the state it was
//     based on. Delete does the same for the removal.
//
//   - Query and DataList: filters over field paths combined with AND and OR. A
//     result is a list of guids, cached in the volatile store until a write changes
//     a field the query depends on.
//
//   - Relation mapper: for each type, the relations of other types pointing to it,
//     exposed on the owner under their backref name.
//
// Key layout (shared by every process using the same stores):
//
//	persistent  ovs_data_<type>_<guid>                          object (json)
//	persistent  ovs_reverseindex_<owner type>_<owner guid>|<backref>|<dependent guid>
//	persistent  ovs_listcache_<type>|<cache key>|<field>        invalidation link
//	persistent  ovs_descriptor_<type>                           published descriptor
//	volatile    ovs_data_<type>_<guid>                          object copy
//	volatile    ovs_data_<type>_<guid>_<dynamic>                cached dynamic value
//	volatile    ovs_list_<hash or name>                         cached query result
//	volatile    ovs_relations_<type>                            relation mapping
//	volatile    ovs_stats_dynamic_<type>_<dynamic>_<hit|miss>   dynamic counters
//
// Usage:
//
//	reg := hdal.NewRegistry()
//	_ = reg.Register(
//		hdal.NewType("machine").WithProperty("name", hdal.KindString, nil),
//		hdal.NewType("disk").
//			WithProperty("size", hdal.KindInteger, 0).
//			WithRelation(hdal.Relation{Name: "machine", Target: "machine", Backref: "disks"}),
//	)
//	dal, err := hdal.New(reg, persistent, volatile)
//
//	disks, err := dal.Query(ctx, "disk", hdal.And(hdal.Gt("size", 100), hdal.Eq("machine.name", "m1")))
package hdal
