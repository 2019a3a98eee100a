package hdal

import (
	"strings"
)

// Key families of the persistent and the volatile store. The grammar is visible to
// every process sharing the stores and must not change.
const (
	dataPrefix         = "ovs_data_"
	reversePrefix      = "ovs_reverseindex_"
	descriptorPrefix   = "ovs_descriptor_"
	listCachePrefix    = "ovs_listcache_"
	listPrefix         = "ovs_list_"
	relationsPrefix    = "ovs_relations_"
	dynamicStatsPrefix = "ovs_stats_dynamic_"

	// keySep separates the parts of reverse index and invalidation link keys
	keySep = "|"

	// allField is the invalidation link field that is hit by every insert and delete of a type
	allField = "__all"
)

// objectKey returns ovs_data_<type>_<guid>
func objectKey(typeName, guid string) string {
	return dataPrefix + typeName + "_" + guid
}

// objectPrefix returns the prefix of all object keys of a type
func objectPrefix(typeName string) string {
	return dataPrefix + typeName + "_"
}

// reverseKey returns ovs_reverseindex_<owner type>_<owner guid>|<backref>|<dependent guid>
func reverseKey(ownerType, ownerGuid, backref, dependentGuid string) string {
	return reverseBackrefPrefix(ownerType, ownerGuid, backref) + dependentGuid
}

// reverseOwnerPrefix returns the prefix of all reverse index keys of one owner
func reverseOwnerPrefix(ownerType, ownerGuid string) string {
	return reversePrefix + ownerType + "_" + ownerGuid + keySep
}

// reverseBackrefPrefix returns the prefix of all dependents of one owner via one backref
func reverseBackrefPrefix(ownerType, ownerGuid, backref string) string {
	return reverseOwnerPrefix(ownerType, ownerGuid) + backref + keySep
}

// parseReverseKey splits a reverse index key of the given owner type
func parseReverseKey(ownerType, key string) (ownerGuid, backref, dependentGuid string, ok bool) {
	rest, found := strings.CutPrefix(key, reversePrefix+ownerType+"_")
	if !found {
		return "", "", "", false
	}
	parts := strings.Split(rest, keySep)
	if len(parts) != 3 {
		return "", "", "", false
	}
	return parts[0], parts[1], parts[2], true
}

// descriptorKey returns ovs_descriptor_<type>
func descriptorKey(typeName string) string {
	return descriptorPrefix + typeName
}

// linkKey returns ovs_listcache_<type>|<cache key>|<field>
func linkKey(typeName, cacheKey, field string) string {
	return linkTypePrefix(typeName) + cacheKey + keySep + field
}

// linkTypePrefix returns the prefix of all invalidation links of a type
func linkTypePrefix(typeName string) string {
	return listCachePrefix + typeName + keySep
}

// parseLinkKey splits an invalidation link of the given type into cache key and field
func parseLinkKey(typeName, key string) (cacheKey, field string, ok bool) {
	rest, found := strings.CutPrefix(key, linkTypePrefix(typeName))
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, keySep)
	if i <= 0 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// relationsKey returns ovs_relations_<type>
func relationsKey(typeName string) string {
	return relationsPrefix + typeName
}

// dynamicKey returns <object key>_<dynamic>
func dynamicKey(typeName, guid, dynamic string) string {
	return objectKey(typeName, guid) + "_" + dynamic
}

// dynamicStatsKey returns ovs_stats_dynamic_<type>_<dynamic>_<hit|miss>
func dynamicStatsKey(typeName, dynamic, result string) string {
	return dynamicStatsPrefix + typeName + "_" + dynamic + "_" + result
}
