package internal

// QueryType defines the possible queries for the state machine.
type QueryType uint8

const (
	QueryTGet       QueryType = iota // Retrieve an entry by key.
	QueryTGetMulti                   // Retrieve several entries, fails on the first missing key.
	QueryTScan                       // Retrieve a page of entries by prefix.
	QueryTGetDBInfo                  // Retrieve metadata about the database underlying the machine.
)

func (q QueryType) String() string {
	switch q {
	case QueryTGet:
		return "Get"
	case QueryTGetMulti:
		return "GetMulti"
	case QueryTScan:
		return "Scan"
	case QueryTGetDBInfo:
		return "GetDBInfo"
	default:
		return "Unknown"
	}
}

// Query defines the structure for lookup requests (read-only) sent via SyncRead or StaleRead.
// Which fields are used depends on the type of the query.
type Query struct {
	Type     QueryType // The type of Query to perform.
	Key      string    // Get
	Keys     []string  // GetMulti
	Prefix   string    // Scan
	After    string    // Scan: exclusive start key
	Limit    int       // Scan: page size
	KeysOnly bool      // Scan: skip values
}

// QueryResult is the result of a QueryTGet operation.
type QueryResult struct {
	Ok    bool
	Value []byte
}

// MultiQueryResult is the result of a QueryTGetMulti operation.
// If Ok is false, Missing holds the first key that was not found.
type MultiQueryResult struct {
	Ok      bool
	Values  [][]byte
	Missing string
}
