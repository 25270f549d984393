package bookkeeper

import "github.com/DataONEorg/bookkeeper/id"

// ID is the identifier type of records Bookkeeper creates itself: payment
// records, usage events and reconciliation runs.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
