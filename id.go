package settle

import "github.com/xraph/settle/id"

// ID is the primary identifier type for all settle records.
type ID = id.ID

// Prefix identifies the record type encoded in a TypeID.
type Prefix = id.Prefix
