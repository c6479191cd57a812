package model

import "regexp"

// Column names flow into DDL unquoted, so only plain identifiers are accepted.
// Observed fields with other names are routed to the rescue bucket instead.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ReservedColumns are maintained by the store on every table and can never be
// declared or evolved by a stage.
var ReservedColumns = map[string]bool{
	"_ingest_seq": true,
	"_rescued":    true,
}

// ValidColumnName reports whether name may be used as a table column.
func ValidColumnName(name string) bool {
	return identPattern.MatchString(name) && !ReservedColumns[name]
}
