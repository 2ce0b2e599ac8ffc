package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Dialect carries the few places where PostgreSQL and SQLite disagree.
// Queries in this package are written with "?" placeholders and rebound.
type Dialect struct {
	Name string
	// NumberedParams rewrites "?" to "$1", "$2", ...
	NumberedParams bool
	// ForUpdate is appended to row reads that precede a write in the same
	// transaction. Empty for engines that lock the whole database.
	ForUpdate string
	WriteTx   *sql.TxOptions
	ReadTx    *sql.TxOptions
	// Timestamp converts a time into the driver argument stored in
	// created_at/updated_at columns.
	Timestamp         func(time.Time) any
	IsUniqueViolation func(error) bool
	Schema            []string
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedParams || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d Dialect) timestamp(t time.Time) any {
	if d.Timestamp == nil {
		return t.UTC()
	}
	return d.Timestamp(t.UTC())
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}
