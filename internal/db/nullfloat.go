package db

import (
	"database/sql"
	"math"

	"github.com/banshee-data/heading.fusion/internal/heading"
)

// SQLite has no NaN; non-finite values are stored as NULL and read back
// as NaN.
func finiteOrNil(v float64) interface{} {
	if !heading.IsFinite(v) {
		return nil
	}
	return v
}

type nullFloat struct {
	sql.NullFloat64
}

func (n nullFloat) value() float64 {
	if !n.Valid {
		return math.NaN()
	}
	return n.Float64
}
