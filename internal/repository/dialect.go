package repository

// Dialect isolates the SQL fragments that differ between backends so the
// aggregator never branches on the driver. Everything else is written as
// portable SQL with `?` placeholders rebound by sqlx.
type Dialect interface {
	Name() string

	// HourExpr yields a zero-padded "HH" hour-of-day expression for col.
	HourExpr(col string) string
	// DateExpr yields a "YYYY-MM-DD" calendar-date expression for col.
	DateExpr(col string) string
	// BoolLiteral yields the backend's boolean literal for inline SQL.
	BoolLiteral(b bool) string

	// Column types that differ between backends.
	JSONType() string
	TimestampType() string
}

type PostgresDialect struct{}

func (PostgresDialect) Name() string { return "postgres" }

func (PostgresDialect) HourExpr(col string) string {
	return "to_char(" + col + ", 'HH24')"
}

func (PostgresDialect) DateExpr(col string) string {
	return "to_char(" + col + ", 'YYYY-MM-DD')"
}

func (PostgresDialect) BoolLiteral(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func (PostgresDialect) JSONType() string      { return "JSONB" }
func (PostgresDialect) TimestampType() string { return "TIMESTAMPTZ" }

type SQLiteDialect struct{}

func (SQLiteDialect) Name() string { return "sqlite" }

func (SQLiteDialect) HourExpr(col string) string {
	return "strftime('%H', " + col + ")"
}

func (SQLiteDialect) DateExpr(col string) string {
	return "strftime('%Y-%m-%d', " + col + ")"
}

func (SQLiteDialect) BoolLiteral(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (SQLiteDialect) JSONType() string      { return "TEXT" }
func (SQLiteDialect) TimestampType() string { return "DATETIME" }
