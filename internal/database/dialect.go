package database

type Dialect string

const (
	MySQL  Dialect = "mysql"
	SQLite Dialect = "sqlite"
)

// InsertIgnore returns the statement prefix that skips rows violating a unique key.
func (d Dialect) InsertIgnore() string {
	if d == SQLite {
		return "INSERT OR IGNORE"
	}
	return "INSERT IGNORE"
}

// Upsert returns the clause that turns an insert into an update of cols on key conflict.
func (d Dialect) Upsert(key string, cols ...string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		if d == SQLite {
			out += c + " = excluded." + c
		} else {
			out += c + " = VALUES(" + c + ")"
		}
	}
	if d == SQLite {
		return "ON CONFLICT(" + key + ") DO UPDATE SET " + out
	}
	return "ON DUPLICATE KEY UPDATE " + out
}

func (d Dialect) schema() []string {
	if d == SQLite {
		return sqliteSchema
	}
	return mysqlSchema
}
