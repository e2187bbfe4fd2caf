package datarecording

import (
	"database/sql"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteReader reads back a database written by the SQLite recorder.
type SQLiteReader struct {
	*sql.DB
}

// OpenSQLiteReader opens an existing SQLite database file.
func OpenSQLiteReader(filename string) (*SQLiteReader, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	return &SQLiteReader{DB: db}, nil
}

// ListTables returns the names of the tables in the database, sorted.
func (r *SQLiteReader) ListTables() ([]string, error) {
	rows, err := r.Query(
		"SELECT name FROM sqlite_master WHERE type='table' ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tables []string

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}

		tables = append(tables, name)
	}

	return tables, rows.Err()
}

// GroupCount is the number of rows sharing the same values in the grouped
// columns.
type GroupCount struct {
	Keys  []string
	Count int
}

// CountBy counts the rows of a table grouped by the given columns.
func (r *SQLiteReader) CountBy(
	tableName string,
	columns ...string,
) ([]GroupCount, error) {
	for _, id := range append([]string{tableName}, columns...) {
		if !identifierPattern.MatchString(id) {
			return nil, fmt.Errorf("datarecording: invalid identifier %q", id)
		}
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("datarecording: no column to group by")
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quoteIdentifier(c)
	}

	cols := strings.Join(quoted, ", ")
	query := "SELECT " + cols + ", COUNT(*)" +
		" FROM " + quoteIdentifier(tableName) +
		" GROUP BY " + cols + " ORDER BY " + cols

	rows, err := r.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []GroupCount

	for rows.Next() {
		gc := GroupCount{Keys: make([]string, len(columns))}

		dest := make([]any, 0, len(columns)+1)
		for i := range gc.Keys {
			dest = append(dest, &gc.Keys[i])
		}
		dest = append(dest, &gc.Count)

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		counts = append(counts, gc)
	}

	return counts, rows.Err()
}
