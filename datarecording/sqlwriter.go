package datarecording

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
)

// sqlDialect renders the statements that differ between SQL databases.
type sqlDialect interface {
	createTable(t *table) string
	insert(t *table) string
}

// sqlWriter records into a database/sql connection.
type sqlWriter struct {
	tableSet

	db      *sql.DB
	dialect sqlDialect
}

func newSQLWriter(db *sql.DB, dialect sqlDialect, batchSize int) *sqlWriter {
	return &sqlWriter{
		tableSet: newTableSet(batchSize),
		db:       db,
		dialect:  dialect,
	}
}

// CreateTable creates a table with one column per exported field of the
// sample entry. It panics if the entry is not a flat struct.
func (w *sqlWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t, err := w.add(tableName, sampleEntry)
	if err != nil {
		panic(err)
	}

	w.mustExecute(w.dialect.createTable(t))
}

// InsertData buffers an entry. The buffer is written out once it holds a
// full batch.
func (w *sqlWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.buffer(tableName, entry) {
		w.flush()
	}
}

// ListTables returns the names of the tables created so far.
func (w *sqlWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.names()
}

// Flush writes every buffered entry in one transaction.
func (w *sqlWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *sqlWriter) flush() {
	if w.entryCount == 0 {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		panic(err)
	}

	err = w.drain(func(t *table) error {
		return w.insertEntries(tx, t)
	})
	if err != nil {
		_ = tx.Rollback()
		panic(err)
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}
}

func (w *sqlWriter) insertEntries(tx *sql.Tx, t *table) error {
	stmt, err := tx.Prepare(w.dialect.insert(t))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, entry := range t.entries {
		if _, err := stmt.Exec(rowValues(entry)...); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes the buffered entries and closes the connection.
func (w *sqlWriter) Close() error {
	w.Flush()

	return w.db.Close()
}

func (w *sqlWriter) mustExecute(query string) sql.Result {
	res, err := w.db.Exec(query)
	if err != nil {
		panic(fmt.Errorf("datarecording: failed to execute %q: %w", query, err))
	}

	return res
}

func placeholders(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = "?"
	}

	return "(" + strings.Join(marks, ", ") + ")"
}

// quoteIdentifier wraps a table or column name in double quotes, so field
// names such as Where or Order are not read as keywords.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqliteDialect creates untyped columns; SQLite stores whatever it gets.
type sqliteDialect struct{}

func (sqliteDialect) createTable(t *table) string {
	fields := make([]string, len(t.columns))
	for i, c := range t.columns {
		fields[i] = quoteIdentifier(c)
	}

	return "CREATE TABLE " + quoteIdentifier(t.name) + " (\n\t" +
		strings.Join(fields, ", \n\t") + "\n);"
}

func (sqliteDialect) insert(t *table) string {
	return "INSERT INTO " + quoteIdentifier(t.name) + " VALUES " +
		placeholders(len(t.columns))
}

// mysqlDialect creates typed, quoted columns.
type mysqlDialect struct{}

func (mysqlDialect) columnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "BIGINT"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "BIGINT UNSIGNED"
	case reflect.Float32, reflect.Float64:
		return "DOUBLE"
	default:
		return "TEXT"
	}
}

func (d mysqlDialect) createTable(t *table) string {
	fields := make([]string, len(t.columns))
	for i, c := range t.columns {
		fields[i] = "`" + c + "` " + d.columnType(t.kinds[i])
	}

	return "CREATE TABLE IF NOT EXISTS `" + t.name + "` (\n\t" +
		strings.Join(fields, ",\n\t") + "\n)"
}

func (mysqlDialect) insert(t *table) string {
	return "INSERT INTO `" + t.name + "` VALUES " + placeholders(len(t.columns))
}
