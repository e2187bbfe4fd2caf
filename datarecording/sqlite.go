package datarecording

import (
	"database/sql"
	"fmt"
	"os"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

// DefaultDBPrefix prefixes the database name when no name is given.
const DefaultDBPrefix = "tfsim_trace_"

// NewSQLiteRecorder creates a DataRecorder writing into path + ".sqlite3". An
// empty path picks a unique name. The file must not exist yet. The recorder is
// flushed when the program exits through atexit.
func NewSQLiteRecorder(path string) (DataRecorder, error) {
	if path == "" {
		path = DefaultDBPrefix + xid.New().String()
	}

	filename := path + ".sqlite3"

	if _, err := os.Stat(filename); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseExists, filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	logrus.WithField("file", filename).Info("Database created for recording")

	return NewSQLiteRecorderWithDB(db), nil
}

// NewSQLiteRecorderWithDB creates a DataRecorder on an open SQLite database.
func NewSQLiteRecorderWithDB(db *sql.DB) DataRecorder {
	w := newSQLWriter(db, sqliteDialect{}, defaultBatchSize)

	atexit.Register(func() { w.Flush() })

	return w
}
