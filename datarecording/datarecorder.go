// Package datarecording stores simulation records, such as queue events and
// performance summaries, in a database.
//
// A record is a flat struct whose exported fields are booleans, numbers or
// strings. Every struct type gets its own table, created from a sample entry.
// Entries are buffered in memory and written in batches.
package datarecording

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/fatih/structs"
)

var (
	// ErrInvalidEntry is reported when an entry is not a flat struct.
	ErrInvalidEntry = errors.New("datarecording: entry is invalid")

	// ErrDatabaseExists is reported when a new database file would overwrite
	// an existing one.
	ErrDatabaseExists = errors.New("datarecording: database already exists")

	// ErrUnknownBackend is reported for a backend name that is not supported.
	ErrUnknownBackend = errors.New("datarecording: unknown backend")
)

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a new table with the columns of the sample entry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables, sorted.
	ListTables() []string

	// Flush writes all the buffered entries into the database.
	Flush()

	// Close flushes and releases the database connection.
	Close() error
}

const defaultBatchSize = 100000

type table struct {
	name       string
	structType reflect.Type
	columns    []string
	kinds      []reflect.Kind
	entries    []any
}

func newTable(name string, sample any) (*table, error) {
	if err := checkStructFields(sample); err != nil {
		return nil, err
	}

	t := &table{
		name:       name,
		structType: reflect.TypeOf(sample),
	}

	for _, f := range exportedFields(sample) {
		t.columns = append(t.columns, f.Name())
		t.kinds = append(t.kinds, f.Kind())
	}

	return t, nil
}

func isAllowedKind(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Uint64,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

// exportedFields lists the fields that structs.Values reports, so columns and
// row values line up.
func exportedFields(entry any) []*structs.Field {
	var fields []*structs.Field

	for _, f := range structs.Fields(entry) {
		if f.IsExported() {
			fields = append(fields, f)
		}
	}

	return fields
}

func checkStructFields(entry any) error {
	if entry == nil || !structs.IsStruct(entry) {
		return fmt.Errorf("%w: %T is not a struct", ErrInvalidEntry, entry)
	}

	fields := exportedFields(entry)
	if len(fields) == 0 {
		return fmt.Errorf("%w: %T has no exported field", ErrInvalidEntry, entry)
	}

	for _, f := range fields {
		if !isAllowedKind(f.Kind()) {
			return fmt.Errorf("%w: field %s of %T has kind %s",
				ErrInvalidEntry, f.Name(), entry, f.Kind())
		}
	}

	return nil
}

// tableSet buffers entries per table until the batch size is reached. It is
// shared by all the backends.
type tableSet struct {
	lock       sync.Mutex
	tables     map[string]*table
	batchSize  int
	entryCount int
}

func newTableSet(batchSize int) tableSet {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return tableSet{
		tables:    make(map[string]*table),
		batchSize: batchSize,
	}
}

func (s *tableSet) add(name string, sample any) (*table, error) {
	if _, exists := s.tables[name]; exists {
		return nil, fmt.Errorf("datarecording: table %s already exists", name)
	}

	t, err := newTable(name, sample)
	if err != nil {
		return nil, err
	}

	s.tables[name] = t

	return t, nil
}

// buffer appends an entry and reports whether the batch is full.
func (s *tableSet) buffer(name string, entry any) bool {
	t, exists := s.tables[name]
	if !exists {
		panic(fmt.Sprintf("table %s does not exist", name))
	}

	if reflect.TypeOf(entry) != t.structType {
		panic(fmt.Sprintf("table %s expects %s, got %T",
			name, t.structType, entry))
	}

	t.entries = append(t.entries, entry)
	s.entryCount++

	return s.entryCount >= s.batchSize
}

func (s *tableSet) names() []string {
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// drain hands every non-empty table to write, in name order, and forgets the
// written entries.
func (s *tableSet) drain(write func(t *table) error) error {
	if s.entryCount == 0 {
		return nil
	}

	for _, name := range s.names() {
		t := s.tables[name]
		if len(t.entries) == 0 {
			continue
		}

		if err := write(t); err != nil {
			return fmt.Errorf("datarecording: writing table %s: %w", name, err)
		}

		s.entryCount -= len(t.entries)
		t.entries = nil
	}

	return nil
}

// normalizeValue widens numbers to 64 bits, which every backend accepts.
func normalizeValue(v any) any {
	rv := reflect.ValueOf(v)

	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return rv.Uint()
	case reflect.Float32, reflect.Float64:
		return rv.Float()
	case reflect.String:
		return rv.String()
	default:
		return v
	}
}

func rowValues(entry any) []any {
	values := structs.Values(entry)
	for i, v := range values {
		values[i] = normalizeValue(v)
	}

	return values
}
