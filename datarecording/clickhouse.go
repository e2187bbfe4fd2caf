package datarecording

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/tebeka/atexit"
)

// clickHouseWriter records into ClickHouse through the native protocol. Each
// table is a MergeTree filled with one batch per flush.
type clickHouseWriter struct {
	tableSet

	conn clickhouse.Conn
}

// NewClickHouseRecorder creates a DataRecorder writing into ClickHouse.
func NewClickHouseRecorder(cfg RemoteConfig) (DataRecorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:      30 * time.Second,
		MaxOpenConns:     5,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
	})
	if err != nil {
		return nil, fmt.Errorf("datarecording: connecting to clickhouse %s: %w",
			cfg.Addr, err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("datarecording: pinging clickhouse %s: %w",
			cfg.Addr, err)
	}

	w := &clickHouseWriter{
		tableSet: newTableSet(cfg.BatchSize),
		conn:     conn,
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

func clickHouseColumnType(kind reflect.Kind) string {
	switch kind {
	case reflect.Bool:
		return "Bool"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "Int64"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32,
		reflect.Uint64:
		return "UInt64"
	case reflect.Float32, reflect.Float64:
		return "Float64"
	default:
		return "String"
	}
}

func clickHouseCreateTable(t *table) string {
	fields := make([]string, len(t.columns))
	for i, c := range t.columns {
		fields[i] = "`" + c + "` " + clickHouseColumnType(t.kinds[i])
	}

	return "CREATE TABLE IF NOT EXISTS `" + t.name + "` (\n\t" +
		strings.Join(fields, ",\n\t") +
		"\n) ENGINE = MergeTree()\nORDER BY tuple()"
}

func (w *clickHouseWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	t, err := w.add(tableName, sampleEntry)
	if err != nil {
		panic(err)
	}

	err = w.conn.Exec(context.Background(), clickHouseCreateTable(t))
	if err != nil {
		panic(fmt.Errorf("datarecording: creating table %s: %w", tableName, err))
	}
}

func (w *clickHouseWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.buffer(tableName, entry) {
		w.flush()
	}
}

func (w *clickHouseWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.names()
}

func (w *clickHouseWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *clickHouseWriter) flush() {
	err := w.drain(func(t *table) error {
		ctx := context.Background()

		batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO `"+t.name+"`")
		if err != nil {
			return err
		}

		for _, entry := range t.entries {
			if err := batch.Append(rowValues(entry)...); err != nil {
				_ = batch.Abort()
				return err
			}
		}

		return batch.Send()
	})
	if err != nil {
		panic(err)
	}
}

func (w *clickHouseWriter) Close() error {
	w.Flush()

	return w.conn.Close()
}
