package datarecording

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tebeka/atexit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// mongoWriter records every table as a collection of documents.
type mongoWriter struct {
	tableSet

	client *mongo.Client
	db     *mongo.Database
}

func mongoURI(addr string) string {
	if strings.HasPrefix(addr, "mongodb://") ||
		strings.HasPrefix(addr, "mongodb+srv://") {
		return addr
	}

	return "mongodb://" + addr
}

// NewMongoDBRecorder creates a DataRecorder writing into a MongoDB database.
// The address is either a host:port pair or a full connection URI.
func NewMongoDBRecorder(cfg RemoteConfig) (DataRecorder, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(mongoURI(cfg.Addr)).
		SetConnectTimeout(30 * time.Second)
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("datarecording: connecting to mongodb %s: %w",
			cfg.Addr, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("datarecording: pinging mongodb %s: %w",
			cfg.Addr, err)
	}

	w := &mongoWriter{
		tableSet: newTableSet(cfg.BatchSize),
		client:   client,
		db:       client.Database(cfg.Database),
	}

	atexit.Register(func() { w.Flush() })

	return w, nil
}

// mongoDocument turns an entry into a document keyed by field name. BSON has
// no unsigned integers, so values beyond int64 are stored as strings.
func mongoDocument(t *table, entry any) bson.D {
	values := rowValues(entry)
	doc := make(bson.D, 0, len(values))

	for i, v := range values {
		if u, ok := v.(uint64); ok {
			if u <= math.MaxInt64 {
				v = int64(u)
			} else {
				v = strconv.FormatUint(u, 10)
			}
		}

		doc = append(doc, bson.E{Key: t.columns[i], Value: v})
	}

	return doc
}

func (w *mongoWriter) CreateTable(tableName string, sampleEntry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if _, err := w.add(tableName, sampleEntry); err != nil {
		panic(err)
	}
}

func (w *mongoWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.buffer(tableName, entry) {
		w.flush()
	}
}

func (w *mongoWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	return w.names()
}

func (w *mongoWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	w.flush()
}

func (w *mongoWriter) flush() {
	err := w.drain(func(t *table) error {
		docs := make([]interface{}, 0, len(t.entries))
		for _, entry := range t.entries {
			docs = append(docs, mongoDocument(t, entry))
		}

		_, err := w.db.Collection(t.name).InsertMany(context.Background(), docs)

		return err
	})
	if err != nil {
		panic(err)
	}
}

func (w *mongoWriter) Close() error {
	w.Flush()

	return w.client.Disconnect(context.Background())
}
