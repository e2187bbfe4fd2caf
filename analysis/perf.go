// Package analysis turns queue hook events into performance data: time
// weighted occupancy, event traces and log lines.
package analysis

import (
	"encoding/csv"
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/timing"
)

// PerfEntry is a single performance record covering [Start, End).
type PerfEntry struct {
	Start     timing.VTimeInCycle
	End       timing.VTimeInCycle
	Where     string
	What      string
	EntryType string
	Value     float64
	Unit      string
}

// PerfLogger can record performance data entries.
type PerfLogger interface {
	AddDataEntry(entry PerfEntry)
}

// PerfBackend stores performance entries.
type PerfBackend interface {
	PerfLogger
	Flush()
}

// CSVBackend is a PerfBackend that writes entries to a CSV file.
type CSVBackend struct {
	lock      sync.Mutex
	file      *os.File
	csvWriter *csv.Writer
}

// NewCSVBackend creates filename + ".csv" and writes the header row.
func NewCSVBackend(filename string) (*CSVBackend, error) {
	f, err := os.OpenFile(filename+".csv",
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}

	b := &CSVBackend{
		file:      f,
		csvWriter: csv.NewWriter(f),
	}

	header := []string{
		"Start", "End", "Where", "What", "EntryType", "Value", "Unit",
	}
	if err := b.csvWriter.Write(header); err != nil {
		f.Close()
		return nil, err
	}

	return b, nil
}

// AddDataEntry appends a row.
func (b *CSVBackend) AddDataEntry(entry PerfEntry) {
	b.lock.Lock()
	defer b.lock.Unlock()

	err := b.csvWriter.Write([]string{
		fmt.Sprintf("%d", entry.Start),
		fmt.Sprintf("%d", entry.End),
		entry.Where,
		entry.What,
		entry.EntryType,
		fmt.Sprintf("%.10f", entry.Value),
		entry.Unit,
	})
	if err != nil {
		panic(err)
	}
}

// Flush writes the buffered rows to the file.
func (b *CSVBackend) Flush() {
	b.lock.Lock()
	defer b.lock.Unlock()

	b.csvWriter.Flush()
	if err := b.csvWriter.Error(); err != nil {
		panic(err)
	}
}

// Close flushes and closes the file.
func (b *CSVBackend) Close() error {
	b.Flush()
	return b.file.Close()
}

// PerfTable is the table that RecorderBackend writes into.
const PerfTable = "perf"

type perfRow struct {
	Start     uint64
	End       uint64
	Where     string
	What      string
	EntryType string
	Value     float64
	Unit      string
}

// RecorderBackend is a PerfBackend that stores entries with a
// datarecording.DataRecorder, next to the queue traces.
type RecorderBackend struct {
	recorder datarecording.DataRecorder
}

// NewRecorderBackend creates the perf table in the recorder.
func NewRecorderBackend(recorder datarecording.DataRecorder) *RecorderBackend {
	recorder.CreateTable(PerfTable, perfRow{})

	return &RecorderBackend{recorder: recorder}
}

// AddDataEntry buffers an entry in the recorder.
func (b *RecorderBackend) AddDataEntry(entry PerfEntry) {
	b.recorder.InsertData(PerfTable, perfRow{
		Start:     uint64(entry.Start),
		End:       uint64(entry.End),
		Where:     entry.Where,
		What:      entry.What,
		EntryType: entry.EntryType,
		Value:     entry.Value,
		Unit:      entry.Unit,
	})
}

// Flush flushes the recorder.
func (b *RecorderBackend) Flush() {
	b.recorder.Flush()
}
