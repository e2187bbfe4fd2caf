// Package monitoring turns a running simulation into a small web server that
// reports queue levels and lets a user pause and resume the engine.
package monitoring

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/sarchlab/timedfifo/analysis"
	"github.com/sarchlab/timedfifo/idgen"
	"github.com/sarchlab/timedfifo/monitoring/web"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// DefaultProfileDuration is how long /api/profile samples the CPU.
const DefaultProfileDuration = time.Second

// Monitor can turn a simulation into a server and allows external monitoring
// and controlling of the simulation.
type Monitor struct {
	engine          timing.Engine
	perfAnalyzer    *analysis.PerfAnalyzer
	portNumber      int
	profileDuration time.Duration
	ids             idgen.Generator

	queuesLock sync.Mutex
	queues     []queueing.Queue

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		profileDuration: DefaultProfileDuration,
		ids:             idgen.New(),
	}
}

// WithPortNumber sets the port number of the monitor. Privileged ports are
// replaced by a random port.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		logrus.Warnf("Port number %d is assigned to the monitoring server, "+
			"which is not allowed. Using a random port instead.", portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithProfileDuration sets how long /api/profile samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileDuration = d
	return m
}

// RegisterEngine registers the engine that is used in the simulation.
func (m *Monitor) RegisterEngine(e timing.Engine) {
	m.engine = e
}

// RegisterPerfAnalyzer sets the performance analyzer to be used in the monitor.
func (m *Monitor) RegisterPerfAnalyzer(pa *analysis.PerfAnalyzer) {
	m.perfAnalyzer = pa
}

// RegisterQueue registers a queue to be monitored.
func (m *Monitor) RegisterQueue(q queueing.Queue) {
	m.queuesLock.Lock()
	defer m.queuesLock.Unlock()

	for _, existing := range m.queues {
		if existing.Name() == q.Name() {
			panic("queue " + q.Name() + " already registered")
		}
	}

	m.queues = append(m.queues, q)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        strconv.FormatUint(uint64(m.ids.Generate()), 10),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Router returns the HTTP handler of the monitor.
func (m *Monitor) Router() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/pause", m.pauseEngine)
	r.HandleFunc("/api/continue", m.continueEngine)
	r.HandleFunc("/api/now", m.now)
	r.HandleFunc("/api/run", m.run)
	r.HandleFunc("/api/queues", m.listQueues)
	r.HandleFunc("/api/queue/{name}", m.queueDetails)
	r.HandleFunc("/api/field/{json}", m.queueField)
	r.HandleFunc("/api/perf", m.listPerf)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving the monitor in the background and returns the
// port it listens on.
func (m *Monitor) StartServer() (int, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return 0, err
	}

	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr,
		"Monitoring simulation with http://localhost:%d\n", port)

	go func() {
		if err := http.Serve(listener, m.Router()); err != nil {
			logrus.WithError(err).Error("monitoring server stopped")
		}
	}()

	return port, nil
}

// OpenBrowser opens the monitor page in the default browser.
func OpenBrowser(port int) error {
	return browser.OpenURL(fmt.Sprintf("http://localhost:%d", port))
}

func (m *Monitor) engineOr503(w http.ResponseWriter) bool {
	if m.engine == nil {
		http.Error(w, "No engine registered", http.StatusServiceUnavailable)
		return false
	}

	return true
}

func (m *Monitor) pauseEngine(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr503(w) {
		return
	}

	m.engine.Pause()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) continueEngine(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr503(w) {
		return
	}

	m.engine.Continue()
	w.WriteHeader(http.StatusOK)
}

func (m *Monitor) now(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr503(w) {
		return
	}

	fmt.Fprintf(w, "{\"now\":%d}", m.engine.CurrentTime())
}

func (m *Monitor) run(w http.ResponseWriter, _ *http.Request) {
	if !m.engineOr503(w) {
		return
	}

	go func() {
		if err := m.engine.Run(); err != nil {
			logrus.WithError(err).Error("engine stopped with error")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

type queueRsp struct {
	Queue   string  `json:"queue"`
	Level   int     `json:"level"`
	Cap     int     `json:"cap"`
	Percent float64 `json:"percent"`
	Ready   int     `json:"ready"`
	Phase   string  `json:"phase,omitempty"`
}

func (m *Monitor) listQueues(w http.ResponseWriter, r *http.Request) {
	sortMethod, limit, offset, err := queuesParseParams(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Error: %s", err), http.StatusBadRequest)
		return
	}

	snapshots := m.sortAndSelectQueues(sortMethod, limit, offset)

	rsp := make([]queueRsp, 0, len(snapshots))
	for _, s := range snapshots {
		rsp = append(rsp, queueRsp{
			Queue:   s.Name,
			Level:   s.Size,
			Cap:     s.Depth,
			Percent: snapshotPercent(s),
			Ready:   s.ReadyCount,
			Phase:   s.Phase,
		})
	}

	writeJSON(w, rsp)
}

func queuesParseParams(
	r *http.Request,
) (sortMethod string, limit, offset int, err error) {
	sortMethod = r.URL.Query().Get("sort")
	if sortMethod == "" {
		sortMethod = "percent"
	}

	if sortMethod != "level" && sortMethod != "percent" {
		return "", 0, 0, fmt.Errorf(
			"invalid sort method: %s. Allowed values are `level` and `percent`",
			sortMethod)
	}

	limit, err = intParam(r, "limit")
	if err != nil {
		return sortMethod, 0, 0, err
	}

	offset, err = intParam(r, "offset")
	if err != nil {
		return sortMethod, limit, 0, err
	}

	if limit < 0 || offset < 0 {
		return sortMethod, 0, 0, errors.New("limit and offset must not be negative")
	}

	return sortMethod, limit, offset, nil
}

func intParam(r *http.Request, name string) (int, error) {
	str := r.URL.Query().Get(name)
	if str == "" {
		return 0, nil
	}

	return strconv.Atoi(str)
}

func snapshotPercent(s queueing.Snapshot) float64 {
	if s.Depth == queueing.UnboundedDepth || s.Depth == 0 {
		return 0
	}

	return float64(s.Size) / float64(s.Depth)
}

// sortAndSelectQueues snapshots every queue, sorts the snapshots and returns
// the window [offset, offset+limit). A zero limit selects everything after
// offset.
func (m *Monitor) sortAndSelectQueues(
	sortMethod string,
	limit, offset int,
) []queueing.Snapshot {
	m.queuesLock.Lock()
	snapshots := make([]queueing.Snapshot, 0, len(m.queues))
	for _, q := range m.queues {
		snapshots = append(snapshots, q.Snapshot())
	}
	m.queuesLock.Unlock()

	byLevel := func(i, j int) bool {
		if snapshots[i].Size != snapshots[j].Size {
			return snapshots[i].Size > snapshots[j].Size
		}

		return snapshotPercent(snapshots[i]) > snapshotPercent(snapshots[j])
	}

	byPercent := func(i, j int) bool {
		pi, pj := snapshotPercent(snapshots[i]), snapshotPercent(snapshots[j])
		if pi != pj {
			return pi > pj
		}

		return snapshots[i].Size > snapshots[j].Size
	}

	switch sortMethod {
	case "level":
		sort.SliceStable(snapshots, byLevel)
	case "percent":
		sort.SliceStable(snapshots, byPercent)
	default:
		panic("invalid sort method " + sortMethod)
	}

	if offset >= len(snapshots) {
		return nil
	}

	end := len(snapshots)
	if limit > 0 && limit < end-offset {
		end = offset + limit
	}

	return snapshots[offset:end]
}

func (m *Monitor) findQueueOr404(
	w http.ResponseWriter,
	name string,
) queueing.Queue {
	m.queuesLock.Lock()
	defer m.queuesLock.Unlock()

	for _, q := range m.queues {
		if q.Name() == name {
			return q
		}
	}

	http.Error(w, "Queue not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) queueDetails(w http.ResponseWriter, r *http.Request) {
	q := m.findQueueOr404(w, mux.Vars(r)["name"])
	if q == nil {
		return
	}

	snapshot := q.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		logrus.WithError(err).Error("cannot serialize queue")
	}
}

type fieldReq struct {
	QueueName string `json:"queue_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) queueField(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}
	if err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	q := m.findQueueOr404(w, req.QueueName)
	if q == nil {
		return
	}

	snapshot := q.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	if err := serializer.SetEntryPoint(strings.Split(req.FieldName, ".")); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := serializer.Serialize(w); err != nil {
		logrus.WithError(err).Error("cannot serialize queue field")
	}
}

func (m *Monitor) listPerf(w http.ResponseWriter, _ *http.Request) {
	if m.perfAnalyzer == nil {
		writeJSON(w, []analysis.PerfEntry{})
		return
	}

	writeJSON(w, m.perfAnalyzer.LatestEntries())
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	memoryInfo, err := proc.MemoryInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memoryInfo.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		logrus.WithError(err).Debug("monitoring client went away")
	}
}
