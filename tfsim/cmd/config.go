package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/queueing"
	"gopkg.in/yaml.v3"
)

// Engine kinds accepted in the scenario file.
const (
	EngineSerial   = "serial"
	EngineParallel = "parallel"
)

// Scenario describes a whole simulation run.
type Scenario struct {
	Engine     string        `yaml:"engine"`
	PerfPeriod uint64        `yaml:"perf_period"`
	PerfCSV    string        `yaml:"perf_csv"`
	LogEvents  bool          `yaml:"log_events"`
	Trace      TraceConfig   `yaml:"trace"`
	Monitor    MonitorConfig `yaml:"monitor"`
	Links      []LinkConfig  `yaml:"links"`
}

// LinkConfig describes a producer, a queue and a consumer.
type LinkConfig struct {
	Name        string `yaml:"name"`
	Latency     uint64  `yaml:"latency"`
	LatencyNS   float64 `yaml:"latency_ns"`
	Depth       int     `yaml:"depth"`
	Stable      bool    `yaml:"stable"`
	Packets     uint64  `yaml:"packets"`
	ProducerMHz uint64  `yaml:"producer_mhz"`
	ConsumerMHz uint64  `yaml:"consumer_mhz"`
}

// TraceConfig selects where queue events are recorded.
type TraceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// MonitorConfig controls the monitoring server.
type MonitorConfig struct {
	Enabled     bool `yaml:"enabled"`
	Port        int  `yaml:"port"`
	OpenBrowser bool `yaml:"open_browser"`
}

func defaultLink(name string) LinkConfig {
	return LinkConfig{
		Name:        name,
		Latency:     1,
		Packets:     1000,
		ProducerMHz: 1000,
		ConsumerMHz: 1000,
	}
}

func defaultScenario() Scenario {
	return Scenario{
		Engine: EngineSerial,
		Trace: TraceConfig{
			Backend: string(datarecording.BackendSQLite),
		},
		Links: []LinkConfig{defaultLink("Link")},
	}
}

// loadScenario reads a YAML scenario. Unknown fields are rejected so that
// typos do not silently fall back to defaults.
func loadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("reading scenario: %w", err)
	}

	return parseScenario(data)
}

func parseScenario(data []byte) (Scenario, error) {
	s := defaultScenario()
	s.Links = nil

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(&s); err != nil {
		return Scenario{}, fmt.Errorf("parsing scenario: %w", err)
	}

	for i := range s.Links {
		s.Links[i] = s.Links[i].withDefaults()
	}

	if len(s.Links) == 0 {
		s.Links = []LinkConfig{defaultLink("Link")}
	}

	return s, nil
}

// withDefaults fills the packet count and the frequencies. A missing latency
// stays zero, which a timed queue accepts and a stable queue raises to one.
func (l LinkConfig) withDefaults() LinkConfig {
	d := defaultLink(l.Name)

	if l.Packets == 0 {
		l.Packets = d.Packets
	}

	if l.ProducerMHz == 0 {
		l.ProducerMHz = d.ProducerMHz
	}

	if l.ConsumerMHz == 0 {
		l.ConsumerMHz = d.ConsumerMHz
	}

	return l
}

func (s Scenario) validate() error {
	var errs []error

	if s.Engine != EngineSerial && s.Engine != EngineParallel {
		errs = append(errs, fmt.Errorf("engine %q must be %s or %s",
			s.Engine, EngineSerial, EngineParallel))
	}

	if _, err := datarecording.ParseBackend(s.Trace.Backend); err != nil {
		errs = append(errs, err)
	}

	if s.Monitor.Port < 0 {
		errs = append(errs, fmt.Errorf("monitor port %d must not be negative",
			s.Monitor.Port))
	}

	names := make(map[string]bool)
	for _, l := range s.Links {
		if err := naming.Validate(l.Name); err != nil {
			errs = append(errs, err)
		}

		if names[l.Name] {
			errs = append(errs, fmt.Errorf("link %q is defined twice", l.Name))
		}
		names[l.Name] = true

		if l.LatencyNS < 0 {
			errs = append(errs, fmt.Errorf("link %q: latency_ns must not be negative",
				l.Name))
		}

		if l.Depth < 0 {
			errs = append(errs, fmt.Errorf("link %q: depth %d must not be negative",
				l.Name, l.Depth))
		}

		if l.Stable && l.Depth > queueing.MaxStableDepth {
			errs = append(errs, fmt.Errorf(
				"link %q: depth %d exceeds the stable queue limit of %d",
				l.Name, l.Depth, queueing.MaxStableDepth))
		}
	}

	return errors.Join(errs...)
}
