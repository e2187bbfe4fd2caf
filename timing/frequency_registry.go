package timing

import (
	"fmt"
	"math"
	"sync"
)

// FrequencyRegistry coordinates multiple clock domains by deriving a single
// global cycle resolution, the least common multiple of all registered
// frequencies.
type FrequencyRegistry struct {
	lock    sync.RWMutex
	global  FreqInHz
	domains map[FreqInHz]*FreqDomain
}

// NewFrequencyRegistry builds an empty registry ready to accept clock domains.
func NewFrequencyRegistry() *FrequencyRegistry {
	return &FrequencyRegistry{
		domains: make(map[FreqInHz]*FreqDomain),
	}
}

// RegisterFrequency adds a clock domain and returns its descriptor.
// Registering the same frequency twice returns the same domain.
func (r *FrequencyRegistry) RegisterFrequency(
	freq FreqInHz,
) (*FreqDomain, error) {
	if freq == 0 {
		return nil, ErrZeroFrequency
	}

	r.lock.Lock()
	defer r.lock.Unlock()

	if domain, exists := r.domains[freq]; exists {
		return domain, nil
	}

	newGlobal := freq
	if r.global != 0 {
		var err error

		newGlobal, err = lcmFreq(r.global, freq)
		if err != nil {
			return nil, err
		}
	}

	r.global = newGlobal

	domain := &FreqDomain{
		freq:     freq,
		registry: r,
	}
	r.domains[freq] = domain

	return domain, nil
}

// GlobalFrequency returns the frequency of one global cycle.
func (r *FrequencyRegistry) GlobalFrequency() FreqInHz {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.global
}

// CyclesToSeconds converts global cycles into simulated seconds.
func (r *FrequencyRegistry) CyclesToSeconds(cycles VTimeInCycle) VTimeInSec {
	global := r.GlobalFrequency()
	if global == 0 {
		return 0
	}

	return VTimeInSec(float64(cycles) / float64(global))
}

// SecondsToCycles converts a duration into global cycles. The duration must
// be a whole number of global cycles.
func (r *FrequencyRegistry) SecondsToCycles(
	sec VTimeInSec,
) (VTimeInCycle, error) {
	global := r.GlobalFrequency()
	if global == 0 {
		return 0, ErrNoFrequencyDomains
	}

	if sec < 0 {
		return 0, fmt.Errorf(
			"timing: negative durations are not supported: %.12g", sec)
	}

	scaled := float64(sec) * float64(global)
	rounded := math.Round(scaled)

	if math.Abs(scaled-rounded) > cycleAlignmentTolerance(scaled) {
		return 0, fmt.Errorf(
			"%w: duration %.12g s exceeds cycle %.12g s",
			ErrTickPrecisionLoss, sec, 1.0/float64(global),
		)
	}

	if rounded > float64(math.MaxUint64) {
		return 0, ErrTickOverflow
	}

	return VTimeInCycle(rounded), nil
}

func (r *FrequencyRegistry) cycleStride(freq FreqInHz) (VTimeInCycle, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if _, ok := r.domains[freq]; !ok {
		return 0, false
	}

	if r.global == 0 || r.global%freq != 0 {
		return 0, false
	}

	return VTimeInCycle(r.global / freq), true
}

// cycleAlignmentTolerance scales with the magnitude of the value to absorb
// float rounding noise.
func cycleAlignmentTolerance(value float64) float64 {
	const ulpFactor = 1e-9

	v := math.Abs(value)
	if v < 1 {
		return ulpFactor
	}

	return v * ulpFactor
}

func lcmFreq(a, b FreqInHz) (FreqInHz, error) {
	g := gcdFreq(a, b)
	if g == 0 {
		return 0, ErrZeroFrequency
	}

	quotient := uint64(a / g)
	if quotient > math.MaxUint64/uint64(b) {
		return 0, ErrFrequencyOverflow
	}

	return FreqInHz(quotient * uint64(b)), nil
}

func gcdFreq(a, b FreqInHz) FreqInHz {
	for b != 0 {
		a, b = b, a%b
	}

	return a
}
