package timing

import (
	"errors"
	"math"
	"math/bits"
)

// FreqInHz defines frequency in the unit of Hertz (cycles per second).
type FreqInHz uint64

// Frequency units.
const (
	Hz  = FreqInHz(1)
	KHz = FreqInHz(1000 * Hz)
	MHz = FreqInHz(1000 * KHz)
	GHz = FreqInHz(1000 * MHz)
)

// VTimeInCycle is the canonical time quantum of the simulator. All timestamps,
// including the ready time of queued elements, are expressed in cycles so that
// ordering is exact and deterministic.
type VTimeInCycle uint64

// VTimeInSec is a duration in simulated seconds. It only appears at the
// boundary where users describe latencies in physical units.
type VTimeInSec float64

// MaxCycle is the largest representable cycle. Cycle arithmetic saturates here
// instead of wrapping around.
const MaxCycle = VTimeInCycle(math.MaxUint64)

var (
	// ErrZeroFrequency indicates that a domain attempted to register a clock
	// with a zero frequency.
	ErrZeroFrequency = errors.New("timing: frequency must be greater than zero")

	// ErrFrequencyOverflow indicates that the least common multiple of the
	// registered domains does not fit in 64 bits.
	ErrFrequencyOverflow = errors.New("timing: global frequency overflow")

	// ErrNoFrequencyDomains indicates that no domains have been registered yet
	// so conversions between cycles and seconds cannot be performed.
	ErrNoFrequencyDomains = errors.New("timing: no frequency domains registered")

	// ErrTickPrecisionLoss indicates that a conversion from seconds to cycles
	// would require precision beyond the global cycle resolution.
	ErrTickPrecisionLoss = errors.New(
		"timing: duration is not aligned with cycle resolution")

	// ErrTickOverflow indicates that the computed number of cycles exceeds the
	// range of VTimeInCycle.
	ErrTickOverflow = errors.New("timing: cycle value overflow")
)

// FreqDomain is a registered clock domain. It aligns global cycle counts with
// the domain's own tick boundaries.
type FreqDomain struct {
	freq     FreqInHz
	registry *FrequencyRegistry
}

// FrequencyHz returns the frequency associated with the domain.
func (d *FreqDomain) FrequencyHz() FreqInHz {
	if d == nil {
		return 0
	}

	return d.freq
}

// Stride returns the number of global cycles in one tick of this domain.
func (d *FreqDomain) Stride() VTimeInCycle {
	if d == nil || d.registry == nil {
		return 0
	}

	stride, ok := d.registry.cycleStride(d.freq)
	if !ok {
		return 0
	}

	return stride
}

// ThisTick aligns now to the earliest domain tick that is not earlier than
// now.
func (d *FreqDomain) ThisTick(now VTimeInCycle) VTimeInCycle {
	stride := d.Stride()
	if stride == 0 {
		return 0
	}

	tick, ok := roundUpToStride(now, stride)
	if !ok {
		return MaxCycle
	}

	return tick
}

// NextTick returns the first domain tick strictly after now.
func (d *FreqDomain) NextTick(now VTimeInCycle) VTimeInCycle {
	stride := d.Stride()
	if stride == 0 {
		return 0
	}

	tick, ok := roundUpToStride(now, stride)
	if !ok {
		return MaxCycle
	}

	if tick != now {
		return tick
	}

	next, ok := AddCycles(now, stride)
	if !ok {
		return MaxCycle
	}

	return next
}

// NTicksLater advances now by the given number of domain ticks and aligns the
// result to a tick boundary.
func (d *FreqDomain) NTicksLater(now, ticks VTimeInCycle) VTimeInCycle {
	stride := d.Stride()
	if stride == 0 {
		return 0
	}

	if ticks == 0 {
		return d.ThisTick(now)
	}

	offset, ok := mulCycles(ticks, stride)
	if !ok {
		return MaxCycle
	}

	future, ok := AddCycles(now, offset)
	if !ok {
		return MaxCycle
	}

	tick, ok := roundUpToStride(future, stride)
	if !ok {
		return MaxCycle
	}

	return tick
}

// AddCycles adds two cycle counts. On overflow it returns MaxCycle and false.
func AddCycles(a, b VTimeInCycle) (VTimeInCycle, bool) {
	if uint64(a) > math.MaxUint64-uint64(b) {
		return MaxCycle, false
	}

	return a + b, true
}

func mulCycles(a, b VTimeInCycle) (VTimeInCycle, bool) {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 {
		return MaxCycle, false
	}

	return VTimeInCycle(lo), true
}

func roundUpToStride(value, stride VTimeInCycle) (VTimeInCycle, bool) {
	remainder := value % stride
	if remainder == 0 {
		return value, true
	}

	return AddCycles(value, stride-remainder)
}
