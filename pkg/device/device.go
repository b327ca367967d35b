// Package device resolves the compute target an embedding model runs on.
//
// A caller expresses its preference as a plain integer: [CPUPreference]
// (-1) selects the CPU, any value N >= 0 asks for GPU N. The preference is
// turned into a concrete [Device] exactly once with [Resolve], which
// consults an injected [Probe] rather than a process-wide capability check:
//
//	dev := device.Resolve(0, onnx.CUDAAvailable)
//	fmt.Println(dev) // "cuda:0" or "cpu"
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// CPUPreference is the preference value that always selects the CPU.
const CPUPreference = -1

// Kind is the class of compute target.
type Kind int

const (
	// KindCPU runs inference on the host CPU.
	KindCPU Kind = iota
	// KindGPU runs inference on a CUDA device.
	KindGPU
)

// Device is a resolved compute target. The zero value is the CPU.
type Device struct {
	kind  Kind
	index int
}

// CPU is the host CPU device.
var CPU = Device{kind: KindCPU}

// GPU returns the CUDA device with the given index.
func GPU(index int) Device {
	return Device{kind: KindGPU, index: index}
}

// Kind returns the device class.
func (d Device) Kind() Kind { return d.kind }

// IsGPU reports whether d is a CUDA device.
func (d Device) IsGPU() bool { return d.kind == KindGPU }

// Index returns the GPU ordinal, or -1 for the CPU.
func (d Device) Index() int {
	if d.kind != KindGPU {
		return -1
	}
	return d.index
}

// Preference converts d back to its integer preference form.
func (d Device) Preference() int {
	return d.Index()
}

// String returns "cpu" or "cuda:N".
func (d Device) String() string {
	if d.kind == KindGPU {
		return "cuda:" + strconv.Itoa(d.index)
	}
	return "cpu"
}

// MarshalText implements encoding.TextMarshaler.
func (d Device) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Probe reports whether GPU execution is available in the current runtime.
type Probe func() bool

// NoGPU is a Probe that never reports GPU support.
func NoGPU() bool { return false }

// Resolve turns an integer preference into a concrete device.
//
// A preference >= 0 yields GPU(pref) only when probe reports GPU support;
// every other combination yields the CPU. Negative preferences never call
// probe, and a nil probe is treated as [NoGPU].
func Resolve(pref int, probe Probe) Device {
	if pref < 0 {
		return CPU
	}
	if probe == nil || !probe() {
		return CPU
	}
	return GPU(pref)
}

// Parse converts a textual device name into a preference.
//
// Accepted forms: "cpu", "-1", "cuda", "gpu" (index 0), "cuda:N", "gpu:N"
// and a bare non-negative integer N.
func Parse(s string) (int, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "cpu", "-1":
		return CPUPreference, nil
	case "cuda", "gpu":
		return 0, nil
	}

	idx := s
	if name, rest, ok := strings.Cut(s, ":"); ok {
		if name != "cuda" && name != "gpu" {
			return 0, fmt.Errorf("device: unknown device %q", s)
		}
		idx = rest
	}
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("device: invalid device %q", s)
	}
	return n, nil
}
