package model

import (
	"fmt"
	"strings"
)

// Family is the scoring framing of a loaded model.
type Family int

const (
	Causal Family = iota + 1
	Masked
	// CausalMask is a model opened through the causal path whose declared
	// architecture is a masked LM. It is scored like Masked.
	CausalMask
)

func (f Family) String() string {
	switch f {
	case Causal:
		return "causal"
	case Masked:
		return "masked"
	case CausalMask:
		return "causal_mask"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// MaskedStyle reports whether f is scored by filling a mask position.
func (f Family) MaskedStyle() bool {
	return f == Masked || f == CausalMask
}

// Fallback is the family tried when the primary one cannot be loaded.
func (f Family) Fallback() Family {
	if f == Causal {
		return Masked
	}
	return Causal
}

// ParseFamily parses "causal", "masked" or "causal_mask".
func ParseFamily(s string) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "causal":
		return Causal, nil
	case "masked":
		return Masked, nil
	case "causal_mask":
		return CausalMask, nil
	default:
		return 0, fmt.Errorf("unknown model family %q", s)
	}
}

// ParsePrimary parses a primary decoder, which must be causal or masked.
func ParsePrimary(s string) (Family, error) {
	f, err := ParseFamily(s)
	if err != nil || f == CausalMask {
		return 0, fmt.Errorf("primary decoder must be causal or masked, got %q", s)
	}
	return f, nil
}

// Device is where a model runs.
type Device string

const (
	DeviceCPU Device = "cpu"
	// DeviceAuto lets the provider pick an accelerator when one is available.
	DeviceAuto Device = "auto"
)

func ResolveDevice(useCPU bool) Device {
	if useCPU {
		return DeviceCPU
	}
	return DeviceAuto
}
