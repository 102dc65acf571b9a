package run

import (
	"runtime"
	"strings"

	"golang.org/x/sys/cpu"
)

// State is where a model is in its lifecycle within a run.
type State int

const (
	Unloaded State = iota
	TokenizerReady
	ModelReady
	Running
	Done
	Skipped
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case TokenizerReady:
		return "tokenizer_ready"
	case ModelReady:
		return "model_ready"
	case Running:
		return "running"
	case Done:
		return "done"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// cpuFeatures lists the SIMD features relevant to CPU inference.
func cpuFeatures() string {
	var fs []string
	add := func(name string, ok bool) {
		if ok {
			fs = append(fs, name)
		}
	}
	switch runtime.GOARCH {
	case "amd64", "386":
		add("avx", cpu.X86.HasAVX)
		add("avx2", cpu.X86.HasAVX2)
		add("fma", cpu.X86.HasFMA)
		add("avx512f", cpu.X86.HasAVX512F)
		add("avx512vnni", cpu.X86.HasAVX512VNNI)
	case "arm64":
		add("asimd", cpu.ARM64.HasASIMD)
		add("fphp", cpu.ARM64.HasFPHP)
		add("asimddp", cpu.ARM64.HasASIMDDP)
		add("sve", cpu.ARM64.HasSVE)
	}
	if len(fs) == 0 {
		return "none"
	}
	return strings.Join(fs, ",")
}
