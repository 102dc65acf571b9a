// Package onnx serves local Hugging Face model exports through ONNX Runtime.
package onnx

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// LibraryEnv names the environment variable holding the onnxruntime
// shared-library path.
const LibraryEnv = "ORT_LIB_PATH"

var initMu sync.Mutex

// LibraryPath picks the shared library: explicit path, then $ORT_LIB_PATH,
// then the platform default name when it exists in the working directory.
func LibraryPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		return env
	}
	name := "libonnxruntime.so"
	switch runtime.GOOS {
	case "darwin":
		name = "libonnxruntime.dylib"
	case "windows":
		name = "onnxruntime.dll"
	}
	if _, err := os.Stat(name); err == nil {
		return name
	}
	return ""
}

// initRuntime initializes the process-wide ONNX Runtime environment once.
func initRuntime(libPath string) error {
	initMu.Lock()
	defer initMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnx runtime: %w", err)
	}
	return nil
}
