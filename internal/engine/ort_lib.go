//go:build silero

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// resolveORTLibPath locates the ONNX Runtime shared library. Candidates, in order:
//  1. NUPI_ORT_LIB_PATH (must name a file)
//  2. lib/<goos>-<goarch>/ and ../lib/<goos>-<goarch>/ next to the executable
//  3. the same two paths under the working directory, only with NUPI_DEV_MODE=1
//
// The working directory is not searched by default so a planted library in
// an untrusted CWD is never loaded.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("NUPI_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("ort: NUPI_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: NUPI_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	platform := runtime.GOOS + "-" + runtime.GOARCH
	rels := []string{
		filepath.Join("lib", platform, filename),
		filepath.Join("..", "lib", platform, filename),
	}

	var bases []string
	if exePath, err := os.Executable(); err == nil {
		bases = append(bases, filepath.Dir(exePath))
	}
	if os.Getenv("NUPI_DEV_MODE") == "1" {
		if dir, err := os.Getwd(); err == nil {
			bases = append(bases, dir)
		}
	}

	for _, base := range bases {
		for _, rel := range rels {
			path := filepath.Join(base, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", fmt.Errorf("ort: shared library not found; searched lib/%s/%s relative to executable (set NUPI_ORT_LIB_PATH to override, or NUPI_DEV_MODE=1 to enable CWD lookup)", platform, filename)
}

// ortLibFilename returns the platform-specific ONNX Runtime library filename.
func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
