package plugin

import (
	"fmt"
	"log/slog"

	"github.com/nupi-ai/plugin-vad-silero-analysis/internal/engine"
)

// Analyzer names recorded in cache fingerprints. Changing an engine's
// behavior means changing its name here.
const (
	AnalyzerEnergy = "energy-rms-v1"
	AnalyzerStub   = "stub"
)

// resolvedEngine is the outcome of engine selection.
type resolvedEngine struct {
	kind     string // silero, energy or stub
	analyzer string
	factory  engine.Factory
}

// resolveEngine turns the configured engine name into a factory. "auto"
// picks silero when it is compiled in and energy otherwise. A silero engine
// is probed once before use; in auto mode with devMode set a failing probe
// falls back to the stub engine instead of failing.
func resolveEngine(name string, threshold float64, devMode bool, log *slog.Logger) (resolvedEngine, error) {
	auto := name == "auto"
	if auto {
		if engine.NativeAvailable() {
			name = "silero"
		} else {
			name = "energy"
			log.Info("auto-detected engine: energy (native silero not compiled in, build with -tags silero for production)")
		}
	}

	switch name {
	case "silero":
		if !engine.NativeAvailable() {
			return resolvedEngine{}, fmt.Errorf("plugin: engine \"silero\" requested: %w", engine.ErrNativeUnavailable)
		}
		probe, err := engine.NewNativeEngine(threshold)
		if err != nil {
			if auto && devMode {
				log.Warn("native engine probe failed, falling back to stub engine (NUPI_DEV_MODE=1)",
					"error", err,
					"hint", "unset NUPI_DEV_MODE for production behavior")
				return stubEngine(), nil
			}
			if auto {
				return resolvedEngine{}, fmt.Errorf("plugin: native engine probe failed (set NUPI_DEV_MODE=1 to allow the stub fallback): %w", err)
			}
			return resolvedEngine{}, fmt.Errorf("plugin: native engine probe failed: %w", err)
		}
		probe.Close()
		return resolvedEngine{kind: "silero", analyzer: engine.NativeName, factory: engine.NewNativeEngine}, nil
	case "energy":
		return resolvedEngine{
			kind:     "energy",
			analyzer: AnalyzerEnergy,
			factory: func(threshold float64) (engine.Engine, error) {
				return engine.NewEnergyEngine(threshold), nil
			},
		}, nil
	case "stub":
		log.Warn("using stub engine: VAD results are deterministic and NOT based on audio content")
		return stubEngine(), nil
	default:
		return resolvedEngine{}, fmt.Errorf("plugin: unknown engine %q", name)
	}
}

func stubEngine() resolvedEngine {
	return resolvedEngine{
		kind:     "stub",
		analyzer: AnalyzerStub,
		factory: func(float64) (engine.Engine, error) {
			return engine.NewStubEngine(), nil
		},
	}
}
