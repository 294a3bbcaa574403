package vm

import (
	"os"

	"github.com/naoina/toml"
)

// Config carries the VM tunables. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// GCInitialThreshold is the allocated-byte count that triggers the
	// first collection.
	GCInitialThreshold int
	// GCGrowFactor scales the surviving byte count into the next
	// collection threshold.
	GCGrowFactor int
	// GCStress forces a collection at every allocation site. Slow;
	// exists to shake out missing pins.
	GCStress bool
	// TraceExecution disassembles each instruction and dumps the stack
	// before executing it.
	TraceExecution bool
	// TraceGC logs collection begin/end with byte deltas.
	TraceGC bool
}

// DefaultConfig returns the standard tunables: collect at 1 MiB, double
// the threshold after each cycle, no tracing.
func DefaultConfig() Config {
	return Config{
		GCInitialThreshold: 1 << 20,
		GCGrowFactor:       2,
	}
}

// LoadConfig reads tunables from a TOML file, leaving any key the file
// does not mention at its default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
