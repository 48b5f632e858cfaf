package server

import (
	"io"

	"github.com/pelletier/go-toml"
)

// Config adjusts the behaviour of the checking server: a flat struct
// built from flags and an on-disk TOML file, then optionally overlaid
// at runtime by an LSP client's initializationOptions via Apply,
// mirroring the teacher's own layered Config.Apply(*InitializationOptions)
// pattern. SocketPath is process-wide only; the LSP side never carries
// it since LSP clients don't dial the native socket.
type Config struct {
	// LocalRoot is the filesystem root the LookupCache reads source
	// text under (§4.2, §6).
	LocalRoot string

	// DependentThreshold is the len(check) cutoff above which the
	// TypeCheck pipeline asks its Scheduler for a parallel view
	// (§4.4 stage 2, §5). Defaults to 5 per spec.
	DependentThreshold int

	// AttributeMemoSize bounds the TypeQuery attribute/method
	// memoization cache (C3).
	AttributeMemoSize int

	// SocketPath is the Unix domain socket the native protocol listens
	// on (§6).
	SocketPath string
}

// InitializationOptions is the overlay an LSP client can carry in its
// "initialize" request params (§6). Every field is optional; a nil
// field leaves the corresponding Config field untouched.
type InitializationOptions struct {
	LocalRoot          *string `json:"localRoot"`
	DependentThreshold *int    `json:"dependentThreshold"`
	AttributeMemoSize  *int    `json:"attributeMemoSize"`
}

// Apply returns a copy of c with opts overlaid on top, last writer
// wins per field, mirroring the teacher's Config.Apply(*InitializationOptions)
// layering. main.go applies TOML first and flags over it, so the order
// is TOML -> flags -> initializationOptions.
func (c Config) Apply(opts InitializationOptions) Config {
	if opts.LocalRoot != nil {
		c.LocalRoot = *opts.LocalRoot
	}
	if opts.DependentThreshold != nil {
		c.DependentThreshold = *opts.DependentThreshold
	}
	if opts.AttributeMemoSize != nil {
		c.AttributeMemoSize = *opts.AttributeMemoSize
	}
	return c
}

// NewDefaultConfig returns the Config used when nothing overrides it.
func NewDefaultConfig() Config {
	return Config{
		DependentThreshold: 5,
		AttributeMemoSize:  4096,
		SocketPath:         "/tmp/checkserver.sock",
	}
}

// LoadConfigTOML overlays non-zero fields from a TOML document onto
// the default config, the way main.go loads an on-disk config file
// before flags are applied.
func LoadConfigTOML(r io.Reader) (Config, error) {
	cfg := NewDefaultConfig()
	dec := toml.NewDecoder(r)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
