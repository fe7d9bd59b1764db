// Package config loads the TOML configuration shared by the signal binaries.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// MinICEPorts is the smallest ICE port range accepted, max - min.
const MinICEPorts = 100

// ErrICEPortRange is returned for a webrtc.portrange that is not [min, max]
// with at least MinICEPorts ports.
var ErrICEPortRange = errors.New("webrtc port range must be [min, max]")

// Load unmarshals file into out. Defaults registered on v apply to keys the
// file does not set, and a missing file leaves only the defaults. It reports
// whether the file was read.
func Load(v *viper.Viper, file string, out interface{}) (bool, error) {
	found := false
	if _, err := os.Stat(file); err == nil {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return false, fmt.Errorf("read %s: %w", file, err)
		}
		found = true
	}
	if err := v.Unmarshal(out); err != nil {
		return found, fmt.Errorf("decode %s: %w", file, err)
	}
	return found, nil
}

// CheckICEPortRange validates an optional [min, max] ICE port range.
func CheckICEPortRange(r []uint16) error {
	switch len(r) {
	case 0:
		return nil
	case 2:
	default:
		return fmt.Errorf("%w: got %d values", ErrICEPortRange, len(r))
	}
	if r[1] < r[0] || r[1]-r[0] < MinICEPorts {
		return fmt.Errorf("%w: %d-%d spans fewer than %d ports", ErrICEPortRange, r[0], r[1], MinICEPorts)
	}
	return nil
}

// ListenAddr picks the address to listen on: the flag, then $PORT, then the
// configured address.
func ListenAddr(flagAddr, configured string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if port := os.Getenv("PORT"); port != "" {
		return ":" + strings.TrimPrefix(port, ":")
	}
	return configured
}
