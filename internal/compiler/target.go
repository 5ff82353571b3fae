// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package compiler

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/airlower/airlower/internal/imp"
	"github.com/airlower/airlower/internal/vectorize"
)

// Target is the Backend x Device x vectorization tuple identifying the
// code-generation target (spec.md 6.1), loadable from a YAML config
// file so test fixtures and the CLI can describe targets declaratively.
type Target struct {
	// Backend is "llvm" or "llvm-cuda".
	Backend string `json:"backend"`
	// Device is "cpu" or "gpu".
	Device string `json:"device"`
	// Vectorize requests the Seq-loop vector rewrite; Width 0 means
	// "pick the preferred width for the backend on this host".
	Vectorize bool `json:"vectorize,omitempty"`
	Width     int  `json:"width,omitempty"`
}

// DefaultTarget is a scalar CPU LLVM target.
func DefaultTarget() Target {
	return Target{Backend: "llvm", Device: "cpu"}
}

// LoadTarget reads a Target from a YAML file.
func LoadTarget(path string) (Target, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Target{}, err
	}
	var t Target
	if err := yaml.Unmarshal(buf, &t); err != nil {
		return Target{}, fmt.Errorf("target %s: %w", path, err)
	}
	if _, err := parseBackend(t.Backend); err != nil {
		return Target{}, fmt.Errorf("target %s: %w", path, err)
	}
	if _, err := parseDevice(t.Device); err != nil {
		return Target{}, fmt.Errorf("target %s: %w", path, err)
	}
	return t, nil
}

// ImpBackend maps the config string onto the Imp enum; LoadTarget has
// already validated it, and the zero value covers hand-built Targets
// with an empty Backend.
func (t Target) ImpBackend() imp.Backend {
	b, err := parseBackend(t.Backend)
	if err != nil {
		return imp.LLVM
	}
	return b
}

func (t Target) ImpDevice() imp.Device {
	d, err := parseDevice(t.Device)
	if err != nil {
		return imp.CPU
	}
	return d
}

// VectorWidth resolves the requested lane count: 0 when vectorization
// is off, the configured width when given, else the backend's
// preferred width on this host.
func (t Target) VectorWidth() int {
	if !t.Vectorize {
		return 0
	}
	if t.Width > 0 {
		return t.Width
	}
	return vectorize.PreferredWidth(t.ImpBackend().String())
}

func parseBackend(s string) (imp.Backend, error) {
	switch s {
	case "", "llvm":
		return imp.LLVM, nil
	case "llvm-cuda":
		return imp.LLVMCUDA, nil
	default:
		return 0, fmt.Errorf("unknown backend %q", s)
	}
}

func parseDevice(s string) (imp.Device, error) {
	switch s {
	case "", "cpu":
		return imp.CPU, nil
	case "gpu":
		return imp.GPU, nil
	default:
		return 0, fmt.Errorf("unknown device %q", s)
	}
}
