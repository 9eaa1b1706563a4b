package behavior

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LibraryFile is the YAML form of a behavior library.
type LibraryFile struct {
	// Version is the file format version (currently "1")
	Version string `yaml:"version"`
	// Behaviors lists the gestures to add or replace
	Behaviors []BehaviorSpec `yaml:"behaviors"`
}

// BehaviorSpec describes one behavior in a library file.
type BehaviorSpec struct {
	Name          string     `yaml:"name"`
	Priority      int        `yaml:"priority"`
	Interruptible bool       `yaml:"interruptible"`
	Steps         []StepSpec `yaml:"steps"`
}

// StepSpec describes one step. Hold is a Go duration string such as "400ms".
// Wait defaults to true when omitted.
type StepSpec struct {
	Pose `yaml:",inline"`
	Hold string `yaml:"hold"`
	Wait *bool  `yaml:"wait,omitempty"`
}

// LoadLibraryFile reads a behavior library from a YAML file.
func LoadLibraryFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading behavior file: %w", err)
	}
	return ParseLibrary(bytes.NewReader(data))
}

// ParseLibrary decodes and validates a YAML behavior library.
func ParseLibrary(r io.Reader) (*Library, error) {
	var file LibraryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing behavior file: %w", err)
	}

	if file.Version != "" && file.Version != "1" {
		return nil, fmt.Errorf("unsupported behavior file version: %s (supported: 1)", file.Version)
	}

	lib := NewLibrary()
	for i, spec := range file.Behaviors {
		b, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("behavior %d (%s): %w", i, spec.Name, err)
		}
		if _, dup := lib.Get(b.Name); dup {
			return nil, fmt.Errorf("behavior %d: duplicate name %q", i, b.Name)
		}
		if err := lib.Add(b); err != nil {
			return nil, fmt.Errorf("behavior %d (%s): %w", i, spec.Name, err)
		}
	}
	return lib, nil
}

// Build converts the spec into a Behavior. Validation is left to the caller.
func (s BehaviorSpec) Build() (*Behavior, error) {
	b := &Behavior{
		Name:          s.Name,
		Interruptible: s.Interruptible,
		Priority:      s.Priority,
		Steps:         make([]Step, 0, len(s.Steps)),
	}
	for i, st := range s.Steps {
		var d time.Duration
		if st.Hold != "" {
			var err error
			d, err = time.ParseDuration(st.Hold)
			if err != nil {
				return nil, fmt.Errorf("step %d: invalid hold %q: %w", i, st.Hold, err)
			}
		}
		wait := true
		if st.Wait != nil {
			wait = *st.Wait
		}
		b.Steps = append(b.Steps, Step{Pose: st.Pose, Hold: d, Wait: wait})
	}
	return b, nil
}
