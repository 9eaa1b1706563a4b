package event

import (
	"fmt"
	"strings"
	"time"
)

// UnknownIdentity is the reserved identity the classifier reports for a face
// it could not match. Observations carrying it are announced as Unknown.
const UnknownIdentity = "unknown"

// Kind identifies what happened to a subject.
type Kind int

const (
	// Recognized fires once per presence run of a known identity.
	Recognized Kind = iota + 1
	// Unknown fires once per presence run of the unknown sentinel.
	Unknown
	// Departed fires when an announced identity has been absent long enough.
	Departed
	// NoSubjects fires on the edge where nobody is observed or tracked.
	NoSubjects
)

// Kinds lists every event kind in declaration order.
func Kinds() []Kind {
	return []Kind{Recognized, Unknown, Departed, NoSubjects}
}

// String returns the lower-case wire name of the kind.
func (k Kind) String() string {
	switch k {
	case Recognized:
		return "recognized"
	case Unknown:
		return "unknown"
	case Departed:
		return "departed"
	case NoSubjects:
		return "no_subjects"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String. It accepts either case.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Region is a face bounding box in image pixel coordinates.
type Region struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// Event is an immutable record of a debounced presence change.
type Event struct {
	Kind       Kind      `json:"kind"`
	Timestamp  time.Time `json:"timestamp"`
	Subject    string    `json:"subject,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Region     *Region   `json:"region,omitempty"`
	Cycle      uint64    `json:"cycle"`
}

// String renders the event for logs and CLI output.
func (e Event) String() string {
	if e.Kind == NoSubjects {
		return fmt.Sprintf("%s (cycle %d)", e.Kind, e.Cycle)
	}
	return fmt.Sprintf("%s %s conf=%.2f (cycle %d)", e.Kind, e.Subject, e.Confidence, e.Cycle)
}
