package monitoring

import (
	"fmt"
	"sync"
)

// DiagnosticKind classifies a non-fatal, per-item failure.
type DiagnosticKind string

const (
	// PayloadLoadFailure: the point-cloud or image reader failed or timed out.
	PayloadLoadFailure DiagnosticKind = "payload_load_failure"
	// LabelLoadFailure: a label file could not be read or decoded.
	LabelLoadFailure DiagnosticKind = "label_load_failure"
)

// Diagnostic describes one per-item problem. It is reported, never returned
// as an error, so batch callers keep going.
type Diagnostic struct {
	Kind    DiagnosticKind
	Side    string
	FrameID string
	Path    string
	Err     error
}

func (d Diagnostic) String() string {
	s := fmt.Sprintf("%s side=%s frame=%s", d.Kind, d.Side, d.FrameID)
	if d.Path != "" {
		s += " path=" + d.Path
	}
	if d.Err != nil {
		s += ": " + d.Err.Error()
	}
	return s
}

// Reporter receives diagnostics. Implementations must be safe for
// concurrent use.
type Reporter interface {
	Report(Diagnostic)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(Diagnostic)

// Report calls f(d).
func (f ReporterFunc) Report(d Diagnostic) { f(d) }

// LogReporter writes every diagnostic through Logf.
var LogReporter Reporter = ReporterFunc(func(d Diagnostic) {
	Logf("diagnostic: %s", d)
})

// Collector keeps diagnostics in memory, mainly for tests and end-of-run
// summaries.
type Collector struct {
	mu    sync.Mutex
	items []Diagnostic
}

// Report appends d.
func (c *Collector) Report(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, d)
}

// Diagnostics returns a copy of everything reported so far.
func (c *Collector) Diagnostics() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Diagnostic, len(c.items))
	copy(out, c.items)
	return out
}

// CountKind returns how many diagnostics of kind k were reported.
func (c *Collector) CountKind(k DiagnosticKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, d := range c.items {
		if d.Kind == k {
			n++
		}
	}
	return n
}

// Tee fans a diagnostic out to several reporters.
func Tee(rs ...Reporter) Reporter {
	return ReporterFunc(func(d Diagnostic) {
		for _, r := range rs {
			if r != nil {
				r.Report(d)
			}
		}
	})
}
