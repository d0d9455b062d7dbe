package sandbox

import (
	"sort"
)

// Kind classifies a sandbox finding.
type Kind string

const (
	KindCompileFailure Kind = "compile_failure"
	KindRuntimeTimeout Kind = "runtime_timeout"
	KindRuntimeCrash   Kind = "runtime_crash"
	KindOutputCorrupt  Kind = "output_corrupt"
	KindMemoryLeak     Kind = "memory_leak"
	KindMemoryError    Kind = "memory_error"
	KindSuspiciousCode Kind = "suspicious_code"
)

// Invalidates reports whether a finding of this kind makes a submission
// ineligible for grading. Only a failed build does.
func (k Kind) Invalidates() bool {
	return k == KindCompileFailure
}

// Finding is one classified problem observed while building or running a
// submission.
type Finding struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// FindingSet is an unordered set of findings keyed by kind and message.
// The zero value is ready to use.
type FindingSet struct {
	items map[Finding]struct{}
}

// Add inserts a finding. Identical kind+message pairs are stored once.
func (s *FindingSet) Add(kind Kind, message string) {
	if s.items == nil {
		s.items = make(map[Finding]struct{})
	}
	s.items[Finding{Kind: kind, Message: message}] = struct{}{}
}

// Merge adds every finding of other to s.
func (s *FindingSet) Merge(other FindingSet) {
	for f := range other.items {
		s.Add(f.Kind, f.Message)
	}
}

// Has reports whether any finding of the given kind is present.
func (s FindingSet) Has(kind Kind) bool {
	for f := range s.items {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// Len returns the number of distinct findings.
func (s FindingSet) Len() int {
	return len(s.items)
}

// List returns the findings sorted by kind, then message, for stable output.
func (s FindingSet) List() []Finding {
	out := make([]Finding, 0, len(s.items))
	for f := range s.items {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Message < out[j].Message
	})
	return out
}
