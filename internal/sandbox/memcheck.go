package sandbox

import (
	"bytes"
	"regexp"
	"strconv"
)

const noLeaksPhrase = "All heap blocks were freed -- no leaks are possible"

var errorSummaryRe = regexp.MustCompile(`ERROR SUMMARY: (\d+) errors?`)

// MemoryChecker runs a binary under a leak checker such as valgrind.
type MemoryChecker struct {
	Command string
	Args    []string
}

// command builds the checker invocation for binary, which is relative to
// the workspace.
func (m *MemoryChecker) command(binary string) (string, []string) {
	args := make([]string, 0, len(m.Args)+1)
	args = append(args, m.Args...)
	args = append(args, "./"+binary)
	return m.Command, args
}

// ParseMemcheckReport classifies a valgrind-style report. A nonzero error
// summary is a memory error; a report without the no-leaks phrase is a
// leak.
func ParseMemcheckReport(report []byte) FindingSet {
	var findings FindingSet
	if m := errorSummaryRe.FindSubmatch(report); m != nil {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n > 0 {
			findings.Add(KindMemoryError, string(m[0]))
		}
	}
	if !bytes.Contains(report, []byte(noLeaksPhrase)) {
		findings.Add(KindMemoryLeak, "heap blocks were not all freed")
	}
	return findings
}
