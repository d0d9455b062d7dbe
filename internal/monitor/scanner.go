package monitor

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// CodeScanner looks for things coursework has no business doing: shelling
// out, forking in loops, poking at /proc, opening sockets. Matches are
// reported to graders, never enforced.
type CodeScanner struct {
	patterns []Pattern
}

// Pattern is one suspicious construct.
type Pattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection is a single pattern match.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

func NewCodeScanner() *CodeScanner {
	return &CodeScanner{
		patterns: sourcePatterns(),
	}
}

// ScanSource checks C source line by line. Comment-only lines are skipped.
func (s *CodeScanner) ScanSource(source []byte) []Detection {
	var detections []Detection

	sc := bufio.NewScanner(bytes.NewReader(source))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		trimmed := strings.TrimSpace(text)
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "/*") {
			continue
		}
		for _, p := range s.patterns {
			if !p.Regex.MatchString(text) {
				continue
			}
			detections = append(detections, Detection{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
				Line:     line,
			})
			log.Warn().
				Str("pattern", p.Name).
				Str("severity", p.Severity.String()).
				Int("line", line).
				Msg("suspicious construct in submission")
		}
	}
	return detections
}

// ScanOutput checks program output for host data that a contained run
// should never be able to print.
func (s *CodeScanner) ScanOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"passwd_leak", "root:x:0:0", SeverityCritical},
		{"kernel_leak", "Linux version", SeverityHigh},
		{"docker_socket", "docker.sock", SeverityCritical},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
		}
	}
	return detections
}

func sourcePatterns() []Pattern {
	return []Pattern{
		{
			Name:        "shell_out",
			Description: "Runs a shell command via system() or popen()",
			Regex:       regexp.MustCompile(`\b(system|popen)\s*\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "exec_family",
			Description: "Replaces the process image with another program",
			Regex:       regexp.MustCompile(`\bexec(l|lp|le|v|vp|vpe)\s*\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "fork_loop",
			Description: "Calls fork() inside a loop",
			Regex:       regexp.MustCompile(`\b(while|for)\s*\(.*\)\s*\{?\s*.*\bfork\s*\(\s*\)|\bwhile\s*\(\s*(1|true)?\s*\)\s*fork\s*\(`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "proc_self_access",
			Description: "Reads process internals under /proc/self",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|mem|status|environ)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "raw_socket",
			Description: "Opens a network socket",
			Regex:       regexp.MustCompile(`\bsocket\s*\(\s*(AF_INET6?|AF_PACKET|PF_INET6?)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "ptrace_attempt",
			Description: "Uses ptrace or cross-process memory access",
			Regex:       regexp.MustCompile(`\b(ptrace|process_vm_readv|process_vm_writev)\s*\(|PTRACE_ATTACH`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "raw_syscall",
			Description: "Issues raw system calls or inline assembly",
			Regex:       regexp.MustCompile(`\bsyscall\s*\(|\b__asm__\b|\basm\s*(volatile\s*)?\(`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "grading_tree_access",
			Description: "References grading directories or other submissions",
			Regex:       regexp.MustCompile(`\.valid/|\.invalid/|/cluster/pixstor/`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "container_breakout",
			Description: "Touches cgroup release hooks",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			Severity:    SeverityCritical,
		},
	}
}
