package seccomp

import (
	"encoding/json"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

func TestSubmissionProfile_DenyByDefault(t *testing.T) {
	p := SubmissionProfile()
	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
}

func TestSubmissionProfile_Actions(t *testing.T) {
	p := SubmissionProfile()
	tests := []struct {
		syscall string
		want    specs.LinuxSeccompAction
	}{
		{"execve", specs.ActAllow},
		{"vfork", specs.ActAllow},
		{"wait4", specs.ActAllow},
		{"ptrace", specs.ActTrap},
		{"socket", specs.ActErrno},
		{"connect", specs.ActErrno},
		{"mount", specs.ActErrno},
		{"not_a_real_syscall", specs.ActErrno},
	}
	for _, tt := range tests {
		t.Run(tt.syscall, func(t *testing.T) {
			if got := ActionFor(p, tt.syscall); got != tt.want {
				t.Errorf("ActionFor(%q) = %v, want %v", tt.syscall, got, tt.want)
			}
		})
	}
}

func TestSubmissionProfileJSON_ValidJSON(t *testing.T) {
	data, err := SubmissionProfileJSON()
	if err != nil {
		t.Fatalf("SubmissionProfileJSON: %v", err)
	}

	var dp struct {
		DefaultAction string   `json:"defaultAction"`
		Architectures []string `json:"architectures"`
		Syscalls      []struct {
			Names  []string `json:"names"`
			Action string   `json:"action"`
		} `json:"syscalls"`
	}
	if err := json.Unmarshal(data, &dp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if dp.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("defaultAction = %q, want SCMP_ACT_ERRNO", dp.DefaultAction)
	}
	if len(dp.Architectures) != 2 || dp.Architectures[0] != "SCMP_ARCH_X86_64" {
		t.Errorf("architectures = %v", dp.Architectures)
	}
	if len(dp.Syscalls) == 0 {
		t.Error("expected syscall rules, got none")
	}
}

func TestBuilder(t *testing.T) {
	p := NewBuilder().Allow("read", "write").Trap("ptrace").Build()

	if p.DefaultAction != specs.ActErrno {
		t.Errorf("DefaultAction = %v, want ActErrno", p.DefaultAction)
	}
	if len(p.Syscalls) != 2 {
		t.Fatalf("got %d rules, want 2", len(p.Syscalls))
	}
	rule := p.Syscalls[0]
	if rule.Action != specs.ActAllow {
		t.Errorf("rule Action = %v, want ActAllow", rule.Action)
	}
	if rule.Names[0] != "read" || rule.Names[1] != "write" {
		t.Errorf("names = %v, want [read write]", rule.Names)
	}
	if p.Syscalls[1].Action != specs.ActTrap {
		t.Errorf("second rule Action = %v, want ActTrap", p.Syscalls[1].Action)
	}
}
