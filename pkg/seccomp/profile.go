package seccomp

import (
	"encoding/json"
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Builder assembles a deny-by-default seccomp profile rule by rule.
type Builder struct {
	profile *specs.LinuxSeccomp
}

func NewBuilder() *Builder {
	return &Builder{
		profile: &specs.LinuxSeccomp{
			DefaultAction: specs.ActErrno,
			Architectures: []specs.Arch{
				specs.ArchX86_64,
				specs.ArchAARCH64,
			},
		},
	}
}

func (b *Builder) add(action specs.LinuxSeccompAction, names []string) *Builder {
	b.profile.Syscalls = append(b.profile.Syscalls, specs.LinuxSyscall{
		Names:  names,
		Action: action,
	})
	return b
}

func (b *Builder) Allow(names ...string) *Builder { return b.add(specs.ActAllow, names) }

func (b *Builder) Deny(names ...string) *Builder { return b.add(specs.ActErrno, names) }

// Trap delivers SIGSYS, which surfaces as a crash of the submission.
func (b *Builder) Trap(names ...string) *Builder { return b.add(specs.ActTrap, names) }

func (b *Builder) Build() *specs.LinuxSeccomp {
	return b.profile
}

// ActionFor returns the action of the first rule naming syscall, or the
// profile default.
func ActionFor(p *specs.LinuxSeccomp, syscall string) specs.LinuxSeccompAction {
	for _, rule := range p.Syscalls {
		for _, name := range rule.Names {
			if name == syscall {
				return rule.Action
			}
		}
	}
	return p.DefaultAction
}

// DockerJSON renders p in the format accepted by
// docker run --security-opt seccomp=<file>.
func DockerJSON(p *specs.LinuxSeccomp) ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal seccomp profile: %w", err)
	}
	return data, nil
}
