package seccomp

import (
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// toolchainSyscalls covers what make, the compiler driver, the assembler,
// the linker and a student binary need.
func toolchainSyscalls(b *Builder) *Builder {
	return b.
		Allow(
			"read", "write", "readv", "writev", "pread64", "pwrite64",
			"open", "openat", "close", "lseek",
			"stat", "fstat", "lstat", "newfstatat", "statx",
			"access", "faccessat", "faccessat2",
			"dup", "dup2", "dup3",
			"fcntl",
			"poll", "ppoll", "select", "pselect6",
			"pipe", "pipe2",
			"readlink", "readlinkat",
			"getdents64",
		).
		Allow(
			"brk", "mmap", "munmap", "mprotect", "mremap",
			"madvise",
		).
		// make and gcc fork and exec cc1, as and ld.
		Allow(
			"execve", "execveat",
			"exit", "exit_group",
			"wait4", "waitid",
			"clone", "clone3", "vfork",
			"set_tid_address",
			"set_robust_list", "get_robust_list",
			"rseq",
		).
		Allow(
			"futex",
			"gettid", "tgkill", "kill",
			"rt_sigaction", "rt_sigprocmask", "rt_sigreturn",
			"sigaltstack",
		).
		Allow(
			"clock_gettime", "clock_getres",
			"gettimeofday", "time",
			"nanosleep", "clock_nanosleep",
		).
		Allow(
			"getpid", "getppid", "getpgrp", "setpgid",
			"getuid", "geteuid",
			"getgid", "getegid",
			"uname",
			"getcwd",
		).
		Allow(
			"getrandom",
			"arch_prctl",
			"prctl",
			"ioctl",
			"sysinfo",
			"getrlimit", "prlimit64", "setrlimit",
			"umask",
			"chmod", "fchmod", "fchmodat",
			"chdir", "fchdir",
			"rename", "renameat", "renameat2",
			"unlink", "unlinkat",
			"mkdir", "mkdirat",
			"rmdir",
			"ftruncate", "fallocate",
			"fsync", "fdatasync",
			"flock",
			"statfs", "fstatfs",
			"utimensat",
			"copy_file_range",
		)
}

// hostileSyscalls are never needed to build or run coursework.
func hostileSyscalls(b *Builder) *Builder {
	return b.
		Trap(
			"ptrace",
			"process_vm_readv", "process_vm_writev",
			"keyctl", "add_key", "request_key",
			"bpf",
			"perf_event_open",
			"userfaultfd",
			"kexec_load", "kexec_file_load",
			"finit_module", "init_module", "delete_module",
		).
		Deny(
			"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
			"mount", "umount2", "pivot_root",
			"reboot",
			"swapon", "swapoff",
			"sethostname", "setdomainname",
			"setns", "unshare",
			"acct",
			"settimeofday", "adjtimex", "clock_adjtime",
			"personality",
			"ioperm", "iopl",
		)
}

// SubmissionProfile is the profile applied to every container that builds
// or runs a submission.
func SubmissionProfile() *specs.LinuxSeccomp {
	b := NewBuilder()
	b = toolchainSyscalls(b)
	b = hostileSyscalls(b)
	return b.Build()
}

// SubmissionProfileJSON is SubmissionProfile in docker's file format.
func SubmissionProfileJSON() ([]byte, error) {
	return DockerJSON(SubmissionProfile())
}
