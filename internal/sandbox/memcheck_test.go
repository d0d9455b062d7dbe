package sandbox

import "testing"

const cleanReport = `==123== HEAP SUMMARY:
==123==     in use at exit: 0 bytes in 0 blocks
==123==   total heap usage: 1 allocs, 1 frees, 1,024 bytes allocated
==123==
==123== All heap blocks were freed -- no leaks are possible
==123==
==123== ERROR SUMMARY: 0 errors from 0 contexts (suppressed: 0 from 0)
`

const leakyReport = `==124== HEAP SUMMARY:
==124==     in use at exit: 40 bytes in 1 blocks
==124== LEAK SUMMARY:
==124==    definitely lost: 40 bytes in 1 blocks
==124== ERROR SUMMARY: 1 errors from 1 contexts (suppressed: 0 from 0)
`

const invalidReadReport = `==125== Invalid read of size 4
==125== All heap blocks were freed -- no leaks are possible
==125== ERROR SUMMARY: 3 errors from 2 contexts (suppressed: 0 from 0)
`

func TestParseMemcheckReport(t *testing.T) {
	tests := []struct {
		name      string
		report    string
		wantLeak  bool
		wantError bool
	}{
		{"clean", cleanReport, false, false},
		{"leak with error", leakyReport, true, true},
		{"invalid read, no leak", invalidReadReport, false, true},
		{"empty report", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := ParseMemcheckReport([]byte(tt.report))
			if got := f.Has(KindMemoryLeak); got != tt.wantLeak {
				t.Errorf("MemoryLeak = %v, want %v", got, tt.wantLeak)
			}
			if got := f.Has(KindMemoryError); got != tt.wantError {
				t.Errorf("MemoryError = %v, want %v", got, tt.wantError)
			}
		})
	}
}

func TestParseMemcheckReport_MessageCarriesCount(t *testing.T) {
	f := ParseMemcheckReport([]byte(invalidReadReport))
	for _, finding := range f.List() {
		if finding.Kind == KindMemoryError && finding.Message != "ERROR SUMMARY: 3 errors" {
			t.Errorf("MemoryError message = %q", finding.Message)
		}
	}
}

func TestMemoryCheckerCommand(t *testing.T) {
	m := &MemoryChecker{Command: "valgrind", Args: []string{"--leak-check=full"}}
	path, args := m.command("a.out")
	if path != "valgrind" {
		t.Errorf("path = %q", path)
	}
	if len(args) != 2 || args[1] != "./a.out" {
		t.Errorf("args = %v, want [--leak-check=full ./a.out]", args)
	}
}
