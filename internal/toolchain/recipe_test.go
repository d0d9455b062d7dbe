package toolchain

import (
	"reflect"
	"testing"
)

func TestRegistry_Detect(t *testing.T) {
	r := NewRegistry("make", "gcc", []string{"-Wall"})

	tests := []struct {
		name  string
		files []string
		want  string
	}{
		{"makefile present", []string{"lab3.c", "Makefile", "lab3.h"}, "make"},
		{"lowercase makefile", []string{"makefile", "main.c"}, "make"},
		{"GNUmakefile", []string{"GNUmakefile"}, "make"},
		{"single source", []string{"lab3.c", "lab3.h"}, "cc"},
		{"empty workspace", nil, "cc"},
		{"makefile-like name is not a makefile", []string{"Makefile.bak", "lab3.c"}, "cc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Detect(tt.files).Name(); got != tt.want {
				t.Errorf("Detect(%v) = %q, want %q", tt.files, got, tt.want)
			}
		})
	}
}

func TestCCRecipe_BuildCommand(t *testing.T) {
	rc := &CCRecipe{Compiler: "clang", Flags: []string{"-Wall", "-g"}}
	got := rc.BuildCommand("lab3.c", "a.out")
	want := []string{"clang", "-Wall", "-g", "-o", "a.out", "lab3.c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildCommand() = %v, want %v", got, want)
	}
}

func TestCCRecipe_DefaultCompiler(t *testing.T) {
	rc := &CCRecipe{}
	got := rc.BuildCommand("x.c", "bin")
	if got[0] != "gcc" {
		t.Errorf("compiler = %q, want gcc", got[0])
	}
}

func TestMakeRecipe_BuildCommand(t *testing.T) {
	rc := &MakeRecipe{}
	got := rc.BuildCommand("lab3.c", "a.out")
	want := []string{"make", "TARGET=a.out"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("BuildCommand() = %v, want %v", got, want)
	}
}
