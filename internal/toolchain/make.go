package toolchain

// MakeRecipe builds a workspace that ships its own Makefile.
type MakeRecipe struct {
	Command string
}

// makefileNames are the names GNU make looks for, in its own search order.
var makefileNames = []string{"GNUmakefile", "makefile", "Makefile"}

func (m *MakeRecipe) Name() string { return "make" }

func (m *MakeRecipe) Detect(files []string) bool {
	for _, f := range files {
		for _, name := range makefileNames {
			if f == name {
				return true
			}
		}
	}
	return false
}

// BuildCommand ignores source: the Makefile decides what gets compiled.
// The binary name is passed as a variable so recipes that honour $(TARGET)
// produce the file the sandbox will execute.
func (m *MakeRecipe) BuildCommand(_, binary string) []string {
	cmd := m.Command
	if cmd == "" {
		cmd = "make"
	}
	return []string{cmd, "TARGET=" + binary}
}
