package toolchain

// CCRecipe compiles the single submitted source file with a C compiler.
type CCRecipe struct {
	Compiler string
	Flags    []string
}

func (c *CCRecipe) Name() string { return "cc" }

// Detect always matches; CCRecipe is the registry fallback.
func (c *CCRecipe) Detect(_ []string) bool { return true }

func (c *CCRecipe) BuildCommand(source, binary string) []string {
	compiler := c.Compiler
	if compiler == "" {
		compiler = "gcc"
	}
	args := make([]string, 0, len(c.Flags)+4)
	args = append(args, compiler)
	args = append(args, c.Flags...)
	args = append(args, "-o", binary, source)
	return args
}
