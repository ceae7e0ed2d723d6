package runtime

import "fmt"

// JavaToolchain builds with javac and launches with java.
type JavaToolchain struct {
	javac string
	java  string
}

// NewJavaToolchain returns a Java toolchain. Empty paths fall back to the
// binaries found on PATH.
func NewJavaToolchain(javacPath, javaPath string) *JavaToolchain {
	if javacPath == "" {
		javacPath = "javac"
	}
	if javaPath == "" {
		javaPath = "java"
	}
	return &JavaToolchain{javac: javacPath, java: javaPath}
}

func (j *JavaToolchain) Name() string { return "java" }

func (j *JavaToolchain) FileExtension() string { return ".java" }

func (j *JavaToolchain) CompileCommand(srcPath, outDir string) []string {
	return []string{
		j.javac,
		"-J-Xmx256m", // cap the compiler JVM itself
		"-nowarn",
		"-encoding", "UTF-8",
		"-d", outDir,
		srcPath,
	}
}

func (j *JavaToolchain) RunCommand(outDir, unit string, opts RunOptions) []string {
	args := []string{j.java}
	if opts.MemoryMB > 0 {
		args = append(args, fmt.Sprintf("-Xmx%dm", opts.MemoryMB))
	}
	if opts.StackMB > 0 {
		args = append(args, fmt.Sprintf("-Xss%dm", opts.StackMB))
	}
	return append(args,
		"-XX:+UseSerialGC",
		"-Djava.awt.headless=true",
		"-cp", outDir,
		unit,
	)
}

func (j *JavaToolchain) Binaries() []string {
	return []string{j.javac, j.java}
}
