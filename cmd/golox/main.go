// Command golox runs Lox programs.
//
//	golox                 start an interactive REPL
//	golox run script.lox  compile and run a file
//	golox disasm script.lox  show the compiled bytecode
//
// Exit codes follow the usual interpreter convention: 65 for a compile
// error, 70 for a runtime error, 74 when the file cannot be read, 0 on
// success.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"golox/pkg/compiler"
	"golox/pkg/vm"
)

const version = "0.1.0"

// sysexits-style codes.
const (
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "load VM settings from a TOML file",
	}
	traceFlag = cli.BoolFlag{
		Name:  "trace",
		Usage: "disassemble and dump the stack at every instruction",
	}
	traceGCFlag = cli.BoolFlag{
		Name:  "trace-gc",
		Usage: "log garbage collection cycles",
	}
	stressGCFlag = cli.BoolFlag{
		Name:  "gc-stress",
		Usage: "collect at every allocation (slow, for debugging)",
	}
	constantsFlag = cli.BoolFlag{
		Name:  "constants",
		Usage: "also dump each chunk's constant pool",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = "golox"
	app.Usage = "the golox programming language"
	app.Version = version
	app.Flags = []cli.Flag{configFlag, traceFlag, traceGCFlag, stressGCFlag}
	app.Action = func(ctx *cli.Context) error {
		if ctx.NArg() > 0 {
			runFile(ctx.Args().First(), loadConfig(ctx))
			return nil
		}
		return repl(loadConfig(ctx))
	}
	app.Commands = []cli.Command{
		{
			Name:      "run",
			Usage:     "run a Lox source file",
			ArgsUsage: "<path>",
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() < 1 {
					return cli.NewExitError("run: no file specified", 1)
				}
				runFile(ctx.Args().First(), loadConfig(ctx))
				return nil
			},
		},
		{
			Name:      "disasm",
			Usage:     "disassemble the bytecode compiled from a source file",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{constantsFlag},
			Action: func(ctx *cli.Context) error {
				if ctx.NArg() < 1 {
					return cli.NewExitError("disasm: no file specified", 1)
				}
				disasmFile(ctx.Args().First(), ctx.Bool("constants"), loadConfig(ctx))
				return nil
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig merges the optional TOML file with command-line overrides.
func loadConfig(ctx *cli.Context) vm.Config {
	cfg := vm.DefaultConfig()
	if path := ctx.GlobalString("config"); path != "" {
		loaded, err := vm.LoadConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if ctx.GlobalBool("trace") {
		cfg.TraceExecution = true
	}
	if ctx.GlobalBool("trace-gc") {
		cfg.TraceGC = true
	}
	if ctx.GlobalBool("gc-stress") {
		cfg.GCStress = true
	}
	return cfg
}

func compileFile(path string, machine *vm.VM) *vm.Object {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(exitIOError)
	}
	fun, err := compiler.Compile(string(data), machine.Heap())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCompileError)
	}
	return fun
}

func runFile(path string, cfg vm.Config) {
	machine := vm.NewWithConfig(cfg, os.Stdout, os.Stderr)
	fun := compileFile(path, machine)
	// The VM prints the runtime error and stack trace itself.
	if err := machine.Run(fun); err != nil {
		os.Exit(exitRuntimeError)
	}
}

func disasmFile(path string, withConstants bool, cfg vm.Config) {
	machine := vm.NewWithConfig(cfg, os.Stdout, os.Stderr)
	fun := compileFile(path, machine)
	vm.DisassembleFunction(os.Stdout, fun)
	if withConstants {
		f := fun.Content.(*vm.ObjFunction)
		fmt.Println()
		vm.DumpConstants(os.Stdout, &f.Chunk, filepath.Base(path))
	}
}

// repl reads and runs one line at a time. Globals, classes and interned
// strings live on the VM's heap and persist across lines.
func repl(cfg vm.Config) error {
	color.New(color.FgCyan).Fprintf(os.Stderr, "golox %s (Ctrl-D to exit)\n", version)

	machine := vm.NewWithConfig(cfg, os.Stdout, os.Stderr)
	errPrinter := color.New(color.FgRed)

	input := liner.NewLiner()
	defer input.Close()
	input.SetCtrlCAborts(true)

	historyPath := replHistoryPath()
	if historyPath != "" {
		if f, err := os.Open(historyPath); err == nil {
			input.ReadHistory(f)
			f.Close()
		}
	}

	for {
		src, err := input.Prompt("> ")
		if err == liner.ErrPromptAborted {
			continue
		}
		if err != nil {
			break // EOF
		}
		if strings.TrimSpace(src) == "" {
			continue
		}
		input.AppendHistory(src)

		fun, cerr := compiler.Compile(src, machine.Heap())
		if cerr != nil {
			errPrinter.Fprintln(os.Stderr, cerr)
			continue
		}
		// Run prints runtime errors; the REPL keeps going either way.
		machine.Run(fun)
	}

	if historyPath != "" {
		if f, err := os.Create(historyPath); err == nil {
			input.WriteHistory(f)
			f.Close()
		}
	}
	fmt.Fprintln(os.Stderr)
	return nil
}

func replHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".golox_history")
}
