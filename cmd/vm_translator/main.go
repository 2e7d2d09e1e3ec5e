package main

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/teris-io/cli"
	"github.com/hmny-jack/toolchain/pkg/asm"
	"github.com/hmny-jack/toolchain/pkg/vm"
)

var Description = strings.ReplaceAll(`
The VM Translator translates programs (composed of multiple modules/files) written in 
the VM language into Hack assembly code that can be further elaborated. The VM language
is a higher-level (bytecode'like) language tailored for use with the Hack computer arch.
`, "\n", " ")

var VmTranslator = cli.New(Description).
	// 'AsOptional()' allows to have more than one input .vm file
	WithArg(cli.NewArg("inputs", "The bytecode (.vm) file to be compiled").
		AsOptional().WithType(cli.TypeString)).
	WithOption(cli.NewOption("output", "The compiled output (.asm), derived from the first input when omitted").
		WithType(cli.TypeString)).
	WithOption(cli.NewOption("bootstrap", "Forces bootstrap code in the final .asm file even for a single-file input").
		WithType(cli.TypeBool)).
	WithAction(Handler)

func Handler(args []string, options map[string]string) int {
	if len(args) < 1 {
		fmt.Printf("ERROR: Not enough arguments provided, use --help\n")
		return -1
	}

	// Without '--output' the name is derived from the first input: 'Foo.vm' gives 'Foo.asm'
	// and a directory 'Foo' gives 'Foo/Foo.asm'.
	outputPath := options["output"]
	if outputPath == "" {
		if info, err := os.Stat(args[0]); err == nil && info.IsDir() {
			outputPath = filepath.Join(args[0], filepath.Base(args[0])+".asm")
		} else {
			outputPath = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".asm"
		}
	}

	output, err := os.Create(outputPath)
	if err != nil {
		fmt.Printf("ERROR: Unable to open output file: %s\n", err)
		return -1
	}
	defer output.Close()

	// The aggregation of all the Translation Units (TUs) found during the input walk (just the
	// paths), mirroring 'cmd/jack_compiler': each input argument can be either a single .vm file
	// or a directory, in which case every .vm file nested inside it is picked up recursively.
	TUs := []string{}
	for _, input := range args {
		filepath.Walk(input, func(path string, info fs.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Ext(path) != ".vm" {
				return nil
			}

			TUs = append(TUs, path)
			return nil
		})
	}

	// Allocates a 'vm.Program' struct to save all the parsed translation unit
	// (the .vm files) that will be parsed and lowered independently and then
	// sent to the codegen phases (that will create a monolithic compiled output).
	program := vm.Program{}

	// For every file found during the walk we do the following things
	for _, input := range TUs {
		content, err := os.ReadFile(input)
		if err != nil {
			fmt.Printf("ERROR: Unable to open input file: %s\n", err)
			return -1
		}

		// Instantiate a parser for the Vm program
		parser := vm.NewParser(bytes.NewReader(content))
		// Parses the input file content and extract an AST (as a 'vm.Module') from it.
		program[strings.TrimSuffix(path.Base(input), path.Ext(input))], err = parser.Parse()
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'parsing' pass: %s\n", err)
			return -1
		}
	}

	// Instantiate a lowerer to convert the program from Vm to Asm
	lowerer := vm.NewLowerer(program)
	// Lowers the vm.Program to an in-memory/IR representation of its Asm counterpart 'asm.Program'.
	asmProgram, err := lowerer.Lowerer()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'lowering' pass: %s\n", err)
		return -1
	}

	// Bootstrap code is prepended whenever multiple .vm files are being translated together
	// (a directory input), matching the original toolchain's behavior of only needing it once
	// Sys.init is reachable; a single-file invocation never emits it so that translating a lone
	// unit-test style .vm fixture stays directly comparable to its expected .asm. The explicit
	// '--bootstrap' flag is kept to force it on for a single-file invocation too.
	// When included, the bootstrap code does the following things:
	// - Sets the Stack Pointer to its base location at memory location 256
	// - Calls Sys.init like any other function, saving a return address and the caller's
	//   frame, so a well-behaved Sys.init that declares locals or eventually returns still
	//   finds a consistent LCL/ARG/THIS/THAT and a valid address to jump back to.
	_, explicit := options["bootstrap"]
	if len(TUs) > 1 || explicit {
		bootstrapLowerer := vm.NewLowerer(vm.Program{})
		sysInitCall, err := bootstrapLowerer.HandleFuncCallOp(vm.FuncCallOp{Name: "Sys.init", NArgs: 0})
		if err != nil {
			fmt.Printf("ERROR: Unable to complete 'bootstrap' pass: %s\n", err)
			return -1
		}

		bootstrap := append([]asm.Instruction{
			asm.AInstruction{Location: "256"},
			asm.CInstruction{Dest: "D", Comp: "A"},
			asm.AInstruction{Location: "SP"},
			asm.CInstruction{Dest: "M", Comp: "D"},
		}, sysInitCall...)
		asmProgram = append(bootstrap, asmProgram...)
	}

	// Now, instantiates a code generator for the Asm (compiled) program
	codegen := asm.NewCodeGenerator(asmProgram)
	// Iterates over each instruction and spits out the relative textual representation.
	compiled, err := codegen.Generate()
	if err != nil {
		fmt.Printf("ERROR: Unable to complete 'codegen' pass: %s\n", err)
		return -1
	}

	for _, comp := range compiled {
		line := fmt.Sprintf("%s\n", comp)
		output.Write([]byte(line))
	}

	return 0
}

func main() { os.Exit(VmTranslator.Run(os.Args, os.Stdout)) }
