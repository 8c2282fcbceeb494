// Command x64jitc is a smoke-compile driver for package asm: it builds
// one fixed demonstration fragment, runs it through the selector and
// register allocator, maps the result executable, and optionally prints
// a disassembly. It is not the JIT itself (spec.md §1 places the trace
// recorder, fragment manager, and execution driver out of scope) — it
// exists so the back end is runnable and inspectable on its own.
//
// Grounded on xuperchain/xuperchain's cobra+viper root command wiring
// and jam-duna/jam's cobra-based cmd/* binaries.
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/tracejit/x64backend/abi"
	"github.com/tracejit/x64backend/asm"
	"github.com/tracejit/x64backend/codebuf"
	"github.com/tracejit/x64backend/codemem"
	"github.com/tracejit/x64backend/constpool"
	"github.com/tracejit/x64backend/enc"
	"github.com/tracejit/x64backend/fragment"
	"github.com/tracejit/x64backend/lir"
	"github.com/tracejit/x64backend/xlog"
)

const chunkSize = 64 * 1024

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "x64jitc",
		Short: "Smoke-compile a demonstration fragment through the x86-64 back end",
		RunE:  runCompile,
	}

	flags := cmd.Flags()
	flags.Bool("windows", runtime.GOOS == "windows", "use the Windows x64 calling convention instead of System V")
	flags.Bool("force-long-branch", false, "force every branch/call to its widest reachable form (spec.md §6)")
	flags.Bool("disassemble", false, "print the compiled fragment's disassembly")
	flags.BoolP("verbose", "v", false, "trace each selector step")

	for _, name := range []string{"windows", "force-long-branch", "disassemble", "verbose"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("x64jitc")
	viper.AutomaticEnv()

	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	if viper.GetBool("verbose") {
		dev, err := zap.NewDevelopment()
		if err == nil {
			xlog.SetLogger(dev)
		}
	}

	conv := abi.SystemV
	if viper.GetBool("windows") {
		conv = abi.Windows64
	}

	mgr := codemem.New()
	buf, err := codebuf.New(mgr, chunkSize)
	if err != nil {
		return fmt.Errorf("x64jitc: allocate code buffer: %w", err)
	}
	buf.ForceLongBranch = viper.GetBool("force-long-branch")

	a := asm.New(buf, conv, constpool.New(), fragment.NewTable())
	a.Verbose = viper.GetBool("verbose")

	if err := a.Compile(demoFragment()); err != nil {
		return fmt.Errorf("x64jitc: compile: %w", err)
	}

	code := buf.Main.Bytes()
	spans, err := mgr.Finalize()
	if err != nil {
		return fmt.Errorf("x64jitc: finalize code memory: %w", err)
	}
	defer func() {
		if err := mgr.Release(); err != nil {
			xlog.Warnf("x64jitc: release code memory: %v", err)
		}
	}()

	fmt.Printf("compiled %d bytes into %d executable region(s), entry=0x%x\n", len(code), len(spans), buf.Main.Addr())
	if viper.GetBool("disassemble") {
		fmt.Print(enc.Disassemble(code))
	}
	return nil
}

// demoFragment returns the fixed LIR program x64jitc compiles: a
// fragment taking one integer parameter and returning it plus 0x100,
// the same shape package asm's own tests trace by hand.
func demoFragment() *lir.Func {
	f := lir.NewFunc("x64jitc_demo")
	p := f.Param(0, lir.TI)
	imm := f.ImmI(0x100)
	sum := f.Add(lir.TI, p, imm)
	f.Ret(sum)
	return f
}
