// Command forgemat inspects a material database: it lists the materials,
// resolves their shader sets, and prints the descriptor layouts reflected
// from the bytecode. Useful for checking an asset build before shipping it.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/gogpu/forge/gpucore"
	"github.com/gogpu/forge/spirv"
	"github.com/gogpu/forge/store"
)

func main() {
	var (
		dbPath  = flag.String("db", "materials.db", "material database path")
		name    = flag.String("material", "", "inspect a single material (default: all)")
		verbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	st, err := store.Open(*dbPath, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forgemat: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	names := []string{*name}
	if *name == "" {
		names, err = st.Materials()
		if err != nil {
			fmt.Fprintf(os.Stderr, "forgemat: %v\n", err)
			os.Exit(1)
		}
	}

	reflector := spirv.NewReflector(gpucore.DefaultLimits().MaxPushConstantSize)
	failed := 0
	for _, mat := range names {
		if err := inspect(st, reflector, mat); err != nil {
			fmt.Fprintf(os.Stderr, "forgemat: %s: %v\n", mat, err)
			failed++
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func inspect(st *store.Store, reflector *spirv.Reflector, name string) error {
	refs, err := st.ResolveMaterial(name)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", name)
	stages := make([]spirv.StageBlob, len(refs))
	for i, ref := range refs {
		stages[i] = ref.Blob()
		fmt.Printf("  %-8s %s  (%d bytes)\n", ref.Stage, ref.ID, len(ref.Bytecode))
	}

	layout, err := reflector.Layout(stages)
	if err != nil {
		return err
	}
	for _, b := range layout.Bindings {
		fmt.Printf("  set %d binding %d  %-14s stages=%s\n", b.Set, b.Binding, b.Kind, stageNames(b.Stages))
	}
	if layout.Push.Size > 0 {
		fmt.Printf("  push constants  offset=%d size=%d stages=%s\n",
			layout.Push.Offset, layout.Push.Size, stageNames(layout.Push.Stages))
	}
	fmt.Println()
	return nil
}

func stageNames(m gpucore.StageMask) string {
	switch {
	case m&gpucore.StageMaskVertex != 0 && m&gpucore.StageMaskFragment != 0:
		return "vertex|fragment"
	case m&gpucore.StageMaskVertex != 0:
		return "vertex"
	case m&gpucore.StageMaskFragment != 0:
		return "fragment"
	default:
		return "none"
	}
}
