// Package cmd implements the emu32 build driver: the CLI that turns .basm
// source files into .bo objects, .ba archives or a linked .bexe executable.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/emu32dev/emu32/cmd/cpu"
	"github.com/emu32dev/emu32/pkg/asm"
	"github.com/emu32dev/emu32/pkg/belf"
	"github.com/emu32dev/emu32/pkg/linker"
	"github.com/emu32dev/emu32/pkg/preprocessor"
	"github.com/emu32dev/emu32/pkg/staticlib"
	"github.com/emu32dev/emu32/pkg/token"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// File extensions of the EMU32 toolchain, per the external interface: .basm
// source, .binc include, .bi preprocessed, .bo object, .bexe executable,
// .ba static library.
const (
	SourceExtension     = ".basm"
	IncludeExtension    = ".binc"
	ProcessedExtension  = ".bi"
	ObjectExtension     = ".bo"
	ExecutableExtension = ".bexe"
	ArchiveExtension    = ".ba"
)

var (
	buildVersion       bool
	buildCompileOnly   bool
	buildMakeLib       bool
	buildOutput        string
	buildOutDir        string
	buildIncludes      []string
	buildLibs          []string
	buildLibDirs       []string
	buildDefines       []string
	buildKeepProcessed bool
	buildVerbose       bool
)

// Version is the driver's reported version string, overridable at link time
// with -ldflags "-X github.com/emu32dev/emu32/cmd.Version=...".
var Version = "dev"

// RootCmd is the emu32 build driver: given a set of .basm source files (or
// .bo objects) it preprocesses, assembles, and either archives or links them.
var RootCmd = &cobra.Command{
	Use:   "emu32 [flags] file...",
	Short: "Build driver for the EMU32 toolchain",
	Long: `emu32 preprocesses and assembles .basm source files into relocatable
BELF objects, then either archives them into a static library (-makelib) or
links them into an executable. Object files (.bo) may be passed directly,
skipping straight to the link step.`,
	RunE: runBuild,
}

// Execute runs the driver, exiting non-zero on any reported error (per the
// spec's "0 on success; non-zero on any error logged through the error
// channel" exit-code rule).
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(cpu.CpuCmd)
	cobra.OnInitialize(initConfig)

	flags := RootCmd.Flags()
	flags.BoolVarP(&buildVersion, "version", "v", false, "print version and exit")
	flags.BoolVarP(&buildCompileOnly, "compile", "c", false, "stop after emitting object files")
	flags.BoolVar(&buildMakeLib, "makelib", false, "archive the object files into a static library instead of linking")
	flags.StringVarP(&buildOutput, "output", "o", "a", "output base path (extension auto-added)")
	flags.StringVar(&buildOutDir, "outdir", "", "directory for intermediate and final artifacts")
	flags.StringArrayVarP(&buildIncludes, "include", "I", nil, "add a system include directory")
	flags.StringArrayVarP(&buildLibs, "lib", "l", nil, "link in a static library")
	flags.StringArrayVarP(&buildLibDirs, "libdir", "L", nil, "link in every .ba file found under a directory")
	flags.StringArrayVarP(&buildDefines, "define", "D", nil, "define a preprocessor symbol, KEY[=VALUE]")
	flags.BoolVar(&buildKeepProcessed, "kp", false, "keep intermediate .bi files")
	flags.BoolVar(&buildVerbose, "verbose", false, "print extra diagnostics (colored assembler warnings, link summary)")
}

// initConfig loads .emu32.yaml (from the working directory or the user's
// home directory) and environment overrides, the same two-tier precedence
// the reference driver's .cucaracha config uses: explicit flags always win,
// since applyConfigDefaults only fills flags left unset after parsing.
func initConfig() {
	viper.SetConfigType("yaml")
	viper.SetConfigName(".emu32")
	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
	}
	viper.SetEnvPrefix("EMU32")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

// applyConfigDefaults fills any flag the user did not pass on the command
// line from .emu32.yaml/environment, letting an explicit flag always win
// over the config file (viper itself can't express that precedence against
// pflag's own defaults, since those are bound before the config is read).
func applyConfigDefaults(cmd *cobra.Command) {
	if !cmd.Flags().Changed("outdir") {
		if v := viper.GetString("outdir"); v != "" {
			buildOutDir = v
		}
	}
	if !cmd.Flags().Changed("include") {
		if v := viper.GetStringSlice("include"); len(v) > 0 {
			buildIncludes = append(buildIncludes, v...)
		}
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if buildVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func runBuild(cmd *cobra.Command, args []string) error {
	if buildVersion {
		fmt.Println("emu32", Version)
		return nil
	}

	log := newLogger()
	applyConfigDefaults(cmd)

	pp := preprocessor.New(buildIncludes)
	for _, spec := range buildDefines {
		if err := pp.DefineFromFlag(spec); err != nil {
			return fmt.Errorf("emu32: -D %q: %w", spec, err)
		}
	}

	var objects []*belf.ObjectFile
	var objectPaths []string

	for _, path := range args {
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ObjectExtension {
			obj, err := readObjectFile(path)
			if err != nil {
				return err
			}
			objects = append(objects, obj)
			continue
		}

		obj, objPath, err := buildOne(pp, path, log)
		if err != nil {
			return err
		}
		objects = append(objects, obj)
		objectPaths = append(objectPaths, objPath)
	}

	outBase := buildOutput
	if buildOutDir != "" && !filepath.IsAbs(buildOutput) {
		outBase = filepath.Join(buildOutDir, buildOutput)
	}

	if buildMakeLib {
		archive := staticlib.New()
		for _, obj := range objects {
			archive.Add(obj)
		}
		outPath := outBase + ArchiveExtension
		if err := os.WriteFile(outPath, staticlib.Write(archive), 0o644); err != nil {
			return fmt.Errorf("emu32: writing %s: %w", outPath, err)
		}
		return nil
	}

	if buildCompileOnly {
		return nil
	}

	// Every member of a linked archive is added to the link set directly
	// (matching the reference driver's ReadStaticLibrary call, which does
	// not lazily pick members by unresolved symbol); unreferenced members
	// cost nothing beyond their own relocation/symbol-merge bookkeeping.
	for _, libPath := range buildLibs {
		if err := appendArchiveObjects(&objects, libPath); err != nil {
			return err
		}
	}
	for _, dir := range buildLibDirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("emu32: -L %s: %w", dir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || strings.ToLower(filepath.Ext(entry.Name())) != ArchiveExtension {
				continue
			}
			if err := appendArchiveObjects(&objects, filepath.Join(dir, entry.Name())); err != nil {
				return err
			}
		}
	}

	script, err := linker.ParseScript(linker.DefaultScript)
	if err != nil {
		return fmt.Errorf("emu32: default linker script: %w", err)
	}

	result, err := linker.Link(objects, script)
	if err != nil {
		return fmt.Errorf("emu32: %w", err)
	}
	log.Debug("link complete", "entry", result.EntryName, "entry_value", result.EntryValue)

	outPath := outBase + ExecutableExtension
	if err := os.WriteFile(outPath, belf.Write(result.Object), 0o644); err != nil {
		return fmt.Errorf("emu32: writing %s: %w", outPath, err)
	}

	if !buildKeepProcessed {
		for _, p := range objectPaths {
			_ = os.Remove(p)
		}
	}
	return nil
}

// buildOne runs one source file through preprocess -> assemble, writing its
// .bo under the source's base name into -outdir (or the working directory
// when -outdir is unset), and returns the resulting object plus the path
// the object was written to.
func buildOne(pp *preprocessor.Preprocessor, path string, log *slog.Logger) (*belf.ObjectFile, string, error) {
	if strings.ToLower(filepath.Ext(path)) != SourceExtension {
		return nil, "", fmt.Errorf("emu32: %s: unrecognized file extension (expected %s or %s)", path, SourceExtension, ObjectExtension)
	}

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("emu32: reading %s: %w", path, err)
	}

	tokens, err := token.Lex(string(source), 0, false)
	if err != nil {
		return nil, "", fmt.Errorf("emu32: %s: %w", path, err)
	}
	stream := token.New(tokens)

	if err := pp.Process(stream, filepath.Dir(path)); err != nil {
		return nil, "", fmt.Errorf("emu32: %s: preprocessing: %w", path, err)
	}

	base := filepath.Base(path)
	if buildKeepProcessed {
		biPath := artifactPath(base, ProcessedExtension)
		if err := os.WriteFile(biPath, []byte(stringifyStream(stream)), 0o644); err != nil {
			log.Warn("could not write intermediate file", "path", biPath, "err", err)
		}
	}

	a := asm.New(stream)
	obj, err := a.Assemble()
	if err != nil {
		return nil, "", fmt.Errorf("emu32: %s: assembling: %w", path, err)
	}
	for _, w := range a.Warnings() {
		printWarning(log, path, w)
	}

	boPath := artifactPath(base, ObjectExtension)
	if err := os.WriteFile(boPath, belf.Write(obj), 0o644); err != nil {
		return nil, "", fmt.Errorf("emu32: writing %s: %w", boPath, err)
	}

	return obj, boPath, nil
}

func artifactPath(sourceBase, newExt string) string {
	name := strings.TrimSuffix(sourceBase, filepath.Ext(sourceBase)) + newExt
	if buildOutDir != "" {
		return filepath.Join(buildOutDir, name)
	}
	return name
}

func readObjectFile(path string) (*belf.ObjectFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("emu32: reading %s: %w", path, err)
	}
	obj, err := belf.Read(raw)
	if err != nil {
		return nil, fmt.Errorf("emu32: %s: %w", path, err)
	}
	return obj, nil
}

func appendArchiveObjects(objects *[]*belf.ObjectFile, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("emu32: -l %s: %w", path, err)
	}
	archive, err := staticlib.Read(raw)
	if err != nil {
		return fmt.Errorf("emu32: %s: %w", path, err)
	}
	*objects = append(*objects, archive.Objects...)
	return nil
}

// stringifyStream renders a token stream's surviving (non-skipped) token
// values back to text, for the -kp intermediate dump.
func stringifyStream(s *token.Stream) string {
	var b strings.Builder
	for _, t := range s.Tokens() {
		if t.Skip {
			continue
		}
		b.WriteString(t.Value)
	}
	return b.String()
}

func printWarning(log *slog.Logger, path string, w asm.Warning) {
	if buildVerbose {
		fmt.Fprintf(os.Stderr, "%s %s: line %d: %s\n", color.YellowString("warning:"), path, w.Line, w.Message)
	}
	log.Warn("assembler warning", "path", path, "line", w.Line, "message", w.Message)
}
