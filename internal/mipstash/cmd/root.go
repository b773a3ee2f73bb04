package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"mipstash/internal/listing"
	"mipstash/internal/logging"
	"mipstash/internal/mipstash/log"
	"mipstash/internal/project"
)

func init() {
	rootCmd.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
}

var rootCmd = &cobra.Command{
	Use:   "mipstash",
	Short: "Stash and restore instructions in a disassembly listing",
	Long: `Mipstash loads a raw or ELF image described by a project file, disassembles it
and lets you clear an instruction, patch its bytes and re-create it with its
overrides and references. Delay-slot pairs are restored in the right order.`,
	Example: `
# Show the listing of a project
mipstash listing -p mipstash.toml

# Stash a branch, patch it and restore
mipstash stash -p mipstash.toml --addr 0x08804004 --patch 40102008
  `,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := ResolveCwd(cmd); err != nil {
			return err
		}
		// The TUI owns the terminal, so its logs go to a file it can tail.
		if tui, _ := cmd.Flags().GetBool("tui"); tui {
			os.Setenv(logging.EnvToFile, "1")
		}
		debug, _ := cmd.Flags().GetBool("debug")
		log.Setup(debug)
		return nil
	},
}

func Execute() {
	defer log.Close()

	// fang renders help and errors for humans; piped output gets plain cobra.
	if !term.IsTerminal(os.Stdout.Fd()) {
		if err := rootCmd.Execute(); err != nil {
			os.Exit(1)
		}
		return
	}
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		err := os.Chdir(cwd)
		if err != nil {
			return "", fmt.Errorf("failed to change directory: %v", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %v", err)
	}
	return cwd, nil
}

// openProject loads the project file and builds its listing.
func openProject(path string) (*project.Project, *listing.Program, error) {
	p, err := project.Load(path)
	if err != nil {
		return nil, nil, err
	}
	prog, err := p.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", p.ImagePath(), err)
	}
	return p, prog, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

func terminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(f.Fd()); err == nil && width > 0 {
			return width
		}
	}
	return 100
}
