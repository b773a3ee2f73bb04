package cmd

import (
	"fmt"
	"io"
	"math"

	"github.com/ianlancetaylor/demangle"
	"github.com/spf13/cobra"

	"mipstash/internal/listing"
	"mipstash/internal/ui/colorize"
)

type listingOptions struct {
	project string
	from    string
	to      string
	color   bool
}

var listingCmd = &cobra.Command{
	Use:   "listing",
	Short: "Print the disassembly listing of a project",
	Example: `
# Whole listing
mipstash listing -p mipstash.toml

# Browse interactively; x stashes the selected instruction, u restores it
mipstash listing -p mipstash.toml --tui

# A range, without colors
MIPSTASH_NO_COLOR=1 mipstash listing -p mipstash.toml --from 0x08804000 --to 0x08804020
  `,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := listingOptions{}
		opts.project, _ = cmd.Flags().GetString("project")
		if tui, _ := cmd.Flags().GetBool("tui"); tui {
			return runListingTUI(cmd.Context(), opts.project)
		}
		opts.from, _ = cmd.Flags().GetString("from")
		opts.to, _ = cmd.Flags().GetString("to")
		out := cmd.OutOrStdout()
		opts.color = isTerminal(out) && !colorize.Disabled()
		return runListing(out, opts)
	},
}

func init() {
	listingCmd.Flags().StringP("project", "p", "mipstash.toml", "Project file")
	listingCmd.Flags().String("from", "", "First address to print")
	listingCmd.Flags().String("to", "", "Last address to print")
	listingCmd.Flags().BoolP("tui", "t", false, "Browse the listing interactively and stash instructions")
	rootCmd.AddCommand(listingCmd)
}

func runListing(w io.Writer, opts listingOptions) error {
	_, prog, err := openProject(opts.project)
	if err != nil {
		return err
	}
	start, end, err := parseRange(opts.from, opts.to)
	if err != nil {
		return err
	}
	for _, l := range prog.Lines(start, end) {
		if l.Label != "" {
			l.Label = demangle.Filter(l.Label)
		}
		if opts.color {
			fmt.Fprintln(w, colorize.Line(l))
		} else {
			fmt.Fprintln(w, l.String())
		}
	}
	return nil
}

func parseRange(from, to string) (listing.Address, listing.Address, error) {
	start, end := listing.Address(0), listing.Address(math.MaxUint64)
	var err error
	if from != "" {
		if start, err = listing.ParseAddress(from); err != nil {
			return 0, 0, err
		}
	}
	if to != "" {
		if end, err = listing.ParseAddress(to); err != nil {
			return 0, 0, err
		}
	}
	if end < start {
		return 0, 0, fmt.Errorf("--to %s is below --from %s", end, start)
	}
	return start, end, nil
}
