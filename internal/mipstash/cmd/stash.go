package cmd

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"mipstash/internal/listing"
	"mipstash/internal/mipstash/styles"
	"mipstash/internal/stash"
)

type stashOptions struct {
	project   string
	addr      string
	patch     string
	noRestore bool
	json      bool
	pretty    bool
	width     int
}

// StashReport is the outcome of one stash command.
type StashReport struct {
	Image     string          `json:"image"`
	Digest    string          `json:"digest"`
	Address   string          `json:"address"`
	Order     string          `json:"order"`
	State     string          `json:"state"`
	Primary   *SnapshotReport `json:"primary"`
	Companion *SnapshotReport `json:"companion,omitempty"`
	Patch     string          `json:"patch,omitempty"`
	Before    []string        `json:"before"`
	After     []string        `json:"after"`
	RoundTrip bool            `json:"round_trip"`
	Error     string          `json:"error,omitempty"`
}

// SnapshotReport describes one captured instruction.
type SnapshotReport struct {
	MinAddress     string   `json:"min_address"`
	MaxAddress     string   `json:"max_address"`
	Mnemonic       string   `json:"mnemonic"`
	DelaySlots     bool     `json:"delay_slots,omitempty"`
	InDelaySlot    bool     `json:"in_delay_slot,omitempty"`
	FlowOverride   string   `json:"flow_override"`
	FallThrough    string   `json:"fallthrough,omitempty"`
	LengthOverride int      `json:"length_override,omitempty"`
	References     []string `json:"references,omitempty"`
}

var stashCmd = &cobra.Command{
	Use:   "stash",
	Short: "Clear an instruction, optionally patch it, and restore it",
	Long: `Stash captures the instruction at --addr together with its delay-slot
companion, clears it, writes the --patch bytes and re-creates both
instructions with their overrides and non-default references.`,
	Example: `
# Round-trip a branch and its delay slot
mipstash stash -p mipstash.toml --addr 0x08804004

# Patch the immediate of an addiu and show the result as JSON
mipstash stash -p mipstash.toml --addr 0x08804000 --patch c0ffbd27 --json
  `,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := stashOptions{}
		opts.project, _ = cmd.Flags().GetString("project")
		opts.addr, _ = cmd.Flags().GetString("addr")
		opts.patch, _ = cmd.Flags().GetString("patch")
		opts.noRestore, _ = cmd.Flags().GetBool("no-restore")
		opts.json, _ = cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()
		opts.pretty = isTerminal(out)
		opts.width = terminalWidth(out)
		return runStash(out, opts)
	},
}

func init() {
	stashCmd.Flags().StringP("project", "p", "mipstash.toml", "Project file")
	stashCmd.Flags().StringP("addr", "a", "", "Address of the instruction to stash")
	stashCmd.Flags().String("patch", "", "Hex bytes written at the cleared instruction before restoring")
	stashCmd.Flags().Bool("no-restore", false, "Leave the instruction cleared")
	stashCmd.Flags().BoolP("json", "j", false, "Output the report as JSON")
	_ = stashCmd.MarkFlagRequired("addr")
	rootCmd.AddCommand(stashCmd)
}

func runStash(w io.Writer, opts stashOptions) error {
	addr, err := listing.ParseAddress(opts.addr)
	if err != nil {
		return err
	}
	var patch []byte
	if opts.patch != "" {
		patch, err = hex.DecodeString(strings.TrimPrefix(opts.patch, "0x"))
		if err != nil {
			return fmt.Errorf("invalid --patch: %w", err)
		}
	}

	p, prog, err := openProject(opts.project)
	if err != nil {
		return err
	}
	digest, err := fileDigest(p.ImagePath())
	if err != nil {
		return err
	}

	s := stash.New(prog, addr)
	if s.Primary() == nil {
		return fmt.Errorf("no instruction at %s", addr)
	}
	if n := len(patch); n > 0 {
		primary := s.Primary()
		if end := primary.MinAddress().Add(int64(n) - 1); end > primary.MaxAddress() {
			return fmt.Errorf("patch of %d bytes does not fit %s-%s", n, primary.MinAddress(), primary.MaxAddress())
		}
	}
	lo, hi := stashSpan(s)
	rep := StashReport{
		Image:     p.ImagePath(),
		Digest:    digest,
		Address:   addr.String(),
		Order:     s.Order().String(),
		Primary:   snapshotReport(s.Primary()),
		Companion: snapshotReport(s.Companion()),
		Before:    lineStrings(prog.Lines(lo, hi)),
	}

	if err := s.Clear(); err != nil {
		return fmt.Errorf("failed to clear %s: %w", addr, err)
	}
	if len(patch) > 0 {
		if err := prog.Memory().Write(s.Primary().MinAddress(), patch); err != nil {
			return fmt.Errorf("failed to patch %s: %w", s.Primary().MinAddress(), err)
		}
		rep.Patch = hex.EncodeToString(patch)
	}

	var restoreErr error
	if !opts.noRestore {
		restoreErr = s.Restore()
		if restoreErr != nil {
			rep.Error = restoreErr.Error()
		}
	}
	rep.State = s.State().String()
	rep.After = lineStrings(prog.Lines(lo, hi))
	rep.RoundTrip = !opts.noRestore && restoreErr == nil && slices.Equal(rep.Before, rep.After)

	if err := writeStashReport(w, rep, opts); err != nil {
		return err
	}
	if restoreErr != nil {
		return fmt.Errorf("restore failed: %w", restoreErr)
	}
	return nil
}

func stashSpan(s *stash.Stasher) (listing.Address, listing.Address) {
	lo, hi := s.Primary().MinAddress(), s.Primary().MaxAddress()
	if c := s.Companion(); c != nil {
		lo, hi = min(lo, c.MinAddress()), max(hi, c.MaxAddress())
	}
	return lo, hi
}

func snapshotReport(snap *stash.Snapshot) *SnapshotReport {
	if snap == nil {
		return nil
	}
	proto := snap.Prototype()
	r := &SnapshotReport{
		MinAddress:   snap.MinAddress().String(),
		MaxAddress:   snap.MaxAddress().String(),
		Mnemonic:     proto.Mnemonic(),
		DelaySlots:   proto.HasDelaySlots(),
		InDelaySlot:  proto.IsInDelaySlot(),
		FlowOverride: snap.FlowOverride().String(),
	}
	if ft, ok := snap.FallThroughOverride(); ok {
		r.FallThrough = ft.String()
	}
	if n, ok := snap.LengthOverride(); ok {
		r.LengthOverride = n
	}
	for _, ref := range snap.References() {
		r.References = append(r.References, ref.String())
	}
	return r
}

func lineStrings(lines []listing.Line) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, l.String())
	}
	return out
}

func fileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to calculate digest: %v", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(data)), nil
}

func writeStashReport(w io.Writer, rep StashReport, opts stashOptions) error {
	if opts.json {
		jsonData, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %v", err)
		}
		fmt.Fprintln(w, string(jsonData))
		return nil
	}

	md := stashMarkdown(rep)
	if !opts.pretty {
		fmt.Fprint(w, md)
		fmt.Fprintln(w, plainStatus(rep))
		return nil
	}
	r, err := styles.GetMarkdownRenderer(opts.width)
	if err != nil {
		return err
	}
	rendered, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Fprint(w, rendered)
	fmt.Fprintln(w, styles.Status(rep.RoundTrip, statusMessage(rep)))
	return nil
}

func stashMarkdown(rep StashReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Stash %s\n\n", rep.Address)
	fmt.Fprintf(&b, "- **Image**: `%s`\n", rep.Image)
	fmt.Fprintf(&b, "- **Digest**: `%s`\n", rep.Digest)
	fmt.Fprintf(&b, "- **Restore order**: %s\n", rep.Order)
	fmt.Fprintf(&b, "- **State**: %s\n", rep.State)
	if rep.Patch != "" {
		fmt.Fprintf(&b, "- **Patch**: `%s`\n", rep.Patch)
	}
	b.WriteString("\n")

	writeSnapshot(&b, "Primary", rep.Primary)
	writeSnapshot(&b, "Companion", rep.Companion)

	writeCode(&b, "Before", rep.Before)
	writeCode(&b, "After", rep.After)
	if rep.Error != "" {
		fmt.Fprintf(&b, "> %s\n\n", rep.Error)
	}
	return b.String()
}

func writeSnapshot(b *strings.Builder, title string, s *SnapshotReport) {
	if s == nil {
		return
	}
	fmt.Fprintf(b, "## %s %s-%s\n\n", title, s.MinAddress, s.MaxAddress)
	fmt.Fprintf(b, "- **Mnemonic**: `%s`\n", s.Mnemonic)
	switch {
	case s.DelaySlots:
		b.WriteString("- **Delay slot**: owns one\n")
	case s.InDelaySlot:
		b.WriteString("- **Delay slot**: occupies one\n")
	}
	fmt.Fprintf(b, "- **Flow override**: %s\n", s.FlowOverride)
	if s.FallThrough != "" {
		fmt.Fprintf(b, "- **Fallthrough override**: %s\n", s.FallThrough)
	}
	if s.LengthOverride != 0 {
		fmt.Fprintf(b, "- **Length override**: %d\n", s.LengthOverride)
	}
	if len(s.References) > 0 {
		b.WriteString("- **References**:\n")
		for _, ref := range s.References {
			fmt.Fprintf(b, "  - `%s`\n", ref)
		}
	}
	b.WriteString("\n")
}

func writeCode(b *strings.Builder, title string, lines []string) {
	fmt.Fprintf(b, "## %s\n\n```asm\n", title)
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("```\n\n")
}

func statusMessage(rep StashReport) string {
	switch {
	case rep.Error != "":
		return "restore failed at " + rep.Address
	case rep.State == stash.StateCleared.String():
		return "left " + rep.Address + " cleared"
	case rep.RoundTrip:
		return "restored " + rep.Address + ", listing unchanged"
	default:
		return "restored " + rep.Address + ", listing changed"
	}
}

func plainStatus(rep StashReport) string {
	if rep.RoundTrip {
		return "ok: " + statusMessage(rep)
	}
	return "note: " + statusMessage(rep)
}
