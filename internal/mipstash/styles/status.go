package styles

import (
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/charmbracelet/x/exp/charmtone"
)

var (
	Address = lipgloss.NewStyle().Foreground(charmtone.Squid)
	Label   = lipgloss.NewStyle().Foreground(charmtone.Zest).Bold(true)
	Success = lipgloss.NewStyle().Foreground(charmtone.Guac).Bold(true)
	Failure = lipgloss.NewStyle().Foreground(charmtone.Cheeky).Bold(true)
	Muted   = lipgloss.NewStyle().Foreground(charmtone.Charcoal)
)

// Status renders a one-line verdict, e.g. "✓ restored 0x08804004".
func Status(ok bool, msg string) string {
	if ok {
		return Success.Render("✓") + " " + msg
	}
	return Failure.Render("✗") + " " + msg
}
