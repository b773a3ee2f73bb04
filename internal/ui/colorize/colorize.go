package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	"mipstash/internal/listing"
)

const (
	addrColor    = "\033[38;2;79;79;79m"
	bytesColor   = "\033[38;2;110;110;110m"
	labelColor   = "\033[38;2;255;215;0m"
	commentColor = "\033[38;2;235;194;237m"
	reset        = "\033[0m"
)

// Disabled reports whether MIPSTASH_NO_COLOR turns colorization off.
func Disabled() bool {
	return os.Getenv("MIPSTASH_NO_COLOR") != ""
}

// getAssemblyLexer returns an appropriate assembly lexer with fallbacks
func getAssemblyLexer() chroma.Lexer {
	for _, name := range []string{"gas", "GAS", "armasm", "nasm"} {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getDisasmStyle returns the disassembly style with fallbacks
func getDisasmStyle() *chroma.Style {
	for _, name := range []string{"disasm-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

// Assembly highlights a fragment of assembly text. On any lexer or
// formatter failure the input is returned unchanged.
func Assembly(code string) string {
	if Disabled() {
		return code
	}
	lexer := getAssemblyLexer()
	if lexer == nil {
		return code
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getDisasmStyle(), iterator); err != nil {
		return code
	}
	// Some lexers append a newline to the last token.
	return strings.ReplaceAll(buf.String(), "\n", "")
}

// Line colorizes one listing row with the same column layout as
// listing.Line.String.
func Line(l listing.Line) string {
	if Disabled() {
		return l.String()
	}
	addr := fmt.Sprintf("%08x", uint64(l.Address))
	if l.Label != "" {
		return addrColor + addr + reset + "  " + labelColor + l.Label + ":" + reset
	}

	out := addrColor + fmt.Sprintf("%-10s", addr) + reset + " " +
		bytesColor + fmt.Sprintf("%-8x", l.Bytes) + reset + " "
	code := fmt.Sprintf("%-8s %-30s", l.Mnemonic, l.Operands)
	if len(l.Annotations) == 0 {
		return out + Assembly(strings.TrimRight(code, " "))
	}
	return out + Assembly(code) + " " + commentColor + "; " + strings.Join(l.Annotations, ", ") + reset
}

// StripANSI removes ANSI escape sequences from s.
func StripANSI(s string) string {
	var result strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			result.WriteRune(r)
		}
	}
	return result.String()
}
