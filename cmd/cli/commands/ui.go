package commands

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/huh/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// StatusBox renders a titled box with key-value fields.
//
//	StatusBox("Node", [][2]string{{"ID", "abc123"}, {"Status", "online"}})
func StatusBox(title string, fields [][2]string) string {
	if !isTTY() {
		return statusBoxPlain(title, fields)
	}

	var sb strings.Builder
	sb.WriteString(StyleHeader.Render(title))
	sb.WriteString("\n")
	for _, f := range fields {
		label := StyleLabel.Render(f[0])
		value := StyleValue.Render(f[1])
		sb.WriteString(label + value + "\n")
	}

	return StyleBox.Render(strings.TrimRight(sb.String(), "\n"))
}

func statusBoxPlain(title string, fields [][2]string) string {
	var sb strings.Builder
	sb.WriteString(title + "\n")
	sb.WriteString(strings.Repeat("=", len(title)) + "\n")
	for _, f := range fields {
		sb.WriteString(fmt.Sprintf("%-16s %s\n", f[0]+":", f[1]))
	}
	return sb.String()
}

// RenderTable renders a styled table with headers and rows.
func RenderTable(headers []string, rows [][]string) string {
	if !isTTY() {
		return renderTablePlain(headers, rows)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorDim)).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return StyleTableHeader
			}
			if row%2 == 0 {
				return StyleTableRow
			}
			return StyleTableRowAlt
		}).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

func renderTablePlain(headers []string, rows [][]string) string {
	if len(headers) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var sb strings.Builder
	for i, h := range headers {
		sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], h))
	}
	sb.WriteString("\n")
	for i, w := range widths {
		sb.WriteString(strings.Repeat("-", w))
		if i < len(widths)-1 {
			sb.WriteString("  ")
		}
	}
	sb.WriteString("\n")
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(fmt.Sprintf("%-*s  ", widths[i], cell))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// Success prints a success message with a checkmark.
func Success(msg string) {
	if isTTY() {
		fmt.Println(StyleSuccess.Render("  " + msg))
	} else {
		fmt.Println("[OK] " + msg)
	}
}

// Error prints an error message with an X.
func Error(msg string) {
	if isTTY() {
		fmt.Println(StyleError.Render("  " + msg))
	} else {
		fmt.Println("[ERROR] " + msg)
	}
}

// Warning prints a warning message.
func Warning(msg string) {
	if isTTY() {
		fmt.Println(StyleWarning.Render("  " + msg))
	} else {
		fmt.Println("[WARN] " + msg)
	}
}

// Info prints an informational message.
func Info(msg string) {
	if isTTY() {
		fmt.Println(StyleInfo.Render("  " + msg))
	} else {
		fmt.Println("[INFO] " + msg)
	}
}

// WithSpinner runs a function while showing a spinner with the given message.
// Returns the error from the function.
func WithSpinner(msg string, fn func() error) error {
	if !isTTY() {
		fmt.Printf("%s...\n", msg)
		return fn()
	}

	var fnErr error
	err := spinner.New().
		Title(msg).
		Action(func() {
			fnErr = fn()
		}).
		Run()

	if err != nil {
		return err
	}
	return fnErr
}

// FormatPeerID shortens a peer or node ID for display.
func FormatPeerID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-4:]
}

// FormatHash shortens a content hash for display.
func FormatHash(hash string) string {
	if len(hash) <= 20 {
		return hash
	}
	return hash[:12] + "..." + hash[len(hash)-4:]
}

// SectionHeader renders a bold section title.
func SectionHeader(title string) string {
	if isTTY() {
		return StyleHeader.Render(title)
	}
	return title
}

// KeyValue renders one aligned key-value line.
func KeyValue(key, value string) string {
	if isTTY() {
		return StyleLabel.Render(key) + StyleValue.Render(value)
	}
	return fmt.Sprintf("%-16s %s", key+":", value)
}

// Hint renders a dim usage hint.
func Hint(msg string) string {
	if isTTY() {
		return StyleDim.Render("  " + msg)
	}
	return "  " + msg
}
