package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

// PrettyLogger prints styled, user-facing CLI output. Structured logs go
// through NewLogger instead.
type PrettyLogger struct {
	writer io.Writer
	styles PrettyStyles
}

// PrettyStyles holds the lipgloss styles of CLI output.
type PrettyStyles struct {
	Success   lipgloss.Style
	Info      lipgloss.Style
	Key       lipgloss.Style
	Value     lipgloss.Style
	Timestamp lipgloss.Style
	Sender    lipgloss.Style
}

// DefaultPrettyStyles returns the mercure palette.
func DefaultPrettyStyles() PrettyStyles {
	return PrettyStyles{
		Success:   lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Info:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		Key:       lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		Value:     lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		Timestamp: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		Sender:    lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
	}
}

// NewPrettyLogger writes to stdout with the default palette.
func NewPrettyLogger() *PrettyLogger {
	return &PrettyLogger{writer: os.Stdout, styles: DefaultPrettyStyles()}
}

// WithWriter redirects output, e.g. to a command's configured stdout.
func (p *PrettyLogger) WithWriter(w io.Writer) *PrettyLogger {
	p.writer = w
	return p
}

// Success prints a confirmation line.
func (p *PrettyLogger) Success(message string) {
	fmt.Fprintln(p.writer, p.styles.Success.Render("✓ "+message))
}

// InfoPretty prints a status line.
func (p *PrettyLogger) InfoPretty(message string) {
	fmt.Fprintln(p.writer, p.styles.Info.Render(message))
}

// Field prints "key: value".
func (p *PrettyLogger) Field(key string, value interface{}) {
	fmt.Fprintf(p.writer, "%s: %s\n", p.styles.Key.Render(key), p.styles.Value.Render(fmt.Sprint(value)))
}

// Message prints one chat line. An empty timestamp is omitted.
func (p *PrettyLogger) Message(timestamp, sender, content string) {
	if timestamp != "" {
		fmt.Fprintf(p.writer, "%s ", p.styles.Timestamp.Render(timestamp))
	}
	fmt.Fprintf(p.writer, "%s %s\n", p.styles.Sender.Render(sender), content)
}
