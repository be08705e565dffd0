package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Prompter reads answers from a terminal or, when input is not a
// terminal, from plain lines of input.
type Prompter struct {
	In  io.Reader
	Out io.Writer

	reader *bufio.Reader
}

// NewPrompter prompts on stderr and reads stdin.
func NewPrompter() *Prompter {
	return &Prompter{In: os.Stdin, Out: os.Stderr}
}

func (p *Prompter) lines() *bufio.Reader {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.In)
	}
	return p.reader
}

// Line prints label and returns the trimmed answer. An empty answer yields
// fallback.
func (p *Prompter) Line(label, fallback string) (string, error) {
	if fallback != "" {
		fmt.Fprintf(p.Out, "%s [%s]: ", label, fallback)
	} else {
		fmt.Fprintf(p.Out, "%s: ", label)
	}
	answer, err := p.lines().ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallback, nil
	}
	return answer, nil
}

// Secret prints label and reads an answer without echo when input is a
// terminal.
func (p *Prompter) Secret(label string) (string, error) {
	fmt.Fprintf(p.Out, "%s: ", label)
	if f, ok := p.In.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(p.Out)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	answer, err := p.lines().ReadString('\n')
	if err != nil && (err != io.EOF || answer == "") {
		return "", err
	}
	return strings.TrimRight(answer, "\r\n"), nil
}
