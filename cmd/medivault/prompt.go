package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
	"golang.org/x/term"
)

// errAborted is returned when the user ends input (Ctrl-C or Ctrl-D).
var errAborted = errors.New("aborted")

type prompter interface {
	Prompt(label string) (string, error)
	Password(label string) (string, error)
	Close() error
}

// newPrompter uses liner for line editing and history on a terminal and a
// plain line scanner otherwise.
func newPrompter(in *os.File, out io.Writer) prompter {
	if term.IsTerminal(int(in.Fd())) {
		line := liner.NewLiner()
		line.SetCtrlCAborts(true)
		return &linerPrompter{line: line}
	}
	return newScanPrompter(in, out)
}

type linerPrompter struct {
	line *liner.State
}

func (p *linerPrompter) Prompt(label string) (string, error) {
	text, err := p.line.Prompt(label)
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", errAborted
	}
	if err != nil {
		return "", err
	}
	if text != "" {
		p.line.AppendHistory(text)
	}
	return text, nil
}

func (p *linerPrompter) Password(label string) (string, error) {
	text, err := p.line.PasswordPrompt(label)
	if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
		return "", errAborted
	}
	return text, err
}

func (p *linerPrompter) Close() error {
	return p.line.Close()
}

type scanPrompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func newScanPrompter(in io.Reader, out io.Writer) *scanPrompter {
	return &scanPrompter{scanner: bufio.NewScanner(in), out: out}
}

func (p *scanPrompter) Prompt(label string) (string, error) {
	fmt.Fprint(p.out, label)
	if !p.scanner.Scan() {
		if err := p.scanner.Err(); err != nil {
			return "", err
		}
		return "", errAborted
	}
	return p.scanner.Text(), nil
}

func (p *scanPrompter) Password(label string) (string, error) {
	return p.Prompt(label)
}

func (p *scanPrompter) Close() error { return nil }
