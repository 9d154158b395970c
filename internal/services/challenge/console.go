package challenge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Prompter asks a human at the terminal
type Prompter interface {
	Prompt(ctx context.Context, label string) string
}

// ConsolePrompter reads one line per prompt. Reads that outlive ctx are abandoned; their line
// is picked up by the next prompt.
type ConsolePrompter struct {
	out   io.Writer
	lines chan string
	once  sync.Once
	in    io.Reader
}

// NewConsolePrompter prompts on out and reads from in (stdout/stdin when nil)
func NewConsolePrompter(in io.Reader, out io.Writer) *ConsolePrompter {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &ConsolePrompter{in: in, out: out, lines: make(chan string)}
}

func (p *ConsolePrompter) start() {
	p.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(p.in)
			for scanner.Scan() {
				p.lines <- scanner.Text()
			}
			close(p.lines)
		}()
	})
}

// Prompt prints label and returns the trimmed line, or "" on EOF or cancellation
func (p *ConsolePrompter) Prompt(ctx context.Context, label string) string {
	p.start()
	fmt.Fprint(p.out, label)

	select {
	case line, ok := <-p.lines:
		if !ok {
			return ""
		}
		return strings.TrimSpace(line)
	case <-ctx.Done():
		return ""
	}
}
