package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/wayfinder/api/schemas"
	"github.com/xkilldash9x/wayfinder/internal/agent"
)

const gatePrompt = "Continue? (Y/n or number to skip) > "

// promptGate asks the operator on stdin before every step. An answer starting
// with "n" declines, a number N skips the next N prompts, and anything else
// continues.
type promptGate struct {
	in   io.Reader
	out  io.Writer
	skip int

	startOnce sync.Once
	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
}

func newPromptGate(in io.Reader, out io.Writer) *promptGate {
	return &promptGate{
		in:    in,
		out:   out,
		lines: make(chan string),
		done:  make(chan struct{}),
	}
}

// start launches the reader on first use so stdin is untouched when no
// prompt is ever shown.
func (g *promptGate) start() {
	go func() {
		defer close(g.lines)
		scanner := bufio.NewScanner(g.in)
		for scanner.Scan() {
			select {
			case g.lines <- scanner.Text():
			case <-g.done:
				return
			}
		}
	}()
}

// Close lets the reader exit once it returns from its current read.
func (g *promptGate) Close() {
	g.closeOnce.Do(func() { close(g.done) })
}

func (g *promptGate) Continue(ctx context.Context, entry schemas.HistoryEntry) (bool, error) {
	if g.skip > 0 {
		g.skip--
		return true, nil
	}
	g.startOnce.Do(g.start)

	fmt.Fprintf(g.out, "%s\n", agent.EntryLine(entry))
	fmt.Fprint(g.out, gatePrompt)

	var line string
	var ok bool
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok = <-g.lines:
	}
	if !ok {
		return false, io.EOF
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if strings.HasPrefix(answer, "n") {
		return false, nil
	}
	if n, err := strconv.Atoi(answer); err == nil && n > 0 {
		g.skip = n
	}
	return true, nil
}
