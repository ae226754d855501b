package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"dreamie/internal/domain"
	"dreamie/internal/notify"
)

// console answers bot prompts from a terminal. Lines are read on one
// goroutine so a prompt can time out without losing the next answer.
type console struct {
	out   io.Writer
	in    io.Reader
	once  sync.Once
	lines chan string
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: in, out: out}
}

func (c *console) start() {
	c.lines = make(chan string)
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			c.lines <- scanner.Text()
		}
	}()
}

func (c *console) Confirm(ctx context.Context, _ domain.Requester, p notify.Prompt) (string, error) {
	c.once.Do(c.start)
	fmt.Fprintln(c.out, p.Text)
	if len(p.Options) > 0 {
		fmt.Fprintf(c.out, "[%s] ", strings.Join(p.Options, "/"))
	}
	var timeout <-chan time.Time
	if p.Timeout > 0 {
		timer := time.NewTimer(p.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case line, ok := <-c.lines:
		if !ok {
			return "", notify.ErrNoResponse
		}
		return strings.TrimSpace(line), nil
	case <-timeout:
		fmt.Fprintln(c.out)
		return "", notify.ErrNoResponse
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
