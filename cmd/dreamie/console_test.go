package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"dreamie/internal/domain"
	"dreamie/internal/notify"
)

func TestConsoleReadsAnswersInOrder(t *testing.T) {
	var out bytes.Buffer
	c := newConsole(strings.NewReader("yes\n 3 \n"), &out)
	ctx := context.Background()
	who := domain.Requester{AccountID: "u1"}

	first, err := c.Confirm(ctx, who, notify.Prompt{Text: "Time travel?", Options: []string{"yes", "no"}, Timeout: time.Second})
	if err != nil || first != "yes" {
		t.Fatalf("first answer: %q %v", first, err)
	}
	second, err := c.Confirm(ctx, who, notify.Prompt{Text: "Slot?", Options: []string{"1", "2", "3"}, Timeout: time.Second})
	if err != nil || second != "3" {
		t.Fatalf("second answer: %q %v", second, err)
	}
	if !strings.Contains(out.String(), "[yes/no]") || !strings.Contains(out.String(), "Slot?") {
		t.Fatalf("prompts not written: %q", out.String())
	}

	if _, err := c.Confirm(ctx, who, notify.Prompt{Text: "More?", Timeout: time.Second}); !errors.Is(err, notify.ErrNoResponse) {
		t.Fatalf("expected no response at EOF, got %v", err)
	}
}

func TestConsoleTimesOut(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	c := newConsole(r, io.Discard)
	_, err := c.Confirm(context.Background(), domain.Requester{}, notify.Prompt{Text: "Confirm?", Timeout: 20 * time.Millisecond})
	if !errors.Is(err, notify.ErrNoResponse) {
		t.Fatalf("expected timeout, got %v", err)
	}
}
