package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"caricature/internal/orchestrator"
)

func TestPrintProgressSkipsRepeatedMessages(t *testing.T) {
	var buf bytes.Buffer
	progress := printProgress(&buf)
	progress(orchestrator.Progress{JobID: "j1", Message: orchestrator.MessageQueued})
	progress(orchestrator.Progress{JobID: "j1", Message: orchestrator.MessageGenerating})
	progress(orchestrator.Progress{JobID: "j1", Message: orchestrator.MessageGenerating})

	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Fatalf("printed %d lines:\n%s", got, buf.String())
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	err := printOutcome(&buf, &orchestrator.Result{JobID: "j1", OutputImage: "https://out/1.png", Resumed: true, Balance: 2}, nil)
	if err != nil {
		t.Fatalf("printOutcome: %v", err)
	}
	if !strings.Contains(buf.String(), "completed (resumed): https://out/1.png") || !strings.Contains(buf.String(), "credits left: 2") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	abandoned := &orchestrator.Error{Kind: orchestrator.KindAbandoned, JobID: "j2", Err: context.Canceled}
	if err := printOutcome(&buf, nil, abandoned); err != nil {
		t.Fatalf("abandoned run must not fail the command: %v", err)
	}
	if !strings.Contains(buf.String(), "resume") {
		t.Fatalf("missing resume hint: %q", buf.String())
	}

	failed := &orchestrator.Error{Kind: orchestrator.KindRemoteJobFailure, Message: "render error"}
	if err := printOutcome(&buf, nil, failed); err == nil || !strings.Contains(err.Error(), "render error") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand(&cli{})
	for _, name := range []string{"generate", "resume", "status", "credits", "styles", "migrate", "credentials", "token"} {
		if cmd, _, err := root.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Fatalf("subcommand %q missing: %v", name, err)
		}
	}
}
