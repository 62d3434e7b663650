package checkpoint

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestBuildRecoveryPrompt(t *testing.T) {
	cp := &Checkpoint{
		Description:      "index the repository",
		Query:            "index all Go files under src/",
		WorkingDir:       "/work/project",
		TurnNumber:       12,
		Progress:         75,
		LastCheckpointAt: time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC),
		OutputLog:        []string{"scanned 40 files", "parsed 38 files"},
	}

	prompt := BuildRecoveryPrompt(cp)

	for _, want := range []string{
		"interrupted",
		"## Original Task",
		"index the repository",
		"index all Go files under src/",
		"/work/project",
		"## Progress at Interruption",
		"Turn number: 12",
		"Progress: 75%",
		"## Last Output (2 lines)",
		"scanned 40 files",
		"parsed 38 files",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\n%s", want, prompt)
		}
	}
}

func TestBuildRecoveryPromptTruncatesOutput(t *testing.T) {
	var log []string
	for i := 0; i < 30; i++ {
		log = append(log, fmt.Sprintf("line %d", i))
	}
	cp := &Checkpoint{Description: "job", OutputLog: log}

	prompt := BuildRecoveryPrompt(cp)

	if !strings.Contains(prompt, "## Last Output (10 lines)") {
		t.Errorf("expected 10-line tail header\n%s", prompt)
	}
	if strings.Contains(prompt, "line 19\n") {
		t.Error("older output line leaked into the tail")
	}
	if !strings.Contains(prompt, "line 20\n") || !strings.Contains(prompt, "line 29\n") {
		t.Error("tail lines missing")
	}
}

func TestBuildRecoveryPromptSparseCheckpoint(t *testing.T) {
	prompt := BuildRecoveryPrompt(&Checkpoint{})

	if !strings.Contains(prompt, "## Original Task") {
		t.Error("missing task section")
	}
	if strings.Contains(prompt, "## Last Output") {
		t.Error("empty output log should omit the output section")
	}
	if strings.Contains(prompt, "Last checkpoint:") {
		t.Error("zero timestamp should be omitted")
	}
}
