package checkpoint

import (
	"fmt"
	"strings"
)

// recoveryOutputTail is how many trailing output lines the briefing embeds.
const recoveryOutputTail = 10

// BuildRecoveryPrompt synthesizes the briefing a replacement task receives
// when restart-strategy work is recovered after a crash. Pure function of
// the checkpoint.
func BuildRecoveryPrompt(cp *Checkpoint) string {
	var b strings.Builder

	b.WriteString("A previous run of this task was interrupted by a runtime restart.\n")
	b.WriteString("You are a fresh agent taking over. Assess the state below and continue the work; ")
	b.WriteString("if the state cannot be determined reliably, restart the task cleanly.\n")

	b.WriteString("\n## Original Task\n")
	if cp.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", cp.Description)
	}
	if cp.Query != "" {
		fmt.Fprintf(&b, "Request: %s\n", cp.Query)
	}
	if cp.WorkingDir != "" {
		fmt.Fprintf(&b, "Working directory: %s\n", cp.WorkingDir)
	}

	b.WriteString("\n## Progress at Interruption\n")
	fmt.Fprintf(&b, "Turn number: %d\n", cp.TurnNumber)
	fmt.Fprintf(&b, "Progress: %d%%\n", cp.Progress)
	if !cp.LastCheckpointAt.IsZero() {
		fmt.Fprintf(&b, "Last checkpoint: %s\n", cp.LastCheckpointAt.Format("2006-01-02 15:04:05 MST"))
	}

	if len(cp.OutputLog) > 0 {
		tail := cp.OutputLog
		if len(tail) > recoveryOutputTail {
			tail = tail[len(tail)-recoveryOutputTail:]
		}
		fmt.Fprintf(&b, "\n## Last Output (%d lines)\n", len(tail))
		for _, line := range tail {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return b.String()
}
