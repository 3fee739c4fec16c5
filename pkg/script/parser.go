package script

import (
	"fmt"
	"regexp"
	"strings"
)

// MalformedScriptError reports a dialogue response that did not contain two
// distinct speakers.
type MalformedScriptError struct {
	DistinctLabels int
}

func (e *MalformedScriptError) Error() string {
	return fmt.Sprintf("malformed dialogue script: %d distinct speaker labels, need 2", e.DistinctLabels)
}

var dialogueLineRe = regexp.MustCompile(`(?i)^(Speaker\s*[12]|Alex|Jordan|A|B)\s*:\s*(.+)$`)

// ParseDialogue scans an LLM response line by line. Labeled lines become
// utterances with canonical speaker slots; unmatched non-empty lines are
// continuations of the previous utterance, or dropped when none exists yet.
func ParseDialogue(raw string) ([]Line, error) {
	var lines []Line
	seen := make(map[int]bool)

	for line := range strings.SplitSeq(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		m := dialogueLineRe.FindStringSubmatch(line)
		if m == nil {
			if len(lines) > 0 {
				lines[len(lines)-1].Text += " " + line
			}
			continue
		}

		speaker := normalizeLabel(m[1])
		seen[speaker] = true
		lines = append(lines, Line{Speaker: speaker, Text: strings.TrimSpace(m[2])})
	}

	if len(seen) < 2 {
		return nil, &MalformedScriptError{DistinctLabels: len(seen)}
	}

	return lines, nil
}

func normalizeLabel(label string) int {
	switch strings.ToLower(strings.Join(strings.Fields(label), " ")) {
	case "speaker 1", "speaker1", "alex", "a", "speaker a":
		return 1
	default:
		return 2
	}
}
