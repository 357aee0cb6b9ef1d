// Package parser classifies free-form chat text into a ParsedCommand.
//
// Parse is pure, total, and deterministic: it never blocks, never returns
// an error, and always produces exactly one of the four intents.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/clusterchat/operator/pkg/model"
)

// scaleToPattern matches "scale ... to <N>" and captures the integer.
var scaleToPattern = regexp.MustCompile(`scale.*\bto\s+(\d+)\b`)

// Parse classifies trimmed, case-folded input text into a ParsedCommand.
// Rules are ordered; the first match wins.
func Parse(text string) model.ParsedCommand {
	raw := text
	folded := strings.ToLower(strings.TrimSpace(text))

	if folded == "help" || containsToken(folded, "help") {
		return model.ParsedCommand{Kind: model.KindHelp, RawText: raw}
	}

	if isDryRun(folded) {
		rest := strings.TrimPrefix(folded, "dry run ")
		cmd := model.ParsedCommand{Kind: model.KindDryRun, RawText: raw}
		if action, replicas, hasReplicas, ok := matchScale(rest); ok {
			cmd.Action = action
			cmd.HasAction = true
			cmd.TargetReplicas = replicas
			cmd.HasReplicas = hasReplicas
		} else if matchRestart(rest) {
			cmd.Action = model.ActionRestart
			cmd.HasAction = true
		}
		return cmd
	}

	if action, replicas, hasReplicas, ok := matchScale(folded); ok {
		return model.ParsedCommand{
			Kind:           model.KindExecute,
			Action:         action,
			HasAction:      true,
			TargetReplicas: replicas,
			HasReplicas:    hasReplicas,
			RawText:        raw,
		}
	}

	if matchRestart(folded) {
		return model.ParsedCommand{
			Kind:      model.KindExecute,
			Action:    model.ActionRestart,
			HasAction: true,
			RawText:   raw,
		}
	}

	return model.ParsedCommand{Kind: model.KindRead, RawText: raw}
}

func isDryRun(folded string) bool {
	if strings.HasPrefix(folded, "dry run ") {
		return true
	}
	for _, phrase := range []string{"what happens", "what if", "simulate"} {
		if strings.Contains(folded, phrase) {
			return true
		}
	}
	return false
}

// matchScale reports whether text contains "scale" and matches the
// "scale ... to <N>" pattern. No bounds clamping happens here — that is
// the adapter's job.
func matchScale(text string) (action model.Action, replicas int, hasReplicas bool, ok bool) {
	if !strings.Contains(text, "scale") {
		return "", 0, false, false
	}
	m := scaleToPattern.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return "", 0, false, false
	}
	return model.ActionScale, n, true, true
}

func matchRestart(text string) bool {
	return strings.Contains(text, "restart")
}

// containsToken reports whether token appears as a whole word in text.
func containsToken(text, token string) bool {
	for _, field := range strings.Fields(text) {
		if field == token {
			return true
		}
	}
	return false
}
