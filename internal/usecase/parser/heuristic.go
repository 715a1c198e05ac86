package parser

import (
	"encoding/json"
	"regexp"
	"strings"

	"antai/internal/domain"
)

var (
	spawnNameRe  = regexp.MustCompile(`(?i)(?:agent|teammate)\s+['"]?(\w[\w-]*)['"]?`)
	toolPrefixRe = regexp.MustCompile(`^[A-Z]\w+(?:Tool|Action):`)
	toolNameRe   = regexp.MustCompile(`(?:Tool:|^)(\w+)`)
	taskStatusRe = regexp.MustCompile(`(created|completed|started|failed)`)
	statusRe     = regexp.MustCompile(`(?i)(?:status:)\s*(\w+)`)
)

// parseHeuristic matches plain-text CLI output against known announcement
// patterns. The first matching rule wins; nil means no rule matched.
func parseHeuristic(line string) domain.OutputEvent {
	switch {
	case strings.Contains(line, "Spawning agent") || strings.Contains(line, "Creating teammate"):
		return domain.AgentSpawned{Name: firstGroup(spawnNameRe, line, "unknown")}

	case strings.Contains(line, "Tool:") || toolPrefixRe.MatchString(line):
		input, _ := json.Marshal(line)
		return domain.ToolUse{Tool: firstGroup(toolNameRe, line, "unknown"), Input: input}

	case strings.Contains(line, "Task") &&
		(strings.Contains(line, "created") || strings.Contains(line, "completed") || strings.Contains(line, "started")):
		return domain.TaskActivity{Subject: line, Status: firstGroup(taskStatusRe, line, "")}

	case strings.Contains(line, "Error:") || strings.Contains(line, "error:") || strings.HasPrefix(line, "ERR"):
		return domain.ErrorOutput{Message: line}

	case strings.Contains(line, "Thinking") || strings.Contains(line, "thinking..."):
		return domain.Thinking{Content: line}

	case strings.Contains(line, "Status:") || strings.Contains(line, "status:"):
		if m := statusRe.FindStringSubmatch(line); m != nil {
			return domain.StatusChange{Status: strings.ToLower(m[1])}
		}
	}
	return nil
}

func firstGroup(re *regexp.Regexp, s, fallback string) string {
	if m := re.FindStringSubmatch(s); len(m) > 1 && m[1] != "" {
		return m[1]
	}
	return fallback
}
