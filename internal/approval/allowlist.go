package approval

import (
	"path/filepath"
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// splitOperatorsRe breaks a shell command string on the operators that
// start a new command (pipe, sequencing, conditional chaining), so each
// segment's leading word can be checked against the allowlist independently.
var splitOperatorsRe = regexp.MustCompile(`\|\||&&|[|;]`)

// assignmentRe matches a leading VAR=value environment assignment word.
var assignmentRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// wrapperCommands re-invoke the real command as their own argument list; the
// allowlist check must see through one of these to the command being wrapped.
var wrapperCommands = map[string]struct{}{
	"sudo":    {},
	"command": {},
	"time":    {},
	"nohup":   {},
}

// CheckAllowlist tokenizes commandText into its constituent commands (split
// on |, ;, &&, ||) and reports whether every segment's effective command is
// in allowlist. A segment's effective command skips any leading VAR=value
// assignments, skips one leading wrapper command (itself preceded by its own
// assignments, if any), and is reduced to its lowercased basename — so
// "FOO=1 sudo /usr/bin/git pull" matches "git". It returns the first
// disallowed effective command name on failure.
func CheckAllowlist(commandText string, allowlist []string) (ok bool, disallowed string) {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, c := range allowlist {
		allowed[strings.ToLower(c)] = struct{}{}
	}

	for _, segment := range splitOperatorsRe.Split(commandText, -1) {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		fields, err := shell.Fields(segment, nil)
		if err != nil || len(fields) == 0 {
			return false, segment
		}

		idx := skipAssignments(fields, 0)
		if idx < len(fields) {
			if _, isWrapper := wrapperCommands[strings.ToLower(fields[idx])]; isWrapper {
				idx = skipAssignments(fields, idx+1)
			}
		}
		if idx >= len(fields) {
			return false, segment
		}

		cmd := strings.ToLower(filepath.Base(fields[idx]))
		if _, ok := allowed[cmd]; !ok {
			return false, cmd
		}
	}
	return true, ""
}

func skipAssignments(fields []string, idx int) int {
	for idx < len(fields) && assignmentRe.MatchString(fields[idx]) {
		idx++
	}
	return idx
}
