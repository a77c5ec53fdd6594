package vcs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ConflictStrategy selects how integration conflicts are handled.
type ConflictStrategy string

// The three conflict strategies.
const (
	// ConflictAuto attempts textual resolution, falling back to manual
	// semantics for blocks it cannot resolve.
	ConflictAuto ConflictStrategy = "auto"
	// ConflictManual leaves the tree conflicted and returns to the caller.
	ConflictManual ConflictStrategy = "manual"
	// ConflictFail aborts the merge or cherry-pick and returns the
	// conflict record.
	ConflictFail ConflictStrategy = "fail"
)

// Valid reports whether the strategy is one of the known modes.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case ConflictAuto, ConflictManual, ConflictFail:
		return true
	}
	return false
}

// Resolution records one applied conflict resolution.
type Resolution struct {
	File string
	Rule string
}

func (r Resolution) String() string {
	return fmt.Sprintf("%s: %s", r.File, r.Rule)
}

const (
	markerOurs   = "<<<<<<<"
	markerSplit  = "======="
	markerTheirs = ">>>>>>>"
)

var (
	importLinePattern = regexp.MustCompile(`^\s*(import\b|export\b|from\s+\S+\s+import\b|\w+\s+"[^"]+"|"[^"]+")`)
	jsonDepPattern    = regexp.MustCompile(`^\s*"[^"]+"\s*:\s*"[^"]*",?\s*$`)
)

// ResolveMarkers resolves conflict markers in content using the fixed
// auto-resolution precedence. incomingBranch is the branch whose commit is
// being applied; namespacePrefix identifies branches this tool owns. It
// returns the rewritten content, one rule name per resolved block, and
// whether every block was resolved.
func ResolveMarkers(content, incomingBranch, namespacePrefix string) (string, []string, bool) {
	lines := strings.Split(content, "\n")
	var out []string
	var rules []string
	allResolved := true

	for i := 0; i < len(lines); i++ {
		if !strings.HasPrefix(lines[i], markerOurs) {
			out = append(out, lines[i])
			continue
		}

		ours, theirs, next, ok := parseConflictBlock(lines, i)
		if !ok {
			// Malformed markers; pass through untouched.
			out = append(out, lines[i])
			allResolved = false
			continue
		}

		resolved, rule, ok := resolveSides(ours, theirs, incomingBranch, namespacePrefix)
		if !ok {
			allResolved = false
			for j := i; j < next; j++ {
				out = append(out, lines[j])
			}
		} else {
			out = append(out, resolved...)
			rules = append(rules, rule)
		}
		i = next - 1
	}

	return strings.Join(out, "\n"), rules, allResolved
}

// parseConflictBlock extracts the two sides of the block starting at
// lines[start]. Returns the index just past the closing marker.
func parseConflictBlock(lines []string, start int) (ours, theirs []string, next int, ok bool) {
	i := start + 1
	for ; i < len(lines) && !strings.HasPrefix(lines[i], markerSplit); i++ {
		ours = append(ours, lines[i])
	}
	if i >= len(lines) {
		return nil, nil, start + 1, false
	}
	i++
	for ; i < len(lines) && !strings.HasPrefix(lines[i], markerTheirs); i++ {
		theirs = append(theirs, lines[i])
	}
	if i >= len(lines) {
		return nil, nil, start + 1, false
	}
	return ours, theirs, i + 1, true
}

// resolveSides applies the resolution precedence to one conflict block.
func resolveSides(ours, theirs []string, incomingBranch, namespacePrefix string) ([]string, string, bool) {
	oursText := strings.TrimSpace(strings.Join(ours, "\n"))
	theirsText := strings.TrimSpace(strings.Join(theirs, "\n"))

	if normalizeWhitespace(ours) == normalizeWhitespace(theirs) {
		if oursText != "" {
			return ours, "whitespace-only", true
		}
		return theirs, "whitespace-only", true
	}

	if isImportBlock(ours) && isImportBlock(theirs) {
		return unionLines(ours, theirs), "import-union", true
	}

	if isDependencyMap(ours) && isDependencyMap(theirs) {
		return mergeDependencyLines(ours, theirs), "dependency-merge", true
	}

	if oursText == "" {
		return theirs, "keep-nonempty", true
	}
	if theirsText == "" {
		return ours, "keep-nonempty", true
	}

	if namespacePrefix != "" && strings.HasPrefix(incomingBranch, namespacePrefix) {
		return theirs, "prefer-incoming", true
	}
	return ours, "prefer-trunk", true
}

// normalizeWhitespace collapses each line's whitespace and drops blanks so
// sides that differ only in formatting compare equal.
func normalizeWhitespace(lines []string) string {
	var parts []string
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			parts = append(parts, strings.Join(fields, " "))
		}
	}
	return strings.Join(parts, "\n")
}

func isImportBlock(lines []string) bool {
	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty++
		if !importLinePattern.MatchString(line) {
			return false
		}
	}
	return nonEmpty > 0
}

func isDependencyMap(lines []string) bool {
	nonEmpty := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty++
		if !jsonDepPattern.MatchString(line) {
			return false
		}
	}
	return nonEmpty > 0
}

// unionLines keeps ours in order, then appends theirs lines not already
// present, comparing trimmed text.
func unionLines(ours, theirs []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range ours {
		if strings.TrimSpace(line) == "" {
			continue
		}
		seen[strings.TrimSpace(line)] = true
		out = append(out, line)
	}
	for _, line := range theirs {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || seen[trimmed] {
			continue
		}
		seen[trimmed] = true
		out = append(out, line)
	}
	return out
}

// mergeDependencyLines merges two JSON dependency fragments by key, ours
// winning on duplicates, normalizing trailing commas so the fragment stays
// syntactically plausible in place.
func mergeDependencyLines(ours, theirs []string) []string {
	depKey := func(line string) string {
		trimmed := strings.TrimSpace(line)
		if idx := strings.Index(trimmed, ":"); idx > 0 {
			return strings.Trim(trimmed[:idx], `" `)
		}
		return trimmed
	}

	seen := make(map[string]bool)
	var merged []string
	for _, line := range append(append([]string{}, ours...), theirs...) {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		key := depKey(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, strings.TrimSuffix(strings.TrimRight(line, " \t"), ","))
	}
	for i := range merged {
		if i < len(merged)-1 {
			merged[i] += ","
		}
	}
	return merged
}

// ResolveConflictedFiles runs marker resolution over each conflicted file
// in workdir, writing resolved content back in place. It returns the
// applied resolutions and the files that could not be fully resolved.
func ResolveConflictedFiles(workdir string, files []string, incomingBranch, namespacePrefix string) ([]Resolution, []string, error) {
	var resolutions []Resolution
	var unresolved []string

	for _, file := range files {
		path := filepath.Join(workdir, file)
		raw, err := os.ReadFile(path)
		if err != nil {
			return resolutions, unresolved, fmt.Errorf("failed to read conflicted file %s: %w", file, err)
		}

		resolved, rules, ok := ResolveMarkers(string(raw), incomingBranch, namespacePrefix)
		if !ok {
			unresolved = append(unresolved, file)
			continue
		}
		if err := os.WriteFile(path, []byte(resolved), 0644); err != nil {
			return resolutions, unresolved, fmt.Errorf("failed to write resolved file %s: %w", file, err)
		}
		for _, rule := range rules {
			resolutions = append(resolutions, Resolution{File: file, Rule: rule})
		}
	}
	return resolutions, unresolved, nil
}
