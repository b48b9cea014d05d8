// Package pytest reads the outcome of a test session from a pytest log.
package pytest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"applet-tester/internal/domain/model"
)

var (
	summaryLine = regexp.MustCompile(`^=*\s*(.+?)\s+in\s+[\d.]+s(?:\s*\([^)]*\))?\s*=*$`)
	countItem   = regexp.MustCompile(`^(\d+) (passed|failed|errors?|skipped|xfailed|xpassed|warnings?|deselected|rerun)$`)
	section     = regexp.MustCompile(`^=+ (FAILURES|ERRORS) =+$`)
)

// Parse scans a pytest log and returns the last summary line's counts.
func Parse(r io.Reader) (model.TestSummary, error) {
	var summary model.TestSummary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if m := section.FindStringSubmatch(line); m != nil {
			if m[1] == "FAILURES" {
				summary.FailuresSection = true
			} else {
				summary.ErrorsSection = true
			}
			continue
		}
		if parsed, ok := parseSummary(line); ok {
			parsed.FailuresSection = summary.FailuresSection
			parsed.ErrorsSection = summary.ErrorsSection
			summary = parsed
		}
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("failed to read pytest log: %w", err)
	}
	return summary, nil
}

// ParseFile parses the pytest log at path.
func ParseFile(path string) (model.TestSummary, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.TestSummary{}, fmt.Errorf("failed to open pytest log %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

func parseSummary(line string) (model.TestSummary, bool) {
	m := summaryLine.FindStringSubmatch(line)
	if m == nil {
		return model.TestSummary{}, false
	}
	body := m[1]
	summary := model.TestSummary{Line: strings.Trim(line, "= ")}
	if body == "no tests ran" {
		summary.NoTestsRan = true
		return summary, true
	}

	for _, item := range strings.Split(body, ", ") {
		c := countItem.FindStringSubmatch(item)
		if c == nil {
			return model.TestSummary{}, false
		}
		n, _ := strconv.Atoi(c[1])
		switch c[2] {
		case "passed":
			summary.Passed = n
		case "failed":
			summary.Failed = n
		case "error", "errors":
			summary.Errors = n
		case "skipped":
			summary.Skipped = n
		case "xfailed":
			summary.XFailed = n
		case "xpassed":
			summary.XPassed = n
		case "warning", "warnings":
			summary.Warnings = n
		}
	}
	return summary, true
}
