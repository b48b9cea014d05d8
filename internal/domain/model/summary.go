package model

import "fmt"

// TestSummary holds the counts parsed from a pytest log
type TestSummary struct {
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errors   int `json:"errors"`
	Skipped  int `json:"skipped"`
	XFailed  int `json:"xfailed"`
	XPassed  int `json:"xpassed"`
	Warnings int `json:"warnings"`

	// Line is the raw summary line, empty when none was found.
	Line string `json:"line,omitempty"`
	// FailuresSection and ErrorsSection record pytest's section headers.
	FailuresSection bool `json:"failures_section"`
	ErrorsSection   bool `json:"errors_section"`
	NoTestsRan      bool `json:"no_tests_ran"`
}

// Found reports whether a summary line was parsed.
func (s TestSummary) Found() bool {
	return s.Line != ""
}

// Total counts every collected test outcome.
func (s TestSummary) Total() int {
	return s.Passed + s.Failed + s.Errors + s.Skipped + s.XFailed + s.XPassed
}

// Success reports whether the log shows at least one test and no failures.
func (s TestSummary) Success() bool {
	if !s.Found() || s.NoTestsRan {
		return false
	}
	if s.FailuresSection || s.ErrorsSection {
		return false
	}
	return s.Failed == 0 && s.Errors == 0 && s.Total() > 0
}

func (s TestSummary) String() string {
	if !s.Found() {
		return "no pytest summary found"
	}
	return fmt.Sprintf("%d passed, %d failed, %d errors, %d skipped", s.Passed, s.Failed, s.Errors, s.Skipped)
}
