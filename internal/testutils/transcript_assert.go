//go:build test

package testutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
)

// TestingT is the subset of testing.T the asserters need
type TestingT interface {
	Errorf(format string, args ...interface{})
	Helper()
}

// TranscriptOptions control how console transcripts are normalized before comparison
type TranscriptOptions struct {
	StripANSI          bool `default:"true"`
	TrimTrailingSpaces bool `default:"true"`
	IgnoreEmptyLines   bool `default:"false"`
	EnableColors       bool `default:"false"`
}

type TranscriptOption func(*TranscriptOptions)

func WithStripANSI(strip bool) TranscriptOption {
	return func(o *TranscriptOptions) { o.StripANSI = strip }
}

func WithIgnoreEmptyLines(ignore bool) TranscriptOption {
	return func(o *TranscriptOptions) { o.IgnoreEmptyLines = ignore }
}

func WithDiffColors(enable bool) TranscriptOption {
	return func(o *TranscriptOptions) { o.EnableColors = enable }
}

// TranscriptAsserter compares console output with an expected transcript
// and reports a unified diff on mismatch.
type TranscriptAsserter struct {
	t       TestingT
	options TranscriptOptions
}

func NewTranscriptAsserter(t TestingT, opts ...TranscriptOption) *TranscriptAsserter {
	o := TranscriptOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}
	return &TranscriptAsserter{t: t, options: o}
}

// Assert compares a whole text
func (ta *TranscriptAsserter) Assert(actual, expected string) bool {
	ta.t.Helper()
	if diff := ta.Diff(actual, expected); diff != "" {
		ta.t.Errorf("Transcript mismatch - unified diff:\n%s", diff)
		return false
	}
	return true
}

// AssertLines compares console lines, as recorded by a sink, with a text
func (ta *TranscriptAsserter) AssertLines(actual []string, expected string) bool {
	ta.t.Helper()
	return ta.Assert(strings.Join(actual, "\n"), expected)
}

// Diff returns "" when both texts are equal after normalization
func (ta *TranscriptAsserter) Diff(actual, expected string) string {
	a := ta.normalize(actual)
	e := ta.normalize(expected)
	if a == e {
		return ""
	}

	edits := myers.ComputeEdits("", e, a)
	unified := fmt.Sprint(gotextdiff.ToUnified("expected", "actual", e, edits))
	if !ta.options.EnableColors {
		return unified
	}
	return colorize(unified)
}

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

func (ta *TranscriptAsserter) normalize(text string) string {
	if ta.options.StripANSI {
		text = ansiPattern.ReplaceAllString(text, "")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Trim(text, "\n")

	var out []string
	for _, line := range strings.Split(text, "\n") {
		if ta.options.TrimTrailingSpaces {
			line = strings.TrimRight(line, " \t\r")
		}
		if ta.options.IgnoreEmptyLines && line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func colorize(diff string) string {
	red := color.New(color.FgRed)
	red.EnableColor()
	green := color.New(color.FgGreen)
	green.EnableColor()
	cyan := color.New(color.FgCyan)
	cyan.EnableColor()

	lines := strings.Split(diff, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
		case strings.HasPrefix(line, "@@"):
			lines[i] = cyan.Sprint(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = red.Sprint(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = green.Sprint(line)
		}
	}
	return strings.Join(lines, "\n")
}
