// Package diff compares two revisions of a report draft line by line.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Op string

const (
	OpContext Op = "context"
	OpAdded   Op = "added"
	OpRemoved Op = "removed"
)

type Line struct {
	Op      Op     `json:"op"`
	Text    string `json:"text"`
	OldLine int    `json:"old_line,omitempty"`
	NewLine int    `json:"new_line,omitempty"`
}

// Hunk is a run of changed lines with surrounding context.
type Hunk struct {
	Lines []Line `json:"lines"`
}

// Summary counts changed lines.
type Summary struct {
	Added     int  `json:"added"`
	Removed   int  `json:"removed"`
	Truncated bool `json:"truncated,omitempty"`
}

func (s Summary) Changed() bool {
	return s.Added > 0 || s.Removed > 0
}

const (
	DefaultContext  = 3
	DefaultMaxLines = 8000
)

// Lines returns every line of before and after tagged with its operation.
func Lines(before, after string) []Line {
	dmp := diffmatchpatch.New()
	a, b, table := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), table)

	var out []Line
	oldLine, newLine := 1, 1
	for _, d := range diffs {
		chunk := strings.Split(d.Text, "\n")
		if n := len(chunk); n > 0 && chunk[n-1] == "" {
			chunk = chunk[:n-1]
		}
		for _, text := range chunk {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				out = append(out, Line{Op: OpContext, Text: text, OldLine: oldLine, NewLine: newLine})
				oldLine++
				newLine++
			case diffmatchpatch.DiffDelete:
				out = append(out, Line{Op: OpRemoved, Text: text, OldLine: oldLine})
				oldLine++
			case diffmatchpatch.DiffInsert:
				out = append(out, Line{Op: OpAdded, Text: text, NewLine: newLine})
				newLine++
			}
		}
	}
	return out
}

// Compare groups changes into hunks with context lines around each change.
// Inputs longer than DefaultMaxLines combined are summarized as truncated
// without hunks.
func Compare(before, after string) ([]Hunk, Summary) {
	if lineCount(before)+lineCount(after) > DefaultMaxLines {
		return nil, Summary{Truncated: true}
	}
	lines := Lines(before, after)
	var sum Summary
	for _, l := range lines {
		switch l.Op {
		case OpAdded:
			sum.Added++
		case OpRemoved:
			sum.Removed++
		}
	}
	return group(lines, DefaultContext), sum
}

func group(lines []Line, radius int) []Hunk {
	keep := make([]bool, len(lines))
	for i, l := range lines {
		if l.Op == OpContext {
			continue
		}
		lo, hi := max(0, i-radius), min(len(lines)-1, i+radius)
		for j := lo; j <= hi; j++ {
			keep[j] = true
		}
	}

	var hunks []Hunk
	var cur []Line
	for i, l := range lines {
		if !keep[i] {
			if len(cur) > 0 {
				hunks = append(hunks, Hunk{Lines: cur})
				cur = nil
			}
			continue
		}
		cur = append(cur, l)
	}
	if len(cur) > 0 {
		hunks = append(hunks, Hunk{Lines: cur})
	}
	return hunks
}

// Unified renders hunks in a unified-diff like text form.
func Unified(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		if len(h.Lines) == 0 {
			continue
		}
		first := h.Lines[0]
		fmt.Fprintf(&b, "@@ -%d +%d @@\n", first.OldLine, first.NewLine)
		for _, l := range h.Lines {
			switch l.Op {
			case OpAdded:
				b.WriteString("+")
			case OpRemoved:
				b.WriteString("-")
			default:
				b.WriteString(" ")
			}
			b.WriteString(l.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
