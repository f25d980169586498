package tui

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffLine represents a single line in the diff output
type DiffLine struct {
	LineNum1 int    // Line number in the frozen copy (0 if added)
	LineNum2 int    // Line number in the live copy (0 if deleted)
	Type     rune   // '+' added, '-' deleted, ' ' unchanged
	Content  string // Line content
}

// FileDiffResult contains the line-by-line diff between the frozen and
// live versions of a tracked file
type FileDiffResult struct {
	Path     string
	Lines    []DiffLine
	IsBinary bool
	Error    string
}

// ComputeFileDiff compares the frozen and live contents of a file and
// returns a line diff. Identical contents produce no lines.
func ComputeFileDiff(path, frozen, live string) *FileDiffResult {
	result := &FileDiffResult{Path: path}

	if IsBinaryContent(frozen) || IsBinaryContent(live) {
		result.IsBinary = true
		return result
	}
	if frozen == live {
		return result
	}

	// Line-mode diff: map lines to runes, diff the rune strings, then
	// expand back so each diff chunk is a run of whole lines.
	dmp := diffmatchpatch.New()
	f, l, lineArray := dmp.DiffLinesToChars(frozen, live)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(f, l, false), lineArray)

	ln1, ln2 := 0, 0
	for _, d := range diffs {
		for _, content := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				ln1++
				result.Lines = append(result.Lines, DiffLine{
					LineNum1: ln1,
					Type:     '-',
					Content:  content,
				})
			case diffmatchpatch.DiffInsert:
				ln2++
				result.Lines = append(result.Lines, DiffLine{
					LineNum2: ln2,
					Type:     '+',
					Content:  content,
				})
			default:
				ln1++
				ln2++
				result.Lines = append(result.Lines, DiffLine{
					LineNum1: ln1,
					LineNum2: ln2,
					Type:     ' ',
					Content:  content,
				})
			}
		}
	}

	return result
}

// splitLines splits a diff chunk into lines, dropping the empty remainder
// after a trailing newline.
func splitLines(chunk string) []string {
	lines := strings.Split(chunk, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// IsBinaryContent checks if content appears to be binary
func IsBinaryContent(content string) bool {
	if len(content) == 0 {
		return false
	}
	// Check first 8000 bytes for null bytes or invalid UTF-8
	checkLen := len(content)
	if checkLen > 8000 {
		checkLen = 8000
	}
	sample := content[:checkLen]

	// Check for null bytes (common in binary files)
	if strings.Contains(sample, "\x00") {
		return true
	}

	// Check if it's valid UTF-8
	if !utf8.ValidString(sample) {
		return true
	}

	return false
}
