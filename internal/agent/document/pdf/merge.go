package pdf

import (
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// LineGap is the vertical distance that starts a new line.
	LineGap = 2.0
	// WordGap is the horizontal gap that separates two words.
	WordGap = 1.5
)

// noSpaceBefore lists characters that attach to the preceding word.
const noSpaceBefore = ",.;:!?)]}%»"

// TextRun is a piece of text placed on the page. Y grows downwards.
type TextRun struct {
	X    float64
	Y    float64
	EndX float64
	Text string
}

// SortRuns orders runs top to bottom, then left to right.
func SortRuns(runs []TextRun) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].Y != runs[j].Y {
			return runs[i].Y < runs[j].Y
		}
		return runs[i].X < runs[j].X
	})
}

// MergeRuns joins sorted runs into page text, inserting newlines between
// lines and single spaces between words. Runs without text still move the
// pen and may emit a separator.
func MergeRuns(runs []TextRun) string {
	var sb strings.Builder
	lastY, lastEndX := math.NaN(), math.NaN()
	var last rune

	for _, run := range runs {
		newLine := !math.IsNaN(lastY) && math.Abs(run.Y-lastY) > LineGap
		if newLine && last != '\n' {
			sb.WriteByte('\n')
			last = '\n'
		} else if !math.IsNaN(lastEndX) && run.X-lastEndX > WordGap && !unicode.IsSpace(last) && !attachesLeft(run.Text) {
			sb.WriteByte(' ')
			last = ' '
		}

		if run.Text != "" {
			sb.WriteString(run.Text)
			last, _ = utf8.DecodeLastRuneInString(run.Text)
		}
		lastY = run.Y
		lastEndX = math.Max(run.EndX, run.X)
	}
	return sb.String()
}

func attachesLeft(text string) bool {
	r, _ := utf8.DecodeRuneInString(text)
	return strings.ContainsRune(noSpaceBefore, r)
}
