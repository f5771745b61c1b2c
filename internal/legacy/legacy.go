// ABOUTME: Reader and writer for the legacy tab-separated conversation list
// ABOUTME: Rows are id<TAB>updated_at<TAB>title with backslash-escaped control characters

package legacy

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// DefaultPath is where the legacy store lived, relative to the working directory.
const DefaultPath = ".zova/conversations.tsv"

// DefaultTitle replaces empty or whitespace-only titles.
const DefaultTitle = "New Conversation"

// Warning reasons for rows that could not be parsed.
const (
	ReasonMissingUpdatedAt = "missing-updated-at"
	ReasonMissingTitle     = "missing-title"
	ReasonInvalidID        = "invalid-id"
	ReasonInvalidUpdatedAt = "invalid-updated-at"
)

// maxLineSize bounds a single row; titles are short but may be pasted text.
const maxLineSize = 1024 * 1024

// Row is one conversation from the legacy file.
type Row struct {
	ID        uint64
	UpdatedAt uint64 // unix seconds
	Title     string
}

// Warning describes a row that was skipped.
type Warning struct {
	Line   int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// Parse reads every row from r. Blank lines are ignored; malformed lines are
// skipped with a warning. Line numbers are 1-based and count blank lines.
// The returned rows are sorted newest first.
func Parse(r io.Reader) ([]Row, []Warning, error) {
	var (
		rows     []Row
		warnings []Warning
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		row, reason := parseRow(text)
		if reason != "" {
			warnings = append(warnings, Warning{Line: line, Reason: reason})
			continue
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading legacy conversations: %w", err)
	}

	SortRows(rows)
	return rows, warnings, nil
}

func parseRow(line string) (Row, string) {
	fields := strings.SplitN(line, "\t", 3)
	switch len(fields) {
	case 1:
		return Row{}, ReasonMissingUpdatedAt
	case 2:
		return Row{}, ReasonMissingTitle
	}

	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return Row{}, ReasonInvalidID
	}
	// 63 bits so the timestamp fits a signed INTEGER column.
	updatedAt, err := strconv.ParseUint(fields[1], 10, 63)
	if err != nil {
		return Row{}, ReasonInvalidUpdatedAt
	}

	title := DecodeTitle(fields[2])
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	return Row{ID: id, UpdatedAt: updatedAt, Title: title}, ""
}

// SortRows orders rows newest first, ties broken by highest id, which is the
// order the legacy store listed them in.
func SortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].UpdatedAt != rows[j].UpdatedAt {
			return rows[i].UpdatedAt > rows[j].UpdatedAt
		}
		return rows[i].ID > rows[j].ID
	})
}

// Write serializes rows in the legacy format, one per line.
func Write(w io.Writer, rows []Row) error {
	bw := bufio.NewWriter(w)
	for _, row := range rows {
		if _, err := fmt.Fprintf(bw, "%d\t%d\t%s\n", row.ID, row.UpdatedAt, EncodeTitle(row.Title)); err != nil {
			return fmt.Errorf("writing legacy row %d: %w", row.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("flushing legacy rows: %w", err)
	}
	return nil
}

// EncodeTitle escapes backslash, newline, tab and carriage return.
func EncodeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DecodeTitle reverses EncodeTitle. Unknown escapes and a trailing backslash
// are kept as written.
func DecodeTitle(encoded string) string {
	var b strings.Builder
	b.Grow(len(encoded))
	escaped := false
	for _, r := range encoded {
		if !escaped {
			if r == '\\' {
				escaped = true
				continue
			}
			b.WriteRune(r)
			continue
		}
		escaped = false
		switch r {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	if escaped {
		b.WriteByte('\\')
	}
	return b.String()
}
