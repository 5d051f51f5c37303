package search

import (
	"bufio"
	"bytes"
	"strings"
)

// Prepare reads the curriculum Markdown at path and rewrites it into
// self-contained paragraphs separated by blank lines:
//
//   - headings are not indexed; each paragraph below a heading is prefixed
//     with the heading trail, e.g. "数学 / 勾股定理：..."
//   - table rows become one fact each, cells joined by spaces; the header
//     and separator rows are dropped
//   - list items become one fact each
//
// The output always ends with a single newline.
func Prepare(path string) ([]byte, error) {
	raw, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return prepare(raw)
}

func prepare(raw []byte) ([]byte, error) {
	var (
		out      strings.Builder
		headings [6]string
		para     []string
		table    [][]string
	)
	emit := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		var trail []string
		for _, h := range headings {
			if h != "" {
				trail = append(trail, h)
			}
		}
		if len(trail) > 0 {
			s = strings.Join(trail, " / ") + "：" + s
		}
		out.WriteString(s)
		out.WriteString("\n\n")
	}
	flush := func() {
		if len(para) > 0 {
			emit(strings.Join(para, " "))
			para = nil
		}
		rows := table
		table = nil
		if len(rows) >= 2 && rows[1] == nil {
			rows = rows[2:]
		}
		for _, r := range rows {
			if r != nil {
				emit(strings.Join(r, " "))
			}
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		isRow := len(line) > 1 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
		if !isRow && table != nil {
			flush()
		}
		switch {
		case line == "":
			flush()

		case strings.HasPrefix(line, "#"):
			flush()
			level := min(len(line)-len(strings.TrimLeft(line, "#")), len(headings))
			headings[level-1] = strings.TrimSpace(strings.TrimLeft(line, "#"))
			for i := level; i < len(headings); i++ {
				headings[i] = ""
			}

		case isRow:
			if len(para) > 0 {
				emit(strings.Join(para, " "))
				para = nil
			}
			// separator rows are stored as nil
			table = append(table, cells(line))

		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			flush()
			emit(line[2:])

		default:
			para = append(para, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return []byte(strings.TrimRight(out.String(), "\n") + "\n"), nil
}

// cells splits a table row; a separator row yields nil.
func cells(line string) []string {
	var out []string
	separator := true
	for _, c := range strings.Split(strings.Trim(line, "|"), "|") {
		cell := strings.TrimSpace(c)
		if strings.Trim(cell, ":- ") != "" {
			separator = false
		}
		if cell != "" {
			out = append(out, cell)
		}
	}
	if separator {
		return nil
	}
	return out
}
