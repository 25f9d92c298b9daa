package cli

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

// Column widths of the hit table, including padding.
const (
	filenameWidth = 52
	dataWidth     = 112
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// hitTable renders hits as Offset / Filename (inode) / String.
func hitTable(hits []domain.SearchHit) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Offset", "Filename (inode)", "String").
		StyleFunc(func(row, col int) lipgloss.Style {
			style := cellStyle
			if row == table.HeaderRow {
				style = headerStyle
			}
			switch col {
			case 1:
				return style.Width(filenameWidth)
			case 2:
				return style.Width(dataWidth)
			default:
				return style
			}
		})

	for _, h := range hits {
		data := h.Data
		if h.Snippet != "" {
			data = h.Snippet
		}
		t.Row(offsetCell(h), filenameCell(h), data)
	}
	return t.String()
}

// termTable renders the terms with at least one hit.
func termTable(counts domain.ImageTermCounts) (string, bool) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("Search term", "Hits").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	rows := 0
	for _, term := range counts.Terms {
		if n := counts.Counts[term]; n > 0 {
			t.Row(strconv.Quote(term), strconv.Itoa(n))
			rows++
		}
	}
	return t.String(), rows > 0
}

// offsetCell shows the image offset followed by one line per decoder and
// stream offset pair.
func offsetCell(h domain.SearchHit) string {
	lines := []string{strconv.FormatInt(h.Offset, 10)}
	if h.DecodePath != "" {
		parts := strings.Split(h.DecodePath, "-")
		for i := 0; i < len(parts); i += 2 {
			if i+1 < len(parts) {
				lines = append(lines, parts[i]+"-"+parts[i+1])
			} else {
				lines = append(lines, parts[i])
			}
		}
	}
	return strings.Join(lines, "\n")
}

func filenameCell(h domain.SearchHit) string {
	if !h.Allocated {
		return ""
	}
	name := strings.Join(h.FilePaths, "\n")
	inode := "(" + strconv.FormatUint(h.Inode, 10) + ")"
	if name == "" {
		return inode
	}
	return name + " " + inode
}
