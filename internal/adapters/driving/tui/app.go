package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/custodia-labs/dfdewey/internal/core/domain"
)

const (
	defaultLimit = 100
	// Rows of chrome around the hit list: header, input box, detail box, status.
	chromeHeight = 16
	minListRows  = 3
)

type focusArea int

const (
	focusInput focusArea = iota
	focusResults
)

// row is one hit together with the image it was found in.
type row struct {
	image domain.Image
	hit   domain.SearchHit
}

// searchDoneMsg carries the result of a query.
type searchDoneMsg struct {
	query   string
	results []domain.ImageResults
	err     error
}

// imagesLoadedMsg carries the images of the case.
type imagesLoadedMsg struct {
	images []domain.Image
	err    error
}

// App is the root bubbletea model. It holds a query box and a hit browser
// with a detail pane for the selected hit.
type App struct {
	ctx     context.Context
	ports   *Ports
	caseID  string
	imageID string

	styles *Styles
	keys   *KeyMap
	input  textinput.Model

	focus     focusArea
	query     string
	searching bool
	rows      []row
	total     int
	selected  int
	offset    int
	images    []domain.Image
	err       error
	width     int
	height    int
}

// NewApp creates the model for one case. An empty imageID searches every
// image of the case.
func NewApp(ctx context.Context, ports *Ports, caseID, imageID string) (*App, error) {
	if err := ports.Validate(); err != nil {
		return nil, err
	}
	if caseID == "" {
		return nil, ErrMissingCase
	}

	input := textinput.New()
	input.Placeholder = "search strings…"
	input.Prompt = "› "
	input.CharLimit = 256
	input.Focus()

	return &App{
		ctx:     ctx,
		ports:   ports,
		caseID:  caseID,
		imageID: imageID,
		styles:  DefaultStyles(),
		keys:    DefaultKeyMap(),
		input:   input,
		width:   80,
		height:  24,
	}, nil
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink}
	if a.ports.Cases != nil {
		cmds = append(cmds, a.loadImages())
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		a.input.Width = max(msg.Width-8, 10)
		a.clampOffset()
		return a, nil

	case imagesLoadedMsg:
		if msg.err != nil {
			a.err = msg.err
			return a, nil
		}
		a.images = msg.images
		return a, nil

	case searchDoneMsg:
		if msg.query != a.query {
			return a, nil
		}
		a.searching = false
		a.err = msg.err
		a.setResults(msg.results)
		if len(a.rows) > 0 {
			a.setFocus(focusResults)
		}
		return a, nil

	case tea.KeyMsg:
		if key.Matches(msg, a.keys.ForceQuit) {
			return a, tea.Quit
		}
		if a.focus == focusInput {
			return a.updateInput(msg)
		}
		return a.updateResults(msg)
	}

	return a, nil
}

func (a *App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Search):
		query := strings.TrimSpace(a.input.Value())
		if query == "" {
			return a, nil
		}
		a.query = query
		a.searching = true
		a.err = nil
		return a, a.search(query)

	case key.Matches(msg, a.keys.Results):
		if len(a.rows) > 0 {
			a.setFocus(focusResults)
		}
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	return a, cmd
}

func (a *App) updateResults(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, a.keys.Quit):
		return a, tea.Quit
	case key.Matches(msg, a.keys.Up):
		if a.selected > 0 {
			a.selected--
		}
	case key.Matches(msg, a.keys.Down):
		if a.selected < len(a.rows)-1 {
			a.selected++
		}
	case key.Matches(msg, a.keys.NewSearch):
		a.setFocus(focusInput)
		return a, textinput.Blink
	}
	a.clampOffset()
	return a, nil
}

func (a *App) setFocus(f focusArea) {
	a.focus = f
	if f == focusInput {
		a.input.Focus()
	} else {
		a.input.Blur()
	}
}

func (a *App) setResults(results []domain.ImageResults) {
	a.rows = a.rows[:0]
	a.total = 0
	for _, res := range results {
		a.total += res.Total
		for _, hit := range res.Hits {
			a.rows = append(a.rows, row{image: res.Image, hit: hit})
		}
	}
	a.selected = 0
	a.offset = 0
}

// listRows is the number of hit lines that fit on screen.
func (a *App) listRows() int {
	return max(a.height-chromeHeight, minListRows)
}

func (a *App) clampOffset() {
	n := a.listRows()
	if a.selected < a.offset {
		a.offset = a.selected
	}
	if a.selected >= a.offset+n {
		a.offset = a.selected - n + 1
	}
}

func (a *App) search(query string) tea.Cmd {
	req := domain.SearchRequest{
		CaseID:    a.caseID,
		ImageID:   a.imageID,
		Query:     query,
		Highlight: true,
		Limit:     defaultLimit,
	}
	return func() tea.Msg {
		results, err := a.ports.Search.Search(a.ctx, req)
		return searchDoneMsg{query: query, results: results, err: err}
	}
}

func (a *App) loadImages() tea.Cmd {
	return func() tea.Msg {
		images, err := a.ports.Cases.Images(a.ctx, a.caseID)
		return imagesLoadedMsg{images: images, err: err}
	}
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.header())
	b.WriteString("\n")
	b.WriteString(a.styles.Input.Width(max(a.width-4, 20)).Render(a.input.View()))
	b.WriteString("\n")

	switch {
	case a.err != nil:
		b.WriteString(a.styles.Error.Render("Error: " + a.err.Error()))
		b.WriteString("\n")
	case a.searching:
		b.WriteString(a.styles.Muted.Render("Searching…"))
		b.WriteString("\n")
	case a.query != "" && len(a.rows) == 0:
		b.WriteString(a.styles.Muted.Render("No results."))
		b.WriteString("\n")
	}

	if len(a.rows) > 0 {
		b.WriteString(a.list())
		b.WriteString(a.detail())
		b.WriteString("\n")
	}

	b.WriteString(a.statusBar())
	return b.String()
}

func (a *App) header() string {
	title := a.styles.Title.Render("dfDewey") + " " + a.styles.Muted.Render("case "+a.caseID)
	if a.imageID != "" {
		title += a.styles.Muted.Render(" · image " + a.imageID)
	} else if a.images != nil {
		title += a.styles.Muted.Render(fmt.Sprintf(" · %d images", len(a.images)))
	}
	return title
}

func (a *App) list() string {
	var b strings.Builder
	end := min(a.offset+a.listRows(), len(a.rows))
	for i := a.offset; i < end; i++ {
		line := a.rowLine(a.rows[i])
		if i == a.selected && a.focus == focusResults {
			line = a.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (a *App) rowLine(r row) string {
	file := "(unallocated)"
	if len(r.hit.FilePaths) > 0 {
		file = r.hit.FilePaths[0]
	} else if r.hit.Allocated {
		file = "(unresolved)"
	}
	line := fmt.Sprintf("%12d  %-32s  %s",
		r.hit.Offset, truncate(file, 32), strings.Join(strings.Fields(r.hit.Data), " "))
	return truncate(line, max(a.width-2, 20))
}

func (a *App) detail() string {
	if a.selected >= len(a.rows) {
		return ""
	}
	r := a.rows[a.selected]
	label := a.styles.Label.Render

	lines := []string{
		label("Image:  ") + r.image.Path,
		label("Offset: ") + strconv.FormatInt(r.hit.Offset, 10),
	}
	if r.hit.DecodePath != "" {
		lines = append(lines, label("Decode: ")+r.hit.DecodePath)
	}
	if r.hit.Location != "" {
		lines = append(lines, label("Volume: ")+r.hit.Location)
	}
	if r.hit.Inode != 0 {
		lines = append(lines,
			label("Inode:  ")+strconv.FormatUint(r.hit.Inode, 10),
			label("Files:  ")+strings.Join(r.hit.FilePaths, ", "),
			label("At:     ")+strconv.FormatInt(r.hit.FileOffset, 10),
		)
	} else if !r.hit.Allocated {
		lines = append(lines, label("Files:  ")+a.styles.Muted.Render("unallocated"))
	}

	data := r.hit.Data
	if r.hit.Snippet != "" {
		data = r.hit.Snippet
	}
	lines = append(lines, label("String: ")+data)

	return a.styles.Detail.Width(max(a.width-4, 20)).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (a *App) statusBar() string {
	help := a.keys.InputHelp()
	if a.focus == focusResults {
		help = a.keys.ResultsHelp()
	}
	parts := make([]string, 0, len(help)+1)
	if a.query != "" && !a.searching {
		parts = append(parts, fmt.Sprintf("%d of %d hits", len(a.rows), a.total))
	}
	for _, b := range help {
		h := b.Help()
		parts = append(parts, h.Key+" "+h.Desc)
	}
	return a.styles.StatusBar.Render(strings.Join(parts, " • "))
}

func truncate(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if width < 1 || len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
