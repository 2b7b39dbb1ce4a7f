//go:build !gui

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/logging"
	"github.com/metcalfc/tsundoku/internal/reader"
	"github.com/metcalfc/tsundoku/internal/state"
	"github.com/metcalfc/tsundoku/internal/upload"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFAA00"))

	headingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF"))

	summaryStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#AAAAFF")).
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("#5555AA")).
			PaddingLeft(1)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	controlsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666")).
			Italic(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00FF00")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5555")).
			Bold(true)

	paneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444"))

	focusedPaneStyle = paneStyle.
				BorderForeground(lipgloss.Color("#FFAA00"))
)

type screen int

const (
	screenLibrary screen = iota
	screenBook
)

type focus int

const (
	focusList focus = iota
	focusContent
	focusInput
)

type (
	booksMsg struct {
		books []state.Book
		err   error
	}
	chaptersMsg struct {
		bookID int64
		err    error
	}
	contentMsg struct {
		chapterID int64
		err       error
	}
	summaryMsg struct {
		err error
	}
	uploadMsg struct {
		outcome upload.Outcome
		err     error
	}
	openBookMsg struct {
		bookID int64
	}
	statusClearedMsg struct{}
	readerChangedMsg struct{}
)

// bridge forwards callbacks from component goroutines into the program.
type bridge struct {
	mu sync.Mutex
	p  *tea.Program
}

func (b *bridge) attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.p = p
}

func (b *bridge) send(msg tea.Msg) {
	b.mu.Lock()
	p := b.p
	b.mu.Unlock()
	if p != nil {
		p.Send(msg)
	}
}

type bookItem struct{ book state.Book }

func (i bookItem) Title() string { return i.book.Filename }
func (i bookItem) Description() string {
	return fmt.Sprintf("book %d, %d chapters, %s", i.book.ID, len(i.book.Chapters), i.book.UploadedAt.Local().Format("2006-01-02"))
}
func (i bookItem) FilterValue() string { return i.book.Filename }

type chapterItem struct {
	ch       api.Chapter
	selected bool
}

func (i chapterItem) Title() string {
	if i.selected {
		return "▸ " + i.ch.Title
	}
	return i.ch.Title
}
func (i chapterItem) Description() string { return fmt.Sprintf("Chapter %d", i.ch.Order) }
func (i chapterItem) FilterValue() string { return i.ch.Title }

type model struct {
	ctx  context.Context
	rd   *reader.Reader
	pipe *upload.Pipeline
	lib  *state.Library
	log  *slog.Logger

	screen  screen
	focus   focus
	bookID  int64
	list    list.Model
	content viewport.Model
	input   textinput.Model
	spinner spinner.Model
	notice  string

	quitting bool
	width    int
	height   int
}

func newModel(ctx context.Context, rd *reader.Reader, pipe *upload.Pipeline, lib *state.Library, logger *slog.Logger, bookID int64) model {
	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	l.Title = "Library"

	ti := textinput.New()
	ti.Prompt = "File: "
	ti.Placeholder = "path to a " + strings.Join(pipe.Policy().Labels(), "/") + " file"

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := model{
		ctx:     ctx,
		rd:      rd,
		pipe:    pipe,
		lib:     lib,
		log:     logger,
		bookID:  bookID,
		list:    l,
		content: viewport.New(0, 0),
		input:   ti,
		spinner: sp,
		width:   80,
		height:  24,
	}
	if bookID > 0 {
		m.screen = screenBook
	}
	m.resize()
	return m
}

func (m model) Init() tea.Cmd {
	if m.screen == screenBook {
		return tea.Batch(m.spinner.Tick, m.openBook(m.bookID))
	}
	return tea.Batch(m.spinner.Tick, m.loadLibrary())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case booksMsg:
		if msg.err != nil {
			m.notice = "Could not read the library"
			return m, nil
		}
		if m.screen != screenLibrary {
			return m, nil
		}
		items := make([]list.Item, len(msg.books))
		for i, b := range msg.books {
			items[i] = bookItem{book: b}
		}
		m.list.Title = "Library"
		m.refreshContent()
		cmd := m.list.SetItems(items)
		return m, cmd

	case openBookMsg:
		m.screen = screenBook
		m.focus = focusList
		m.bookID = msg.bookID
		m.list.Title = fmt.Sprintf("Book %d", msg.bookID)
		cmd := m.list.SetItems(nil)
		return m, tea.Batch(cmd, m.openBook(msg.bookID))

	case chaptersMsg:
		if errors.Is(msg.err, reader.ErrStale) || m.screen != screenBook || msg.bookID != m.bookID {
			return m, nil
		}
		m.notice = ""
		if msg.err != nil {
			m.notice = "Could not load chapters"
		}
		m.refreshContent()
		cmd := m.syncChapters(m.rd.Snapshot().SelectedID)
		return m, cmd

	case contentMsg:
		if errors.Is(msg.err, reader.ErrStale) {
			return m, nil
		}
		m.notice = ""
		if msg.err != nil {
			m.notice = "Could not load the chapter"
		} else {
			m.content.GotoTop()
		}
		m.refreshContent()
		return m, nil

	case summaryMsg:
		switch {
		case msg.err == nil, errors.Is(msg.err, reader.ErrStale), errors.Is(msg.err, reader.ErrNotAllowed):
		default:
			m.notice = "Could not generate a summary"
		}
		m.refreshContent()
		return m, nil

	case readerChangedMsg:
		m.refreshContent()
		return m, nil

	case uploadMsg, statusClearedMsg:
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		m.quitting = true
		return m, tea.Quit
	}

	if m.focus == focusInput {
		switch msg.String() {
		case "esc":
			m.input.Blur()
			m.input.SetValue("")
			m.focus = focusList
			return m, nil
		case "enter":
			path := expandHome(strings.TrimSpace(m.input.Value()))
			m.input.Blur()
			m.input.SetValue("")
			m.focus = focusList
			if path != "" {
				// A rejection shows up in the pipeline status.
				_ = m.pipe.Select(upload.CandidateFromPath(path))
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	if m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "q", "Q":
		m.quitting = true
		return m, tea.Quit

	case "o":
		m.focus = focusInput
		cmd := m.input.Focus()
		return m, cmd

	case "u":
		return m, m.submit()

	case "l":
		m.screen = screenLibrary
		m.focus = focusList
		m.notice = ""
		m.refreshContent()
		return m, m.loadLibrary()

	case "r":
		if m.screen == screenBook {
			return m, m.openBook(m.bookID)
		}
		return m, m.loadLibrary()

	case "tab":
		if m.screen == screenBook {
			if m.focus == focusList {
				m.focus = focusContent
			} else {
				m.focus = focusList
			}
		}
		return m, nil

	case "e":
		if m.screen == screenBook {
			m.rd.ToggleExpand()
			m.refreshContent()
		}
		return m, nil

	case "s":
		if m.screen == screenBook && m.rd.CanSummarize() {
			return m, m.summarize()
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.content, cmd = m.content.Update(msg)
		return m, cmd

	case "enter":
		if m.focus != focusList {
			return m, nil
		}
		switch it := m.list.SelectedItem().(type) {
		case bookItem:
			id := it.book.ID
			return m, func() tea.Msg { return openBookMsg{bookID: id} }
		case chapterItem:
			cmd := m.syncChapters(it.ch.ID)
			return m, tea.Batch(cmd, m.selectChapter(it.ch.ID))
		}
		return m, nil
	}

	var cmd tea.Cmd
	if m.focus == focusContent {
		m.content, cmd = m.content.Update(msg)
	} else {
		m.list, cmd = m.list.Update(msg)
	}
	return m, cmd
}

func (m model) loadLibrary() tea.Cmd {
	lib, ctx := m.lib, m.ctx
	return func() tea.Msg {
		if lib == nil {
			return booksMsg{}
		}
		books, err := lib.List(ctx)
		return booksMsg{books: books, err: err}
	}
}

func (m model) openBook(id int64) tea.Cmd {
	rd, ctx := m.rd, m.ctx
	return func() tea.Msg {
		return chaptersMsg{bookID: id, err: rd.Open(ctx, id)}
	}
}

func (m model) selectChapter(id int64) tea.Cmd {
	rd, ctx := m.rd, m.ctx
	return func() tea.Msg {
		return contentMsg{chapterID: id, err: rd.Select(ctx, id)}
	}
}

func (m model) summarize() tea.Cmd {
	rd, ctx := m.rd, m.ctx
	return func() tea.Msg {
		return summaryMsg{err: rd.Summarize(ctx)}
	}
}

func (m model) submit() tea.Cmd {
	pipe, lib, ctx, log := m.pipe, m.lib, m.ctx, m.log
	snap := pipe.Snapshot()
	if !snap.CanSubmit() {
		if snap.Staged == nil {
			// Sets "Please select a file first".
			_, _ = pipe.Submit(ctx)
		}
		return nil
	}
	return func() tea.Msg {
		hash, err := state.ComputeHash(snap.Staged.Path)
		if err != nil {
			log.Debug("hashing upload failed", "path", snap.Staged.Path, "err", err)
		}
		outcome, err := pipe.Submit(ctx)
		if err == nil {
			recordUpload(ctx, lib, outcome, hash)
		}
		return uploadMsg{outcome: outcome, err: err}
	}
}

// syncChapters rebuilds the chapter list from the reader, marking selected.
func (m *model) syncChapters(selected int64) tea.Cmd {
	chapters := m.rd.Snapshot().Chapters
	items := make([]list.Item, len(chapters))
	for i, c := range chapters {
		items[i] = chapterItem{ch: c, selected: c.ID == selected}
	}
	return m.list.SetItems(items)
}

func (m *model) refreshContent() {
	if m.screen == screenLibrary {
		m.content.SetContent(dimStyle.Render(wrap(libraryHelp(m.pipe.Policy()), m.content.Width)))
		return
	}
	m.content.SetContent(renderContent(m.rd.Snapshot(), m.content.Width, m.rd.PreviewLength()))
}

func (m *model) resize() {
	listWidth := m.width / 3
	if listWidth < 20 {
		listWidth = 20
	}
	// header, footer, help and pane borders
	bodyHeight := m.height - 5
	if bodyHeight < 3 {
		bodyHeight = 3
	}
	m.list.SetSize(listWidth, bodyHeight)
	m.content.Width = max(m.width-listWidth-4, 10)
	m.content.Height = bodyHeight
	m.input.Width = max(m.width-10, 10)
	m.refreshContent()
}

func (m model) View() string {
	if m.quitting {
		return ""
	}

	header := titleStyle.Render("tsundoku")
	if m.screen == screenBook {
		header += dimStyle.Render(fmt.Sprintf("  book %d", m.bookID))
	}
	v := m.rd.Snapshot()
	if v.Listing || v.Loading || v.Summarizing {
		header += " " + m.spinner.View()
	}

	listPane, contentPane := focusedPaneStyle, paneStyle
	if m.focus == focusContent {
		listPane, contentPane = paneStyle, focusedPaneStyle
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		listPane.Render(m.list.View()),
		contentPane.Render(m.content.View()),
	)

	var footer string
	if m.focus == focusInput {
		footer = m.input.View()
	} else {
		footer = statusLine(m.pipe.Snapshot(), m.spinner.View())
		if m.notice != "" {
			if footer != "" {
				footer += "  "
			}
			footer += errorStyle.Render(m.notice)
		}
	}

	controls := controlsStyle.Render(helpLine(m.screen, m.focus))
	return lipgloss.JoinVertical(lipgloss.Left, header, body, footer, controls)
}

// renderContent is the reading pane for v.
func renderContent(v reader.View, width, limit int) string {
	if v.Content == nil {
		switch {
		case v.Loading:
			return dimStyle.Render("Loading chapter...")
		case v.Listing:
			return dimStyle.Render("Loading chapters...")
		case len(v.Chapters) == 0:
			return dimStyle.Render("No chapters.")
		default:
			return dimStyle.Render("Select a chapter.")
		}
	}

	var sb strings.Builder
	sb.WriteString(headingStyle.Render(v.Content.Title))
	sb.WriteString("\n\n")

	switch {
	case v.Summarizing:
		sb.WriteString(dimStyle.Render("Summarizing..."))
		sb.WriteString("\n\n")
	case v.Content.Summary != nil:
		sb.WriteString(summaryStyle.Render(wrap(*v.Content.Summary, max(width-2, 1))))
		sb.WriteString("\n\n")
	case v.CanSummarize:
		sb.WriteString(dimStyle.Render("Press s to generate a summary."))
		sb.WriteString("\n\n")
	}

	paras := v.Text(limit)
	if paras == nil {
		sb.WriteString(dimStyle.Render("Content not available yet."))
		return sb.String()
	}
	for i, p := range paras {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(wrap(p, width))
	}
	if v.Loading {
		sb.WriteString("\n\n")
		sb.WriteString(dimStyle.Render("Loading chapter..."))
	}
	return sb.String()
}

// statusLine shows the upload state: a staged file, progress or the
// latest status message.
func statusLine(s upload.Snapshot, spin string) string {
	var parts []string
	switch {
	case s.Uploading:
		name := s.Outcome.Filename
		parts = append(parts, spin+" Uploading "+name+"...")
	case s.Staged != nil:
		parts = append(parts, "Ready: "+s.Staged.Name+" (u to upload)")
	}
	switch s.Status.Severity {
	case upload.SeveritySuccess:
		text := s.Status.Text
		if n := len(s.Outcome.ChapterTitles); n > 0 {
			text += fmt.Sprintf(" %d chapters: %s", n, strings.Join(s.Outcome.ChapterTitles, ", "))
		}
		parts = append(parts, successStyle.Render(text))
	case upload.SeverityError:
		parts = append(parts, errorStyle.Render(s.Status.Text))
	}
	return strings.Join(parts, "  ")
}

func helpLine(s screen, f focus) string {
	switch {
	case f == focusInput:
		return "ENTER: choose file  ESC: cancel"
	case s == screenLibrary:
		return "ENTER: open  o: choose file  u: upload  r: refresh  Q: quit"
	default:
		return "ENTER: read  e: expand  s: summarize  TAB: focus  PGUP/PGDN: scroll  o: file  u: upload  l: library  Q: quit"
	}
}

func libraryHelp(p upload.Policy) string {
	return "Select a book to read it, or press o to choose a " +
		strings.Join(p.Labels(), ", ") + " file and u to upload it."
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func runRoot(cmd *cobra.Command, args []string) error {
	var bookID int64
	if len(args) == 1 {
		id, err := parseID("book", args[0])
		if err != nil {
			return err
		}
		bookID = id
	}
	ctx := cmd.Context()

	// Keep log output off the alt screen.
	if err := os.MkdirAll(filepath.Dir(cli.cfg.Log.File), 0o755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := tea.LogToFile(cli.cfg.Log.File, "tsundoku")
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()
	cli.log = logging.New(f, cli.cfg.Log.Level)

	lib, err := state.OpenLibrary("")
	if err != nil {
		cli.log.Warn("library unavailable", "err", err)
	} else {
		defer lib.Close()
	}

	br := &bridge{}
	client := cli.client()
	pipe, err := cli.pipeline(client, upload.Options{
		OnSuccess: func(o upload.Outcome) { br.send(openBookMsg{bookID: o.DocumentID}) },
		OnChange:  func() { br.send(statusClearedMsg{}) },
	})
	if err != nil {
		return err
	}
	defer pipe.Close()

	m := newModel(ctx, cli.reader(client, func() { br.send(readerChangedMsg{}) }), pipe, lib, cli.log.With("component", "tui"), bookID)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	br.attach(p)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}
