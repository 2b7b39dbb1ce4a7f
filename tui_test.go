//go:build !gui

package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/logging"
	"github.com/metcalfc/tsundoku/internal/reader"
	"github.com/metcalfc/tsundoku/internal/state"
	"github.com/metcalfc/tsundoku/internal/upload"
)

type stubService struct{}

func (stubService) Chapters(context.Context, int64) ([]api.Chapter, error) {
	return []api.Chapter{{ID: 2, Title: "Two", Order: 2}, {ID: 1, Title: "One", Order: 1}}, nil
}

func (stubService) ChapterContent(_ context.Context, id int64) (*api.ChapterContent, error) {
	text := "Opening line\nbody"
	return &api.ChapterContent{ID: id, Title: "One", Content: &text}, nil
}

func (stubService) Summarize(context.Context, int64) (string, error) { return "gist", nil }

type stubUploader struct{}

func (stubUploader) Upload(context.Context, string, string, io.Reader) (*api.UploadResult, error) {
	return &api.UploadResult{BookID: 42}, nil
}

func testModel(t *testing.T) model {
	t.Helper()
	policy, err := upload.NewPolicy("pdf-epub")
	require.NoError(t, err)
	pipe := upload.New(stubUploader{}, policy, upload.Options{StatusDwell: time.Hour})
	t.Cleanup(pipe.Close)
	rd := reader.New(stubService{}, reader.Options{})
	return newModel(context.Background(), rd, pipe, nil, logging.Discard(), 0)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(model), cmd
}

func TestRenderContent(t *testing.T) {
	text := "Opening line\nbody one\n\nbody two"

	assert.Contains(t, renderContent(reader.View{Loading: true}, 80, 200), "Loading chapter...")
	assert.Contains(t, renderContent(reader.View{}, 80, 200), "No chapters.")

	v := reader.View{Content: &api.ChapterContent{ID: 1, Title: "One", Content: &text}, CanSummarize: true}
	out := renderContent(v, 80, 200)
	assert.Contains(t, out, "Opening line...")
	assert.NotContains(t, out, "body one")
	assert.Contains(t, out, "Press s to generate a summary.")

	v.Expanded = true
	out = renderContent(v, 80, 200)
	assert.Contains(t, out, "body one")
	assert.Contains(t, out, "body two")

	v.Summarizing = true
	assert.Contains(t, renderContent(v, 80, 200), "Summarizing...")
}

func TestStatusLine(t *testing.T) {
	assert.Empty(t, statusLine(upload.Snapshot{}, "*"))

	staged := upload.Snapshot{Staged: &upload.Candidate{Name: "report.pdf"}}
	assert.Contains(t, statusLine(staged, "*"), "Ready: report.pdf")

	busy := upload.Snapshot{Uploading: true, Outcome: upload.Outcome{Filename: "report.pdf"}}
	assert.Contains(t, statusLine(busy, "*"), "* Uploading report.pdf...")

	failed := upload.Snapshot{Status: upload.Status{Text: "Upload failed", Severity: upload.SeverityError}}
	assert.Contains(t, statusLine(failed, "*"), "Upload failed")
}

func TestModel_RejectsWrongFileType(t *testing.T) {
	m := testModel(t)

	m, _ = update(t, m, key("o"))
	require.Equal(t, focusInput, m.focus)
	for _, r := range "notes.docx" {
		m, _ = update(t, m, key(string(r)))
	}
	m, _ = update(t, m, key("enter"))

	assert.Equal(t, focusList, m.focus)
	snap := m.pipe.Snapshot()
	assert.Nil(t, snap.Staged)
	assert.Equal(t, "Please select a PDF or EPUB file", snap.Status.Text)

	// Nothing staged, so u only reports it.
	_, cmd := update(t, m, key("u"))
	assert.Nil(t, cmd)
	assert.Equal(t, "Please select a file first", m.pipe.Snapshot().Status.Text)
}

func TestModel_UploadOpensBook(t *testing.T) {
	m := testModel(t)
	path := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o644))
	require.NoError(t, m.pipe.Select(upload.CandidateFromPath(path)))

	_, cmd := update(t, m, key("u"))
	require.NotNil(t, cmd)
	msg := cmd().(uploadMsg)
	require.NoError(t, msg.err)
	assert.Equal(t, int64(42), msg.outcome.DocumentID)

	m, cmd = update(t, m, openBookMsg{bookID: 42})
	assert.Equal(t, screenBook, m.screen)
	assert.Equal(t, int64(42), m.bookID)
	require.NotNil(t, cmd)
}

func TestModel_ReadChapter(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, openBookMsg{bookID: 42})

	require.NoError(t, m.rd.Open(context.Background(), 42))
	m, _ = update(t, m, chaptersMsg{bookID: 42})
	require.Len(t, m.list.Items(), 2)
	assert.Equal(t, "One", m.list.Items()[0].(chapterItem).ch.Title)

	m, cmd := update(t, m, key("enter"))
	require.NotNil(t, cmd)
	require.NoError(t, m.rd.Select(context.Background(), 1))
	m, _ = update(t, m, contentMsg{chapterID: 1})
	assert.True(t, strings.Contains(m.content.View(), "Opening line..."))

	m, _ = update(t, m, key("e"))
	assert.True(t, m.rd.Snapshot().Expanded)
	assert.True(t, strings.Contains(m.content.View(), "body"))

	_, cmd = update(t, m, key("s"))
	require.NotNil(t, cmd)
	assert.NoError(t, cmd().(summaryMsg).err)
	assert.Equal(t, "gist", *m.rd.Snapshot().Content.Summary)
}

func TestModel_LateChaptersKeepLibrary(t *testing.T) {
	m := testModel(t)
	m, _ = update(t, m, openBookMsg{bookID: 42})
	m, _ = update(t, m, key("l"))
	require.Equal(t, screenLibrary, m.screen)
	m, _ = update(t, m, booksMsg{books: []state.Book{{ID: 7, Filename: "notes.pdf"}}})

	// The chapter listing started before l finishes afterwards.
	require.NoError(t, m.rd.Open(context.Background(), 42))
	m, _ = update(t, m, chaptersMsg{bookID: 42})

	items := m.list.Items()
	require.Len(t, items, 1)
	assert.Equal(t, int64(7), items[0].(bookItem).book.ID)

	_, cmd := update(t, m, key("enter"))
	require.NotNil(t, cmd)
	assert.Equal(t, int64(7), cmd().(openBookMsg).bookID)
}
