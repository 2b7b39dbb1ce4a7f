//go:build gui

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
	"fyne.io/fyne/v2/widget"
	"github.com/spf13/cobra"

	"github.com/metcalfc/tsundoku/internal/reader"
	"github.com/metcalfc/tsundoku/internal/state"
	"github.com/metcalfc/tsundoku/internal/upload"
)

// window holds the widgets bound to the upload pipeline and the reader.
type window struct {
	ctx  context.Context
	w    fyne.Window
	rd   *reader.Reader
	pipe *upload.Pipeline
	lib  *state.Library

	fileLabel   *widget.Label
	uploadBtn   *widget.Button
	progress    *widget.ProgressBarInfinite
	statusLabel *widget.Label

	books        *widget.Select
	bookIDs      map[string]int64
	chapterList  *widget.List
	chapters     reader.View
	titleLabel   *widget.Label
	summaryLabel *widget.Label
	summarizeBtn *widget.Button
	expandBtn    *widget.Button
	textLabel    *widget.Label
	noticeLabel  *widget.Label
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

	lib, err := state.OpenLibrary("")
	if err != nil {
		cli.log.Warn("library unavailable", "err", err)
	} else {
		defer lib.Close()
	}

	a := app.New()
	g := &window{
		ctx: cmd.Context(),
		w:   a.NewWindow("tsundoku"),
		lib: lib,
	}

	client := cli.client()
	g.rd = cli.reader(client, func() { fyne.Do(g.refreshReader) })
	g.pipe, err = cli.pipeline(client, upload.Options{
		OnSuccess: func(o upload.Outcome) {
			fyne.Do(func() { g.openBook(o.DocumentID) })
		},
		OnChange: func() { fyne.Do(g.refreshUpload) },
	})
	if err != nil {
		return err
	}
	defer g.pipe.Close()

	g.build()
	g.refreshUpload()
	g.refreshReader()
	g.loadLibrary()
	if bookID > 0 {
		g.openBook(bookID)
	}

	g.w.Resize(fyne.NewSize(1000, 700))
	g.w.ShowAndRun()
	return nil
}

func (g *window) build() {
	policy := g.pipe.Policy()

	g.fileLabel = widget.NewLabel("No file selected")
	chooseBtn := widget.NewButton("Choose file...", g.chooseFile)
	g.uploadBtn = widget.NewButton("Upload", g.submit)
	g.progress = widget.NewProgressBarInfinite()
	g.progress.Hide()
	g.statusLabel = widget.NewLabel("")
	dropHint := widget.NewLabel("or drop a " + strings.Join(policy.Labels(), "/") + " file onto this window")

	uploadBox := container.NewVBox(
		container.NewHBox(chooseBtn, g.fileLabel, g.uploadBtn),
		dropHint,
		g.progress,
		g.statusLabel,
	)

	g.bookIDs = map[string]int64{}
	g.books = widget.NewSelect(nil, func(s string) {
		if id, ok := g.bookIDs[s]; ok {
			g.openBook(id)
		}
	})
	g.books.PlaceHolder = "Open a book from the library"

	g.chapterList = widget.NewList(
		func() int { return len(g.chapters.Chapters) },
		func() fyne.CanvasObject {
			return container.NewVBox(
				widget.NewLabel("Title"),
				widget.NewLabel("Order"),
			)
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			c := g.chapters.Chapters[id]
			vbox := obj.(*fyne.Container)
			titleLabel := vbox.Objects[0].(*widget.Label)
			orderLabel := vbox.Objects[1].(*widget.Label)
			titleLabel.SetText(c.Title)
			titleLabel.TextStyle.Bold = c.ID == g.chapters.SelectedID
			orderLabel.SetText(fmt.Sprintf("Chapter %d", c.Order))
		},
	)
	g.chapterList.OnSelected = func(id widget.ListItemID) {
		if id < len(g.chapters.Chapters) {
			g.selectChapter(g.chapters.Chapters[id].ID)
		}
	}

	g.titleLabel = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	g.summaryLabel = widget.NewLabelWithStyle("", fyne.TextAlignLeading, fyne.TextStyle{Italic: true})
	g.summaryLabel.Wrapping = fyne.TextWrapWord
	g.summarizeBtn = widget.NewButton("Generate summary", g.summarize)
	g.expandBtn = widget.NewButton("Expand", func() {
		g.rd.ToggleExpand()
		g.refreshReader()
	})
	g.textLabel = widget.NewLabel("")
	g.textLabel.Wrapping = fyne.TextWrapWord
	g.noticeLabel = widget.NewLabel("")
	g.noticeLabel.Importance = widget.DangerImportance

	readingPane := container.NewBorder(
		container.NewVBox(g.titleLabel, g.summaryLabel, container.NewHBox(g.summarizeBtn, g.expandBtn)),
		g.noticeLabel,
		nil, nil,
		container.NewVScroll(g.textLabel),
	)

	chaptersPane := container.NewBorder(
		g.books,
		nil, nil, nil,
		g.chapterList,
	)

	split := container.NewHSplit(chaptersPane, readingPane)
	split.Offset = 0.33

	g.w.SetContent(container.NewBorder(uploadBox, nil, nil, nil, split))

	g.w.SetOnDropped(func(_ fyne.Position, uris []fyne.URI) {
		cs := make([]upload.Candidate, 0, len(uris))
		for _, u := range uris {
			cs = append(cs, upload.CandidateFromPath(u.Path()))
		}
		// Rejections show up in the status label.
		_ = g.pipe.Drop(cs)
		g.refreshUpload()
	})

	g.w.Canvas().SetOnTypedKey(func(key *fyne.KeyEvent) {
		switch key.Name {
		case fyne.KeyF11:
			g.w.SetFullScreen(!g.w.FullScreen())
		}
	})
}

func (g *window) chooseFile() {
	fd := dialog.NewFileOpen(func(rc fyne.URIReadCloser, err error) {
		if err != nil || rc == nil {
			return
		}
		path := rc.URI().Path()
		rc.Close()
		// fyne's MIME detection is unreliable for .epub, so derive it from the name.
		_ = g.pipe.Select(upload.CandidateFromPath(path))
		g.refreshUpload()
	}, g.w)
	fd.SetFilter(storage.NewExtensionFileFilter(g.pipe.Policy().Extensions()))
	fd.Show()
}

func (g *window) submit() {
	snap := g.pipe.Snapshot()
	if !snap.CanSubmit() {
		if snap.Staged == nil {
			_, _ = g.pipe.Submit(g.ctx)
			g.refreshUpload()
		}
		return
	}
	go func() {
		hash, _ := state.ComputeHash(snap.Staged.Path)
		outcome, err := g.pipe.Submit(g.ctx)
		if err == nil {
			recordUpload(g.ctx, g.lib, outcome, hash)
			fyne.Do(g.loadLibrary)
		}
		fyne.Do(g.refreshUpload)
	}()
	g.refreshUpload()
}

func (g *window) refreshUpload() {
	s := g.pipe.Snapshot()
	switch {
	case s.Staged != nil:
		g.fileLabel.SetText(s.Staged.Name)
	case s.Uploading:
		g.fileLabel.SetText(s.Outcome.Filename)
	default:
		g.fileLabel.SetText("No file selected")
	}
	if s.CanSubmit() {
		g.uploadBtn.Enable()
	} else {
		g.uploadBtn.Disable()
	}
	if s.Uploading {
		g.progress.Show()
		g.progress.Start()
	} else {
		g.progress.Stop()
		g.progress.Hide()
	}

	text := s.Status.Text
	if s.Status.Severity == upload.SeveritySuccess && len(s.Outcome.ChapterTitles) > 0 {
		text += fmt.Sprintf(" %d chapters: %s", len(s.Outcome.ChapterTitles), strings.Join(s.Outcome.ChapterTitles, ", "))
	}
	switch s.Status.Severity {
	case upload.SeveritySuccess:
		g.statusLabel.Importance = widget.SuccessImportance
	case upload.SeverityError:
		g.statusLabel.Importance = widget.DangerImportance
	default:
		g.statusLabel.Importance = widget.MediumImportance
	}
	g.statusLabel.SetText(text)
}

func (g *window) loadLibrary() {
	if g.lib == nil {
		return
	}
	books, err := g.lib.List(g.ctx)
	if err != nil {
		cli.log.Warn("reading library failed", "err", err)
		return
	}
	opts := make([]string, len(books))
	g.bookIDs = make(map[string]int64, len(books))
	for i, b := range books {
		opts[i] = fmt.Sprintf("%d  %s", b.ID, b.Filename)
		g.bookIDs[opts[i]] = b.ID
	}
	g.books.Options = opts
	g.books.Refresh()
}

func (g *window) openBook(id int64) {
	g.noticeLabel.SetText("")
	go func() {
		err := g.rd.Open(g.ctx, id)
		fyne.Do(func() {
			switch {
			case errors.Is(err, reader.ErrStale):
				return
			case err != nil:
				g.noticeLabel.SetText("Could not load chapters")
			}
			g.chapterList.UnselectAll()
			g.refreshReader()
		})
	}()
	g.refreshReader()
}

func (g *window) selectChapter(id int64) {
	go func() {
		err := g.rd.Select(g.ctx, id)
		fyne.Do(func() {
			switch {
			case errors.Is(err, reader.ErrStale):
				return
			case err != nil:
				g.noticeLabel.SetText("Could not load the chapter")
			default:
				g.noticeLabel.SetText("")
			}
			g.refreshReader()
		})
	}()
}

func (g *window) summarize() {
	if !g.rd.CanSummarize() {
		return
	}
	go func() {
		err := g.rd.Summarize(g.ctx)
		fyne.Do(func() {
			if err != nil && !errors.Is(err, reader.ErrStale) && !errors.Is(err, reader.ErrNotAllowed) {
				g.noticeLabel.SetText("Could not generate a summary")
			}
			g.refreshReader()
		})
	}()
	g.summarizeBtn.Disable()
}

func (g *window) refreshReader() {
	v := g.rd.Snapshot()
	g.chapters = v
	g.chapterList.Refresh()

	if v.Content == nil {
		switch {
		case v.Loading:
			g.titleLabel.SetText("Loading chapter...")
		case v.Listing:
			g.titleLabel.SetText("Loading chapters...")
		default:
			g.titleLabel.SetText("")
		}
		g.summaryLabel.SetText("")
		g.textLabel.SetText("")
		g.summarizeBtn.Hide()
		g.expandBtn.Hide()
		return
	}

	g.titleLabel.SetText(v.Content.Title)
	switch {
	case v.Summarizing:
		g.summaryLabel.SetText("Summarizing...")
	case v.Content.Summary != nil:
		g.summaryLabel.SetText(*v.Content.Summary)
	default:
		g.summaryLabel.SetText("")
	}

	if v.CanSummarize || v.Summarizing {
		g.summarizeBtn.Show()
	} else {
		g.summarizeBtn.Hide()
	}
	if v.CanSummarize {
		g.summarizeBtn.Enable()
	} else {
		g.summarizeBtn.Disable()
	}

	g.expandBtn.Show()
	if v.Expanded {
		g.expandBtn.SetText("Collapse")
	} else {
		g.expandBtn.SetText("Expand")
	}

	paras := v.Text(g.rd.PreviewLength())
	text := strings.Join(paras, "\n\n")
	if paras == nil {
		text = "Content not available yet."
	}
	if v.Loading {
		text += "\n\nLoading chapter..."
	}
	g.textLabel.SetText(text)
}
