// Package reader holds the reading-view state for one uploaded book: its
// chapter list, the selected chapter's content, expand/collapse and summaries.
package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/logging"
)

var (
	// ErrStale is returned when a response arrived for a document or chapter
	// that is no longer current. Its result was dropped.
	ErrStale = errors.New("stale result discarded")
	// ErrNotAllowed is returned by Summarize when the action is not offered.
	ErrNotAllowed = errors.New("summary not available for this chapter")
)

// Service is the part of the document service the reader needs.
type Service interface {
	Chapters(ctx context.Context, bookID int64) ([]api.Chapter, error)
	ChapterContent(ctx context.Context, chapterID int64) (*api.ChapterContent, error)
	Summarize(ctx context.Context, chapterID int64) (string, error)
}

var _ Service = (*api.Client)(nil)

// Options configures a Reader.
type Options struct {
	PreviewLength   int
	AllowRegenerate bool
	NormalizeHTML   bool

	// OnChange runs once a request has been recorded and before the service
	// is called, so a front end can show the loading state.
	OnChange func()

	Logger *slog.Logger
}

// View is a snapshot of the reading state.
type View struct {
	DocumentID   int64
	Chapters     []api.Chapter
	Listing      bool
	SelectedID   int64
	Content      *api.ChapterContent
	Loading      bool
	Expanded     bool
	Summarizing  bool
	CanSummarize bool
}

// Text returns the rendered paragraphs of the loaded content.
func (v View) Text(limit int) []string {
	if v.Content == nil || v.Content.Content == nil {
		return nil
	}
	return Render(*v.Content.Content, v.Expanded, limit)
}

// Reader tracks the chapters of the open book and the selected chapter.
type Reader struct {
	svc           Service
	previewLength int
	regenerate    bool
	normalizeHTML bool
	onChange      func()
	log           *slog.Logger

	mu          sync.Mutex
	docID       int64
	docSeq      uint64
	chapters    []api.Chapter
	listing     bool
	selected    int64
	selSeq      uint64
	content     *api.ChapterContent
	loading     bool
	expanded    bool
	summarizing map[int64]bool
	summaries   map[int64]string
}

// New creates a reader backed by svc.
func New(svc Service, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	n := opts.PreviewLength
	if n <= 0 {
		n = DefaultPreviewLength
	}
	return &Reader{
		svc:           svc,
		previewLength: n,
		regenerate:    opts.AllowRegenerate,
		normalizeHTML: opts.NormalizeHTML,
		onChange:      opts.OnChange,
		log:           logger,
		summarizing:   map[int64]bool{},
		summaries:     map[int64]string{},
	}
}

// PreviewLength is the collapsed preview limit in runes.
func (r *Reader) PreviewLength() int { return r.previewLength }

// Open switches to documentID, dropping everything known about the previous
// document, and fetches its chapters sorted by order. A failed fetch leaves
// the list empty.
func (r *Reader) Open(ctx context.Context, documentID int64) error {
	r.mu.Lock()
	r.docSeq++
	seq := r.docSeq
	r.docID = documentID
	r.chapters = nil
	r.listing = true
	r.selected = 0
	r.selSeq++
	r.content = nil
	r.loading = false
	r.expanded = false
	r.summarizing = map[int64]bool{}
	r.summaries = map[int64]string{}
	r.mu.Unlock()
	r.changed()

	chapters, err := r.svc.Chapters(ctx, documentID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.docSeq {
		r.log.Debug("dropping chapter list", "book_id", documentID, "current", r.docID)
		return ErrStale
	}
	r.listing = false
	if err != nil {
		r.log.Warn("listing chapters failed", "book_id", documentID, "err", err)
		return fmt.Errorf("listing chapters of book %d: %w", documentID, err)
	}
	sort.SliceStable(chapters, func(i, j int) bool {
		return chapters[i].Order < chapters[j].Order
	})
	r.chapters = chapters
	r.log.Debug("chapters loaded", "book_id", documentID, "count", len(chapters))
	return nil
}

// Select records chapterID as the selection and fetches its content. The
// previous content stays in place until the new one arrives, and is kept if
// the fetch fails.
func (r *Reader) Select(ctx context.Context, chapterID int64) error {
	r.mu.Lock()
	r.selSeq++
	seq, doc := r.selSeq, r.docSeq
	r.selected = chapterID
	r.loading = true
	r.expanded = false
	r.mu.Unlock()
	r.changed()

	content, err := r.svc.ChapterContent(ctx, chapterID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if seq != r.selSeq || doc != r.docSeq || r.selected != chapterID {
		r.log.Debug("dropping chapter content", "chapter_id", chapterID, "selected", r.selected)
		return ErrStale
	}
	r.loading = false
	if err != nil {
		r.log.Warn("loading chapter failed", "chapter_id", chapterID, "err", err)
		return fmt.Errorf("loading chapter %d: %w", chapterID, err)
	}

	c := *content
	if r.normalizeHTML && c.Content != nil && LooksLikeHTML(*c.Content) {
		text := FlattenHTML(*c.Content)
		c.Content = &text
	}
	if c.Summary == nil {
		if s, ok := r.summaries[chapterID]; ok {
			c.Summary = &s
		}
	} else {
		r.summaries[chapterID] = *c.Summary
	}
	r.content = &c
	return nil
}

// ToggleExpand flips between the preview and the full text and returns the
// new state.
func (r *Reader) ToggleExpand() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expanded = !r.expanded
	return r.expanded
}

// Summarize requests a summary for the loaded chapter. The result is applied
// only if that chapter is still the one displayed; it is cached either way
// so a later visit shows it.
func (r *Reader) Summarize(ctx context.Context) error {
	r.mu.Lock()
	if !r.canSummarizeLocked() {
		r.mu.Unlock()
		return ErrNotAllowed
	}
	chapterID, doc := r.content.ID, r.docSeq
	r.summarizing[chapterID] = true
	r.mu.Unlock()
	r.changed()

	summary, err := r.svc.Summarize(ctx, chapterID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if doc != r.docSeq {
		r.log.Debug("dropping summary for closed book", "chapter_id", chapterID)
		return ErrStale
	}
	delete(r.summarizing, chapterID)
	if err != nil {
		r.log.Warn("summarize failed", "chapter_id", chapterID, "err", err)
		return fmt.Errorf("summarizing chapter %d: %w", chapterID, err)
	}
	r.summaries[chapterID] = summary
	if r.content == nil || r.content.ID != chapterID {
		r.log.Debug("summary cached for inactive chapter", "chapter_id", chapterID)
		return ErrStale
	}
	c := *r.content
	c.Summary = &summary
	r.content = &c
	return nil
}

func (r *Reader) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

// CanSummarize reports whether the summarize action is offered right now.
func (r *Reader) CanSummarize() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.canSummarizeLocked()
}

func (r *Reader) canSummarizeLocked() bool {
	if r.content == nil || r.summarizing[r.content.ID] {
		return false
	}
	return r.content.Summary == nil || r.regenerate
}

// Snapshot returns a copy of the current state.
func (r *Reader) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := View{
		DocumentID:   r.docID,
		Chapters:     append([]api.Chapter(nil), r.chapters...),
		Listing:      r.listing,
		SelectedID:   r.selected,
		Loading:      r.loading,
		Expanded:     r.expanded,
		CanSummarize: r.canSummarizeLocked(),
	}
	if r.content != nil {
		c := *r.content
		v.Content = &c
		v.Summarizing = r.summarizing[c.ID] && (c.Summary == nil || r.regenerate)
	}
	return v
}
