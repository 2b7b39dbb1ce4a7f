package upload

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/config"
)

// --- test helpers ---

type fakeUploader struct {
	mu      sync.Mutex
	calls   int
	names   []string
	types   []string
	result  *api.UploadResult
	err     error
	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeUploader) Upload(ctx context.Context, filename, contentType string, r io.Reader) (*api.UploadResult, error) {
	f.mu.Lock()
	f.calls++
	f.names = append(f.names, filename)
	f.types = append(f.types, contentType)
	entered, gate := f.entered, f.gate
	f.mu.Unlock()

	io.Copy(io.Discard, r)
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return f.result, f.err
}

func (f *fakeUploader) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func mustPolicy(t *testing.T, names ...string) Policy {
	t.Helper()
	p, err := NewPolicy(names...)
	require.NoError(t, err)
	return p
}

func newPipeline(t *testing.T, up Uploader, opts Options) *Pipeline {
	t.Helper()
	if opts.StatusDwell == 0 {
		opts.StatusDwell = time.Hour
	}
	p := New(up, mustPolicy(t, "pdf-epub"), opts)
	t.Cleanup(p.Close)
	return p
}

// --- policy ---

func TestPolicyMessage(t *testing.T) {
	tests := []struct {
		names []string
		want  string
	}{
		{[]string{"pdf-epub"}, "Please select a PDF or EPUB file"},
		{[]string{"pdf-txt"}, "Please select a PDF or TXT file"},
		{[]string{"epub"}, "Please select an EPUB file"},
		{[]string{"pdf", "epub", "txt"}, "Please select a PDF, EPUB or TXT file"},
	}
	for _, tt := range tests {
		p := mustPolicy(t, tt.names...)
		assert.Equal(t, tt.want, p.Message())
	}
}

func TestNewPolicy_Errors(t *testing.T) {
	_, err := NewPolicy("docx")
	assert.Error(t, err)

	_, err = NewPolicy()
	assert.Error(t, err)
}

func TestPolicyAccepts(t *testing.T) {
	p := mustPolicy(t, "pdf-epub")

	assert.True(t, p.Accepts(Candidate{Extension: ".pdf", MIMEType: "application/pdf"}))
	assert.True(t, p.Accepts(Candidate{Extension: ".epub", MIMEType: "application/epub+zip"}))
	assert.True(t, p.Accepts(Candidate{Extension: ".pdf", MIMEType: "application/pdf; charset=binary"}))
	assert.False(t, p.Accepts(Candidate{Extension: ".txt", MIMEType: "text/plain"}))
	// Both declared values must be accepted.
	assert.False(t, p.Accepts(Candidate{Extension: ".pdf", MIMEType: "text/plain"}))
	assert.False(t, p.Accepts(Candidate{Extension: ".docx", MIMEType: "application/pdf"}))
}

func TestCandidateFromPath(t *testing.T) {
	c := CandidateFromPath("/tmp/books/Report.PDF")
	assert.Equal(t, "Report.PDF", c.Name)
	assert.Equal(t, ".pdf", c.Extension)
	assert.Equal(t, "application/pdf", c.MIMEType)

	c = CandidateFromPath("novel.epub")
	assert.Equal(t, "application/epub+zip", c.MIMEType)
}

func TestSupportedTypes(t *testing.T) {
	assert.Contains(t, SupportedTypes(), "epub (.epub)")
}

// --- selection ---

func TestSelect_RejectsWrongTypeWithoutNetwork(t *testing.T) {
	up := &fakeUploader{result: &api.UploadResult{BookID: 1}}
	p := newPipeline(t, up, Options{})

	err := p.Select(CandidateFromPath(writeFile(t, "notes.docx", "PK")))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "Please select a PDF or EPUB file", ve.Message)

	snap := p.Snapshot()
	assert.Nil(t, snap.Staged)
	assert.False(t, snap.CanSubmit())
	assert.Equal(t, Status{Text: "Please select a PDF or EPUB file", Severity: SeverityError}, snap.Status)

	_, err = p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Equal(t, 0, up.Calls())
	assert.Equal(t, "Please select a file first", p.Snapshot().Status.Text)
}

func TestSelect_RejectionClearsStagedFile(t *testing.T) {
	p := newPipeline(t, &fakeUploader{}, Options{})

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "book.pdf", "%PDF"))))
	require.NotNil(t, p.Snapshot().Staged)

	require.Error(t, p.Select(CandidateFromPath(writeFile(t, "book.txt", "plain"))))
	assert.Nil(t, p.Snapshot().Staged)
}

func TestSelect_ReplacesAndClearsStatus(t *testing.T) {
	p := newPipeline(t, &fakeUploader{}, Options{})

	require.Error(t, p.Select(Candidate{Name: "x.mobi", Extension: ".mobi"}))
	require.NotEmpty(t, p.Snapshot().Status.Text)

	first := writeFile(t, "first.pdf", "%PDF")
	second := writeFile(t, "second.epub", "PK")
	require.NoError(t, p.Select(CandidateFromPath(first)))
	require.NoError(t, p.Select(CandidateFromPath(second)))

	snap := p.Snapshot()
	require.NotNil(t, snap.Staged)
	assert.Equal(t, "second.epub", snap.Staged.Name)
	assert.Equal(t, Status{}, snap.Status)
}

func TestSelect_FillsMissingDeclarations(t *testing.T) {
	p := newPipeline(t, &fakeUploader{}, Options{})

	require.NoError(t, p.Select(Candidate{Path: writeFile(t, "b.epub", "PK"), Extension: "EPUB"}))
	snap := p.Snapshot()
	assert.Equal(t, "b.epub", snap.Staged.Name)
	assert.Equal(t, ".epub", snap.Staged.Extension)
	assert.Equal(t, "application/epub+zip", snap.Staged.MIMEType)
}

func TestDrop(t *testing.T) {
	p := newPipeline(t, &fakeUploader{}, Options{})
	pdf := CandidateFromPath(writeFile(t, "a.pdf", "%PDF"))
	epub := CandidateFromPath(writeFile(t, "b.epub", "PK"))

	t.Run("multiple files", func(t *testing.T) {
		require.NoError(t, p.Select(pdf))
		err := p.Drop([]Candidate{pdf, epub})
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, p.Policy().Message(), ve.Message)
		assert.Nil(t, p.Snapshot().Staged)
	})

	t.Run("wrong type", func(t *testing.T) {
		err := p.Drop([]Candidate{CandidateFromPath("c.docx")})
		require.Error(t, err)
		assert.Equal(t, p.Policy().Message(), err.Error())
		assert.Nil(t, p.Snapshot().Staged)
	})

	t.Run("single accepted file", func(t *testing.T) {
		require.NoError(t, p.Drop([]Candidate{epub}))
		assert.Equal(t, "b.epub", p.Snapshot().Staged.Name)
	})

	t.Run("nothing dropped", func(t *testing.T) {
		require.NoError(t, p.Drop(nil))
		assert.NotNil(t, p.Snapshot().Staged)
	})
}

// --- submission ---

func TestSubmit_Success(t *testing.T) {
	up := &fakeUploader{result: &api.UploadResult{BookID: 42, Filename: "report.pdf", Chapters: []string{"Intro", "Ch1"}}}
	var handed []int64
	p := newPipeline(t, up, Options{OnSuccess: func(o Outcome) { handed = append(handed, o.DocumentID) }})

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "report.pdf", "%PDF-1.7"))))
	outcome, err := p.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Succeeded, outcome.Status)
	assert.Equal(t, int64(42), outcome.DocumentID)
	assert.Equal(t, []string{"Intro", "Ch1"}, outcome.ChapterTitles)
	assert.Equal(t, []int64{42}, handed)
	assert.Equal(t, []string{"application/pdf"}, up.types)

	snap := p.Snapshot()
	assert.Nil(t, snap.Staged)
	assert.False(t, snap.Uploading)
	assert.Equal(t, Status{Text: "File uploaded successfully!", Severity: SeveritySuccess}, snap.Status)
}

func TestSubmit_ServiceFailureKeepsFile(t *testing.T) {
	up := &fakeUploader{err: &api.ServiceError{Op: "upload", StatusCode: http.StatusBadRequest}}
	called := false
	p := newPipeline(t, up, Options{OnSuccess: func(Outcome) { called = true }})

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "book.epub", "PK"))))
	outcome, err := p.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, Outcome{Status: Failed, Filename: "book.epub", Reason: "Upload failed"}, outcome)
	assert.False(t, called)
	snap := p.Snapshot()
	require.NotNil(t, snap.Staged)
	assert.Equal(t, "book.epub", snap.Staged.Name)
	assert.True(t, snap.CanSubmit())
	assert.Equal(t, SeverityError, snap.Status.Severity)

	// Retry without re-selecting.
	up.err = nil
	up.result = &api.UploadResult{BookID: 9}
	outcome, err = p.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), outcome.DocumentID)
	assert.Equal(t, 2, up.Calls())
}

func TestSubmit_TransportFailureKeepsFile(t *testing.T) {
	up := &fakeUploader{err: &api.TransportError{Op: "upload", Err: errors.New("connection refused")}}
	p := newPipeline(t, up, Options{})

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "book.pdf", "%PDF"))))
	outcome, err := p.Submit(context.Background())
	require.Error(t, err)

	assert.Equal(t, Failed, outcome.Status)
	assert.Equal(t, "Error uploading file", outcome.Reason)
	assert.NotNil(t, p.Snapshot().Staged)
	assert.Equal(t, "Error uploading file", p.Snapshot().Status.Text)
}

func TestSubmit_MissingFileIsUploadError(t *testing.T) {
	up := &fakeUploader{result: &api.UploadResult{BookID: 1}}
	p := newPipeline(t, up, Options{})

	path := writeFile(t, "gone.pdf", "%PDF")
	require.NoError(t, p.Select(CandidateFromPath(path)))
	require.NoError(t, os.Remove(path))

	outcome, err := p.Submit(context.Background())
	require.Error(t, err)
	assert.Equal(t, "Error uploading file", outcome.Reason)
	assert.Equal(t, 0, up.Calls())
}

func TestSubmit_ReentrantIsNoop(t *testing.T) {
	up := &fakeUploader{
		result:  &api.UploadResult{BookID: 5},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	p := newPipeline(t, up, Options{})
	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "a.pdf", "%PDF"))))

	done := make(chan Outcome)
	go func() {
		o, _ := p.Submit(context.Background())
		done <- o
	}()
	<-up.entered

	snap := p.Snapshot()
	assert.True(t, snap.Uploading)
	assert.False(t, snap.CanSubmit())
	assert.Equal(t, Pending, snap.Outcome.Status)

	_, err := p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrInFlight)

	close(up.gate)
	o := <-done
	assert.Equal(t, Succeeded, o.Status)
	assert.Equal(t, 1, up.Calls())
}

func TestSubmit_SelectionDuringUploadSurvivesSuccess(t *testing.T) {
	up := &fakeUploader{
		result:  &api.UploadResult{BookID: 5},
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	p := newPipeline(t, up, Options{})
	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "a.pdf", "%PDF"))))

	done := make(chan struct{})
	go func() {
		p.Submit(context.Background())
		close(done)
	}()
	<-up.entered
	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "b.pdf", "%PDF"))))
	close(up.gate)
	<-done

	snap := p.Snapshot()
	require.NotNil(t, snap.Staged)
	assert.Equal(t, "b.pdf", snap.Staged.Name)
}

// --- status timer ---

func TestStatusClearsAfterDwell(t *testing.T) {
	var changes int32
	up := &fakeUploader{result: &api.UploadResult{BookID: 1}}
	p := newPipeline(t, up, Options{
		StatusDwell: 20 * time.Millisecond,
		OnChange:    func() { atomic.AddInt32(&changes, 1) },
	})

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "a.pdf", "%PDF"))))
	_, err := p.Submit(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, p.Snapshot().Status.Text)

	require.Eventually(t, func() bool {
		return p.Snapshot().Status == Status{}
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&changes))
	// The outcome itself is not cleared.
	assert.Equal(t, Succeeded, p.Snapshot().Outcome.Status)
}

func TestStatusTimerReplacedByNewSubmission(t *testing.T) {
	up := &fakeUploader{err: &api.ServiceError{Op: "upload", StatusCode: 500}}
	p := newPipeline(t, up, Options{})
	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "a.pdf", "%PDF"))))

	_, err := p.Submit(context.Background())
	require.Error(t, err)
	p.mu.Lock()
	staleGen := p.statusGen
	p.mu.Unlock()

	up.err = &api.TransportError{Op: "upload", Err: errors.New("reset")}
	_, err = p.Submit(context.Background())
	require.Error(t, err)

	// A timer from the first submission firing late must not clear the
	// second submission's message.
	p.expireStatus(staleGen)
	assert.Equal(t, "Error uploading file", p.Snapshot().Status.Text)
}

// --- EPUB check ---

func writeEPUB(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	files := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`},
		{"OEBPS/content.opf", `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="2.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Test</dc:title></metadata>
  <manifest><item id="c1" href="c1.xhtml" media-type="application/xhtml+xml"/></manifest>
  <spine><itemref idref="c1"/></spine>
</package>`},
		{"OEBPS/c1.xhtml", `<html><body><h1>One</h1><p>Text.</p></body></html>`},
	}
	for _, file := range files {
		w, err := zw.Create(file.name)
		require.NoError(t, err)
		_, err = io.WriteString(w, file.body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

func TestVerifyEPUB(t *testing.T) {
	assert.NoError(t, VerifyEPUB(writeEPUB(t, "ok.epub")))
	assert.Error(t, VerifyEPUB(writeFile(t, "broken.epub", "not a zip")))
}

func TestSelect_VerifyEPUB(t *testing.T) {
	p := newPipeline(t, &fakeUploader{}, Options{VerifyEPUB: true})

	err := p.Select(CandidateFromPath(writeFile(t, "broken.epub", "not a zip")))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "broken.epub is not a readable EPUB file", ve.Message)
	assert.Nil(t, p.Snapshot().Staged)

	require.NoError(t, p.Select(CandidateFromPath(writeEPUB(t, "ok.epub"))))
}

// --- end to end against an HTTP service ---

func TestUploadScenario_ReportPDF(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			http.NotFound(w, r)
			return
		}
		io.WriteString(w, `{"message":"File uploaded successfully","filename":"report.pdf","book_id":42,"chapters":["Intro","Ch1"]}`)
	}))
	defer ts.Close()

	client := api.NewClient(config.ServiceConfig{BaseURL: ts.URL, Timeout: time.Second}, nil)
	var opened int64
	p := New(client, mustPolicy(t, "pdf-epub"), Options{
		StatusDwell: time.Hour,
		OnSuccess:   func(o Outcome) { opened = o.DocumentID },
	})
	defer p.Close()

	require.NoError(t, p.Select(CandidateFromPath(writeFile(t, "report.pdf", "%PDF-1.7"))))
	outcome, err := p.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), opened)
	assert.Equal(t, []string{"Intro", "Ch1"}, outcome.ChapterTitles)
}

func TestUploadScenario_DocxNeverReachesService(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer ts.Close()

	client := api.NewClient(config.ServiceConfig{BaseURL: ts.URL, Timeout: time.Second}, nil)
	p := New(client, mustPolicy(t, "pdf-epub"), Options{StatusDwell: time.Hour})
	defer p.Close()

	err := p.Select(CandidateFromPath(writeFile(t, "draft.docx", "PK")))
	require.Error(t, err)
	assert.Equal(t, "Please select a PDF or EPUB file", p.Snapshot().Status.Text)

	_, err = p.Submit(context.Background())
	assert.ErrorIs(t, err, ErrNoFile)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}
