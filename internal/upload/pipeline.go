// Package upload validates a locally selected document and submits it to the
// document service, tracking the upload lifecycle and its status message.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/metcalfc/tsundoku/internal/api"
	"github.com/metcalfc/tsundoku/internal/logging"
)

const (
	defaultStatusDwell = 30 * time.Second

	msgSelectFirst  = "Please select a file first"
	msgUploaded     = "File uploaded successfully!"
	reasonFailed    = "Upload failed"
	reasonTransport = "Error uploading file"
)

var (
	// ErrInFlight is returned by Submit while another submission is running.
	ErrInFlight = errors.New("upload already in progress")
	// ErrNoFile is returned by Submit when nothing is staged.
	ErrNoFile = errors.New(msgSelectFirst)
)

// ValidationError rejects a candidate before any network call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Uploader sends a document to the service.
type Uploader interface {
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (*api.UploadResult, error)
}

var _ Uploader = (*api.Client)(nil)

// Candidate is a file picked by the user, as declared by the picker.
type Candidate struct {
	Name      string
	Path      string
	MIMEType  string
	Extension string
}

// OutcomeStatus is the state of the latest submission.
type OutcomeStatus int

const (
	Pending OutcomeStatus = iota
	Succeeded
	Failed
)

func (s OutcomeStatus) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Outcome is the result of a submission.
type Outcome struct {
	Status        OutcomeStatus
	DocumentID    int64
	Filename      string
	ChapterTitles []string
	Reason        string
}

// Severity classifies a status message for display.
type Severity int

const (
	SeverityNone Severity = iota
	SeveritySuccess
	SeverityError
)

// Status is the message currently shown next to the upload control.
type Status struct {
	Text     string
	Severity Severity
}

// Snapshot is a copy of the pipeline state for rendering.
type Snapshot struct {
	Staged    *Candidate
	Uploading bool
	Outcome   Outcome
	Status    Status
}

// CanSubmit reports whether the upload trigger should be enabled.
func (s Snapshot) CanSubmit() bool {
	return s.Staged != nil && !s.Uploading
}

// Options configures a Pipeline.
type Options struct {
	// StatusDwell is how long a submission status stays visible (default 30s).
	StatusDwell time.Duration

	// VerifyEPUB opens .epub candidates locally before staging them.
	VerifyEPUB bool

	// OnSuccess runs after a successful upload, outside the pipeline lock.
	OnSuccess func(Outcome)

	// OnChange runs when the status clears itself on the timer.
	OnChange func()

	Logger *slog.Logger
}

// Pipeline stages at most one file and submits it on request.
type Pipeline struct {
	uploader Uploader
	policy   Policy
	dwell    time.Duration
	verify   bool
	onOK     func(Outcome)
	onChange func()
	log      *slog.Logger

	mu        sync.Mutex
	staged    *Candidate
	uploading bool
	outcome   Outcome
	status    Status
	timer     *time.Timer
	statusGen uint64
}

// New creates a pipeline that submits through up and accepts policy.
func New(up Uploader, policy Policy, opts Options) *Pipeline {
	dwell := opts.StatusDwell
	if dwell <= 0 {
		dwell = defaultStatusDwell
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{
		uploader: up,
		policy:   policy,
		dwell:    dwell,
		verify:   opts.VerifyEPUB,
		onOK:     opts.OnSuccess,
		onChange: opts.OnChange,
		log:      logger,
	}
}

// Policy returns the accepted-type policy.
func (p *Pipeline) Policy() Policy { return p.policy }

// Select validates c and stages it, replacing any staged file. A rejected
// candidate clears the staged file and sets the rejection as status.
func (p *Pipeline) Select(c Candidate) error {
	c = normalize(c)
	err := p.validate(c)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopTimerLocked()
	if err != nil {
		p.staged = nil
		p.status = Status{Text: err.Error(), Severity: SeverityError}
		p.log.Debug("candidate rejected", "name", c.Name, "mime", c.MIMEType, "reason", err)
		return err
	}
	p.staged = &c
	p.status = Status{}
	p.log.Debug("candidate staged", "name", c.Name, "mime", c.MIMEType)
	return nil
}

// Drop handles files dropped onto the upload area. Only a single accepted
// file is staged; anything else is rejected like a bad selection.
func (p *Pipeline) Drop(cs []Candidate) error {
	switch len(cs) {
	case 0:
		return nil
	case 1:
		return p.Select(cs[0])
	}

	err := &ValidationError{Message: p.policy.Message()}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
	p.staged = nil
	p.status = Status{Text: err.Error(), Severity: SeverityError}
	p.log.Debug("drop rejected", "files", len(cs))
	return err
}

// Submit uploads the staged file. It returns ErrInFlight without side effects
// while a submission is running. A successful upload clears the staged file;
// a failed one keeps it for a retry.
func (p *Pipeline) Submit(ctx context.Context) (Outcome, error) {
	p.mu.Lock()
	if p.uploading {
		p.mu.Unlock()
		return Outcome{Status: Pending}, ErrInFlight
	}
	if p.staged == nil {
		p.stopTimerLocked()
		p.status = Status{Text: msgSelectFirst, Severity: SeverityError}
		p.mu.Unlock()
		return Outcome{}, ErrNoFile
	}
	cand := *p.staged
	p.uploading = true
	p.outcome = Outcome{Status: Pending, Filename: cand.Name}
	p.stopTimerLocked()
	p.status = Status{}
	p.mu.Unlock()

	p.log.Info("uploading", "name", cand.Name, "mime", cand.MIMEType)
	res, err := p.send(ctx, cand)

	p.mu.Lock()
	p.uploading = false
	var outcome Outcome
	switch {
	case err == nil:
		outcome = Outcome{
			Status:        Succeeded,
			DocumentID:    res.BookID,
			Filename:      cand.Name,
			ChapterTitles: res.Chapters,
		}
		if p.staged != nil && *p.staged == cand {
			p.staged = nil
		}
		p.status = Status{Text: msgUploaded, Severity: SeveritySuccess}
		p.log.Info("upload succeeded", "name", cand.Name, "book_id", res.BookID, "chapters", len(res.Chapters))
	case api.IsServiceError(err):
		outcome = Outcome{Status: Failed, Filename: cand.Name, Reason: reasonFailed}
		p.status = Status{Text: reasonFailed, Severity: SeverityError}
		p.log.Warn("upload rejected by service", "name", cand.Name, "err", err)
	default:
		outcome = Outcome{Status: Failed, Filename: cand.Name, Reason: reasonTransport}
		p.status = Status{Text: reasonTransport, Severity: SeverityError}
		p.log.Warn("upload error", "name", cand.Name, "err", err)
	}
	p.outcome = outcome
	p.armTimerLocked()
	onOK := p.onOK
	p.mu.Unlock()

	if outcome.Status == Succeeded && onOK != nil {
		onOK(outcome)
	}
	return outcome, err
}

// Snapshot returns a copy of the current state.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Uploading: p.uploading,
		Outcome:   p.outcome,
		Status:    p.status,
	}
	if p.staged != nil {
		c := *p.staged
		s.Staged = &c
	}
	s.Outcome.ChapterTitles = append([]string(nil), p.outcome.ChapterTitles...)
	return s
}

// Close stops the status timer.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopTimerLocked()
}

func (p *Pipeline) validate(c Candidate) error {
	if !p.policy.Accepts(c) {
		return &ValidationError{Message: p.policy.Message()}
	}
	if p.verify && c.Extension == ".epub" && c.Path != "" {
		if err := VerifyEPUB(c.Path); err != nil {
			return &ValidationError{Message: fmt.Sprintf("%s is not a readable EPUB file", c.Name)}
		}
	}
	return nil
}

func (p *Pipeline) send(ctx context.Context, c Candidate) (*api.UploadResult, error) {
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", c.Name, err)
	}
	defer f.Close()
	return p.uploader.Upload(ctx, c.Name, c.MIMEType, f)
}

// armTimerLocked schedules the status to clear after the dwell time,
// replacing any pending timer.
func (p *Pipeline) armTimerLocked() {
	p.stopTimerLocked()
	gen := p.statusGen
	p.timer = time.AfterFunc(p.dwell, func() { p.expireStatus(gen) })
}

// stopTimerLocked cancels the pending timer. Bumping the generation also
// neutralises a timer that already fired and is waiting for the lock.
func (p *Pipeline) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.statusGen++
}

func (p *Pipeline) expireStatus(gen uint64) {
	p.mu.Lock()
	if gen != p.statusGen {
		p.mu.Unlock()
		return
	}
	p.status = Status{}
	p.timer = nil
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange()
	}
}

// normalize fills in what a picker may leave out: the name, the extension and
// a MIME type derived from the extension.
func normalize(c Candidate) Candidate {
	if c.Name == "" && c.Path != "" {
		c.Name = CandidateFromPath(c.Path).Name
	}
	if c.Extension == "" {
		c.Extension = CandidateFromPath(c.Name).Extension
	}
	c.Extension = strings.ToLower(c.Extension)
	if c.Extension != "" && !strings.HasPrefix(c.Extension, ".") {
		c.Extension = "." + c.Extension
	}
	if c.MIMEType == "" {
		c.MIMEType = CandidateFromPath(c.Name).MIMEType
	}
	return c
}
