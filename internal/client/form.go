package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Form methods after Close.
var ErrClosed = errors.New("form is closed")

type AlertKind int

const (
	AlertUnsupportedFile AlertKind = iota
	AlertLoadFailed
	AlertSubmitFailed
)

func (k AlertKind) String() string {
	switch k {
	case AlertUnsupportedFile:
		return "unsupported_file"
	case AlertLoadFailed:
		return "load_failed"
	case AlertSubmitFailed:
		return "submit_failed"
	}
	return "unknown"
}

const (
	unsupportedFileMessage = "Some of the selected files are not supported."
	loadFailedMessage      = "Failed to load a file."
	submitFailedMessage    = "Failed to merge the images."
)

// Alert is a user-visible failure.
type Alert struct {
	Kind    AlertKind
	Message string
	Err     error
}

// Snapshot is an immutable copy of the form state.
type Snapshot struct {
	Images   []Image
	Pending  int
	Options  Options
	Loading  bool
	Result   *Image
	Revision uint64
}

func (s Snapshot) CanMoveLeft(i int) bool {
	return i > 0 && i < len(s.Images)
}

func (s Snapshot) CanMoveRight(i int) bool {
	return i >= 0 && i < len(s.Images)-1
}

type FormOption func(*Form)

// WithRenderer sets the callback invoked with a new snapshot after every
// applied mutation. It runs on the form goroutine and must not call back
// into the Form.
func WithRenderer(fn func(Snapshot)) FormOption {
	return func(f *Form) {
		f.render = fn
	}
}

// WithAlerter sets the callback for user-visible failures. Like the
// renderer it runs on the form goroutine.
func WithAlerter(fn func(Alert)) FormOption {
	return func(f *Form) {
		f.alert = fn
	}
}

func WithIngestor(in *Ingestor) FormOption {
	return func(f *Form) {
		f.ingestor = in
	}
}

type waiter struct {
	cond func(Snapshot) bool
	ch   chan Snapshot
}

// Form owns the image list, the pending read count, the options, the
// loading flag and the last merged image. A single goroutine applies every
// message in the order it was posted.
type Form struct {
	mailbox   chan func()
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	ingestor  *Ingestor
	submitter Submitter
	render    func(Snapshot)
	alert     func(Alert)
	last      atomic.Pointer[Snapshot]

	// Owned by run.
	images   ImageList
	pending  int
	options  Options
	loading  bool
	result   *Image
	revision uint64
	waiters  []*waiter
}

func NewForm(submitter Submitter, opts ...FormOption) *Form {
	ctx, cancel := context.WithCancel(context.Background())
	f := &Form{
		mailbox:   make(chan func()),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		submitter: submitter,
		render:    func(Snapshot) {},
		alert: func(a Alert) {
			slog.Warn(a.Message, "kind", a.Kind.String(), "err", a.Err)
		},
		options: NewOptions(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.ingestor == nil {
		f.ingestor = NewIngestor(DefaultReadConcurrency)
	}

	initial := f.snapshot()
	f.last.Store(&initial)
	go f.run()
	return f
}

func (f *Form) run() {
	defer close(f.exited)
	for {
		select {
		case fn := <-f.mailbox:
			fn()
		case <-f.done:
			return
		}
	}
}

func (f *Form) post(fn func()) error {
	select {
	case f.mailbox <- fn:
		return nil
	case <-f.done:
		return ErrClosed
	}
}

func (f *Form) snapshot() Snapshot {
	return Snapshot{
		Images:   f.images.Images(),
		Pending:  f.pending,
		Options:  f.options.Clone(),
		Loading:  f.loading,
		Result:   f.result,
		Revision: f.revision,
	}
}

// changed publishes the state after a mutation, renders once and wakes
// any waiter whose condition now holds.
func (f *Form) changed() {
	f.revision++
	snap := f.snapshot()
	f.last.Store(&snap)
	f.render(snap)

	keep := f.waiters[:0]
	for _, w := range f.waiters {
		if w.cond(snap) {
			w.ch <- snap
			continue
		}
		keep = append(keep, w)
	}
	f.waiters = keep
}

func (f *Form) decrementPending() {
	if f.pending == 0 {
		slog.Warn("Read completed with no pending reads")
		return
	}
	f.pending--
}

// Select starts reading files. Accepted files are appended as they finish,
// in completion order.
func (f *Form) Select(files []File) error {
	select {
	case <-f.done:
		return ErrClosed
	default:
	}
	f.ingestor.Ingest(f.ctx, files, formSink{f})
	return nil
}

// MoveLeft swaps the image at i with its predecessor. Out of range indexes
// are ignored.
func (f *Form) MoveLeft(i int) error {
	return f.post(func() {
		if !f.images.MoveLeft(i) {
			slog.Debug("Ignoring move left", "index", i, "len", f.images.Len())
			return
		}
		f.changed()
	})
}

func (f *Form) MoveRight(i int) error {
	return f.post(func() {
		if !f.images.MoveRight(i) {
			slog.Debug("Ignoring move right", "index", i, "len", f.images.Len())
			return
		}
		f.changed()
	})
}

func (f *Form) Remove(i int) error {
	return f.post(func() {
		if !f.images.Remove(i) {
			slog.Debug("Ignoring remove", "index", i, "len", f.images.Len())
			return
		}
		f.changed()
	})
}

// SetOption sets a merge option. Setting an option to its current value
// does not render.
func (f *Form) SetOption(name string, value bool) error {
	if !knownOptions[name] {
		return fmt.Errorf("unknown option %q", name)
	}
	return f.post(func() {
		if f.options[name] == value {
			return
		}
		f.options[name] = value
		f.changed()
	})
}

// Submit sends the current images and options. It is ignored while a
// previous submission is outstanding.
func (f *Form) Submit() error {
	return f.post(func() {
		if f.loading {
			slog.Debug("Ignoring submit while loading")
			return
		}
		f.loading = true
		payload := Payload{Images: f.images.Images(), Options: f.options.Clone()}
		f.changed()
		go f.submit(payload)
	})
}

func (f *Form) submit(p Payload) {
	slog.Info("Submitting merge request", "images", len(p.Images))
	img, err := f.submitter.Submit(f.ctx, p)
	f.post(func() {
		f.loading = false
		if err == nil {
			f.result = &img
		}
		f.changed()
		if err != nil {
			f.alert(Alert{Kind: AlertSubmitFailed, Message: submitAlertMessage(err), Err: err})
		}
	})
}

func submitAlertMessage(err error) string {
	var serverErr *ServerError
	if errors.As(err, &serverErr) && serverErr.Message != "" {
		return serverErr.Message
	}
	return submitFailedMessage
}

// Snapshot returns the state after every message posted before the call.
// After Close it returns the last published state.
func (f *Form) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if err := f.post(func() { reply <- f.snapshot() }); err != nil {
		return *f.last.Load()
	}
	return <-reply
}

// Await blocks until a snapshot satisfies cond, ctx is done or the form is
// closed.
func (f *Form) Await(ctx context.Context, cond func(Snapshot) bool) (Snapshot, error) {
	w := &waiter{cond: cond, ch: make(chan Snapshot, 1)}
	err := f.post(func() {
		snap := f.snapshot()
		if cond(snap) {
			w.ch <- snap
			return
		}
		f.waiters = append(f.waiters, w)
	})
	if err != nil {
		return Snapshot{}, err
	}

	select {
	case snap := <-w.ch:
		return snap, nil
	case <-ctx.Done():
		f.post(func() { f.dropWaiter(w) })
		return Snapshot{}, ctx.Err()
	case <-f.done:
		return Snapshot{}, ErrClosed
	}
}

func (f *Form) dropWaiter(target *waiter) {
	for i, w := range f.waiters {
		if w == target {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			return
		}
	}
}

// Close stops the form goroutine and cancels outstanding reads and
// submissions.
func (f *Form) Close() {
	f.closeOnce.Do(func() {
		f.cancel()
		close(f.done)
	})
	<-f.exited
}

// formSink posts ingestion results into the form mailbox.
type formSink struct {
	f *Form
}

func (s formSink) Loading(n int) {
	s.f.post(func() {
		s.f.pending += n
		s.f.changed()
	})
}

func (s formSink) Ready(img Image) {
	s.f.post(func() {
		s.f.images.Append(img)
		s.f.decrementPending()
		s.f.changed()
	})
}

func (s formSink) Failed(name string, err error) {
	s.f.post(func() {
		s.f.decrementPending()
		s.f.changed()
		s.f.alert(Alert{Kind: AlertLoadFailed, Message: loadFailedMessage, Err: fmt.Errorf("%s: %w", name, err)})
	})
}

func (s formSink) Rejected(names []string) {
	s.f.post(func() {
		s.f.alert(Alert{Kind: AlertUnsupportedFile, Message: unsupportedFileMessage, Err: fmt.Errorf("unsupported files: %v", names)})
	})
}
