package client

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/uma-tools/receipt-merger/internal/composition"
	"github.com/uma-tools/receipt-merger/internal/config"
	"github.com/uma-tools/receipt-merger/internal/handlers"
)

type submitResult struct {
	img Image
	err error
}

type fakeSubmitter struct {
	calls   chan Payload
	results chan submitResult
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{calls: make(chan Payload, 8), results: make(chan submitResult, 8)}
}

func (s *fakeSubmitter) Submit(ctx context.Context, p Payload) (Image, error) {
	s.calls <- p
	select {
	case r := <-s.results:
		return r.img, r.err
	case <-ctx.Done():
		return Image{}, ctx.Err()
	}
}

type recorder struct {
	mu      sync.Mutex
	renders []Snapshot
	alerts  []Alert
}

func (r *recorder) render(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renders = append(r.renders, s)
}

func (r *recorder) alert(a Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
}

func (r *recorder) renderCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.renders)
}

func (r *recorder) alertKinds() []AlertKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var kinds []AlertKind
	for _, a := range r.alerts {
		kinds = append(kinds, a.Kind)
	}
	return kinds
}

func newTestForm(t *testing.T, submitter Submitter) (*Form, *recorder) {
	t.Helper()
	rec := &recorder{}
	f := NewForm(submitter, WithRenderer(rec.render), WithAlerter(rec.alert))
	t.Cleanup(f.Close)
	return f, rec
}

func await(t *testing.T, f *Form, cond func(Snapshot) bool) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := f.Await(ctx, cond)
	if err != nil {
		t.Fatalf("Await failed: %v", err)
	}
	return snap
}

// loadImages selects files one at a time so they land in argument order.
func loadImages(t *testing.T, f *Form, files ...string) {
	t.Helper()
	for i, name := range files {
		if err := f.Select([]File{pngFile(name)}); err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		await(t, f, func(s Snapshot) bool { return len(s.Images) == i+1 && s.Pending == 0 })
	}
}

func TestFormAppendsInCompletionOrder(t *testing.T) {
	f, _ := newTestForm(t, newFakeSubmitter())
	one, two, three := blockedFile("1.png"), blockedFile("2.png"), blockedFile("3.png")

	f.Select([]File{one, two, three})
	if snap := f.Snapshot(); snap.Pending != 3 || len(snap.Images) != 0 {
		t.Fatalf("Expected 3 pending reads, got %d pending and %d images", snap.Pending, len(snap.Images))
	}

	close(two.release)
	snap := await(t, f, func(s Snapshot) bool { return len(s.Images) == 1 })
	if snap.Images[0].Name != "2.png" || snap.Pending != 2 {
		t.Errorf("Expected 2.png first with 2 pending, got %s with %d", snap.Images[0].Name, snap.Pending)
	}

	close(three.release)
	close(one.release)
	snap = await(t, f, func(s Snapshot) bool { return len(s.Images) == 3 })
	if snap.Pending != 0 {
		t.Errorf("Expected no pending reads, got %d", snap.Pending)
	}
	if snap.Images[0].Name != "2.png" {
		t.Errorf("Expected 2.png to stay first, got %s", names(snap.Images))
	}
}

func TestFormRendersOncePerMutation(t *testing.T) {
	f, rec := newTestForm(t, newFakeSubmitter())
	loadImages(t, f, "A", "B", "C")
	base := rec.renderCount()

	f.MoveLeft(0)
	f.MoveRight(2)
	f.Remove(5)
	f.SetOption(OptionTrimMargin, false)
	if snap := f.Snapshot(); rec.renderCount() != base || snap.Revision != uint64(base) {
		t.Errorf("Expected ignored mutations not to render, got %d renders", rec.renderCount()-base)
	}

	f.MoveRight(0)
	f.MoveLeft(2)
	f.SetOption(OptionTrimTitle, true)
	f.Remove(0)
	snap := f.Snapshot()
	if rec.renderCount() != base+4 {
		t.Errorf("Expected 4 renders, got %d", rec.renderCount()-base)
	}
	if got := names(snap.Images); got != "C,A" {
		t.Errorf("Expected C,A, got %s", got)
	}
	if !snap.Options[OptionTrimTitle] {
		t.Error("Expected trim_title to be set")
	}
}

func TestFormSetOptionUnknown(t *testing.T) {
	f, _ := newTestForm(t, newFakeSubmitter())
	if err := f.SetOption("trim_everything", true); err == nil {
		t.Error("Expected an error for an unknown option")
	}
}

func TestFormLoadAlerts(t *testing.T) {
	f, rec := newTestForm(t, newFakeSubmitter())
	broken := pngFile("broken.png")
	broken.err = errors.New("unreadable")

	f.Select([]File{broken, pngFile("ok.png"), &fakeFile{name: "x.jpg", mimeType: "image/jpeg"}})
	snap := await(t, f, func(s Snapshot) bool { return s.Pending == 0 && len(s.Images) == 1 })
	f.Snapshot()

	if snap.Images[0].Name != "ok.png" {
		t.Errorf("Expected ok.png, got %s", snap.Images[0].Name)
	}
	kinds := rec.alertKinds()
	if len(kinds) != 2 || kinds[0] != AlertUnsupportedFile {
		t.Fatalf("Expected unsupported then load failed alerts, got %v", kinds)
	}
	if kinds[1] != AlertLoadFailed {
		t.Errorf("Expected load failed alert, got %v", kinds[1])
	}
}

func TestFormPendingNeverNegative(t *testing.T) {
	f, _ := newTestForm(t, newFakeSubmitter())

	sink := formSink{f}
	sink.Ready(NewImage("stray.png", AcceptedMIMEType, 1, nil))
	sink.Failed("lost.png", errors.New("gone"))

	snap := f.Snapshot()
	if snap.Pending != 0 {
		t.Errorf("Expected pending to stay at 0, got %d", snap.Pending)
	}
	if len(snap.Images) != 1 {
		t.Errorf("Expected the stray image to be appended, got %d", len(snap.Images))
	}
}

func TestFormSubmit(t *testing.T) {
	sub := newFakeSubmitter()
	f, rec := newTestForm(t, sub)
	loadImages(t, f, "A", "B", "C")
	f.MoveRight(0)
	f.SetOption(OptionTrimMargin, true)

	f.Submit()
	var payload Payload
	select {
	case payload = <-sub.calls:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for submission")
	}
	if got := names(payload.Images); got != "B,A,C" {
		t.Errorf("Expected payload in display order B,A,C, got %s", got)
	}
	if !payload.Options[OptionTrimMargin] {
		t.Error("Expected trim_margin in payload")
	}

	loading := f.Snapshot()
	if !loading.Loading {
		t.Fatal("Expected loading after submit")
	}
	f.Submit()
	if snap := f.Snapshot(); snap.Revision != loading.Revision {
		t.Error("Expected a second submit to be ignored while loading")
	}
	select {
	case <-sub.calls:
		t.Fatal("Expected only one submission in flight")
	default:
	}

	merged := NewImage(ResultName, "image/png", 1, []byte("M"))
	sub.results <- submitResult{img: merged}
	snap := await(t, f, func(s Snapshot) bool { return !s.Loading })
	if snap.Result == nil || !snap.Result.Equal(merged) {
		t.Fatalf("Expected merged result, got %v", snap.Result)
	}

	f.Submit()
	<-sub.calls
	sub.results <- submitResult{err: &ServerError{Status: 400, Type: "invalid_parameter", Message: "Unsupported file type"}}
	snap = await(t, f, func(s Snapshot) bool { return !s.Loading && s.Revision > loading.Revision+2 })
	f.Snapshot()

	if snap.Result == nil || !snap.Result.Equal(merged) {
		t.Error("Expected the previous result to be kept after a failure")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.alerts) != 1 || rec.alerts[0].Kind != AlertSubmitFailed || rec.alerts[0].Message != "Unsupported file type" {
		t.Errorf("Expected one submit alert with the server message, got %+v", rec.alerts)
	}
}

func TestFormSubmitGenericAlert(t *testing.T) {
	sub := newFakeSubmitter()
	f, rec := newTestForm(t, sub)

	f.Submit()
	<-sub.calls
	sub.results <- submitResult{err: ErrMissingContentType}
	await(t, f, func(s Snapshot) bool { return s.Revision == 2 })
	f.Snapshot()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.alerts) != 1 || rec.alerts[0].Message != submitFailedMessage {
		t.Errorf("Expected the generic submit alert, got %+v", rec.alerts)
	}
}

func TestFormClose(t *testing.T) {
	f := NewForm(newFakeSubmitter())
	loadImages(t, f, "A")
	f.Close()
	f.Close()

	if err := f.MoveLeft(0); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := f.Select([]File{pngFile("B")}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if _, err := f.Await(context.Background(), func(Snapshot) bool { return false }); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if snap := f.Snapshot(); len(snap.Images) != 1 {
		t.Errorf("Expected the last snapshot after close, got %d images", len(snap.Images))
	}
}

func TestFormAwaitContext(t *testing.T) {
	f, _ := newTestForm(t, newFakeSubmitter())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := f.Await(ctx, func(s Snapshot) bool { return len(s.Images) > 0 }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	loadImages(t, f, "A")
}

func solidPNG(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestFormAgainstServer(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
		cfg   composition.ImageConfig
	)
	engine := composition.EngineFunc(func(ctx context.Context, dir string, c composition.ImageConfig) (image.Image, error) {
		mu.Lock()
		defer mu.Unlock()
		cfg = c
		for i := 1; ; i++ {
			data, err := os.ReadFile(filepath.Join(dir, strconv.Itoa(i)+".png"))
			if err != nil {
				break
			}
			img, err := png.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			r, _, _, _ := img.At(0, 0).RGBA()
			order = append(order, strconv.Itoa(int(r>>8)))
		}
		return image.NewNRGBA(image.Rect(0, 0, 2, 2)), nil
	})

	serverCfg := config.Default()
	serverCfg.TempDir = filepath.Join(t.TempDir(), "images-temp")
	serverCfg.StaticDir = t.TempDir()
	h, err := handlers.New(serverCfg, handlers.WithEngine(engine))
	if err != nil {
		t.Fatalf("handlers.New failed: %v", err)
	}
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	f, _ := newTestForm(t, NewHTTPSubmitter(srv.URL))
	for i, red := range []uint8{10, 20, 30} {
		file := &fakeFile{name: string(rune('A'+i)) + ".png", mimeType: AcceptedMIMEType, data: solidPNG(t, color.NRGBA{R: red, A: 255})}
		f.Select([]File{file})
		await(t, f, func(s Snapshot) bool { return len(s.Images) == i+1 })
	}
	f.MoveRight(0)
	f.SetOption(OptionTrimMargin, true)
	f.SetOption(OptionTrimCloseButton, true)

	f.Submit()
	snap := await(t, f, func(s Snapshot) bool { return s.Result != nil })
	if snap.Result.MimeType != "image/png" {
		t.Errorf("Expected image/png result, got %s", snap.Result.MimeType)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "20" || order[1] != "10" || order[2] != "30" {
		t.Errorf("Expected staged order B,A,C, got %v", order)
	}
	if cfg.HeaderTrimMode != composition.HeaderTrimMarginOnly || cfg.MergeCloseButton {
		t.Errorf("Unexpected engine config %+v", cfg)
	}

	entries, _ := os.ReadDir(serverCfg.TempDir)
	if len(entries) != 0 {
		t.Errorf("Expected staging area to be empty, found %d entries", len(entries))
	}
}
