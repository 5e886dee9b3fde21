package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/audiodoc/internal/alignment"
	"github.com/jackzampolin/audiodoc/internal/catalog"
	"github.com/jackzampolin/audiodoc/internal/home"
	"github.com/jackzampolin/audiodoc/internal/jobs"
	"github.com/jackzampolin/audiodoc/internal/providers"
)

// minimalPDF builds a valid PDF with n empty pages.
func minimalPDF(n int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	kids := make([]string, n)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", i+3)
	}
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), n))
	for range n {
		obj("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestCountPages(t *testing.T) {
	data := minimalPDF(3)
	if !IsPDF(data) {
		t.Fatal("IsPDF() = false for generated PDF")
	}
	n, err := CountPages(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("CountPages() error = %v", err)
	}
	if n != 3 {
		t.Errorf("CountPages() = %d, want 3", n)
	}
	if IsPDF([]byte("hello")) {
		t.Error("IsPDF() = true for plain text")
	}
	if _, err := CountPages(bytes.NewReader([]byte("%PDF-1.4 garbage"))); err == nil {
		t.Error("expected error for corrupt PDF")
	}
}

func TestInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      Input
		wantErr bool
	}{
		{"text", Input{Text: "hello"}, false},
		{"document", Input{Document: "/tmp/a.pdf"}, false},
		{"neither", Input{Text: "  "}, true},
		{"both", Input{Text: "a", Document: "/tmp/a.pdf"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.in.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

type fixture struct {
	gen       *Generator
	manager   *jobs.Manager
	home      *home.Dir
	extractor *providers.MockExtractor
	tts       *providers.MockTTS
	settings  Settings
}

func newFixture(t *testing.T, timed bool) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, _ := home.New(t.TempDir())
	if err := h.EnsureExists(); err != nil {
		t.Fatal(err)
	}
	cat, err := catalog.New(catalog.DefaultConfig(), h.MediaDir())
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		manager:   jobs.NewManager(jobs.NewMemoryStore(), logger),
		home:      h,
		extractor: &providers.MockExtractor{Text: "# Title\n\nSome **bold** words.", Pages: 2},
		tts:       &providers.MockTTS{Audio: []byte("ID3audio"), Duration: 4, Timed: timed},
		settings:  Settings{OCRProvider: "mock-ocr", TTSProvider: "mock-tts", MaxPDFPages: 5},
	}
	reg := providers.NewRegistry(logger)
	reg.RegisterExtractor("mock-ocr", f.extractor)
	reg.RegisterTTS("mock-tts", f.tts)

	f.gen = New(Config{
		Registry: reg,
		Catalog:  cat,
		Home:     h,
		Settings: func() Settings { return f.settings },
		Probe:    func(context.Context, string) (float64, error) { return 6, nil },
		Rand:     rand.New(rand.NewPCG(7, 7)),
		Logger:   logger,
	})
	return f
}

// run creates a record for in and executes its job directly.
func (f *fixture) run(t *testing.T, in Input) (*jobs.Record, error) {
	t.Helper()
	ctx := context.Background()
	id, err := f.manager.Create(ctx, JobType, in)
	if err != nil {
		t.Fatal(err)
	}
	rec, _ := f.manager.Get(ctx, id)
	job, err := f.gen.Factory()(rec)
	if err != nil {
		return rec, err
	}
	err = job.Execute(jobs.ContextWithDeps(ctx, jobs.Dependencies{Manager: f.manager}))
	rec, _ = f.manager.Get(ctx, id)
	return rec, err
}

func decodeResult(t *testing.T, rec *jobs.Record) Result {
	t.Helper()
	var res Result
	if err := json.Unmarshal(rec.Result, &res); err != nil {
		t.Fatalf("decode result: %v (%s)", err, rec.Result)
	}
	return res
}

func TestExecuteText(t *testing.T) {
	f := newFixture(t, true)
	rec, err := f.run(t, Input{Text: "Hello *there* world", VideoID: "subway", MusicID: "epic"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if rec.Status != jobs.StatusCompleted {
		t.Errorf("status = %s", rec.Status)
	}

	reqs := f.tts.Requests()
	if len(reqs) != 1 || reqs[0].Text != "Hello there world" {
		t.Errorf("tts requests = %+v", reqs)
	}
	if f.extractor.Calls() != 0 {
		t.Error("text input should not be extracted")
	}

	res := decodeResult(t, rec)
	if res.AudioURL != "/api/jobs/"+rec.ID+"/audio" {
		t.Errorf("audio_url = %s", res.AudioURL)
	}
	if res.VideoID != "subway" || res.VideoURL != "/media/video/subway" {
		t.Errorf("video = %s %s", res.VideoID, res.VideoURL)
	}
	if res.MusicID != "epic" || res.MusicURL != "/media/music/epic" {
		t.Errorf("music = %s %s", res.MusicID, res.MusicURL)
	}
	if res.Estimated {
		t.Error("provider alignment should be used as is")
	}
	words := alignment.Process(res.Alignment, nil)
	if len(words) != 3 || words[2].Text != "world" {
		t.Errorf("words = %+v", words)
	}

	audio, err := os.ReadFile(f.home.AudioPath(rec.ID, "mp3"))
	if err != nil || string(audio) != "ID3audio" {
		t.Errorf("audio file = %q, %v", audio, err)
	}
}

func TestExecuteEstimatesAlignment(t *testing.T) {
	f := newFixture(t, false)
	rec, err := f.run(t, Input{Text: "two words"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	res := decodeResult(t, rec)
	if !res.Estimated {
		t.Error("expected estimated alignment")
	}
	// probed length wins over the provider's 4s
	if end := res.Alignment.EndTimes[len(res.Alignment.EndTimes)-1]; end < 5.99 || end > 6.01 {
		t.Errorf("last end = %v, want 6", end)
	}
	if res.MusicID != "" || res.MusicURL != "" {
		t.Errorf("music should be empty, got %s", res.MusicID)
	}
	if res.VideoID != "minecraft" && res.VideoID != "subway" {
		t.Errorf("random video = %s", res.VideoID)
	}
}

func TestExecuteDocument(t *testing.T) {
	f := newFixture(t, true)
	path := filepath.Join(f.home.UploadsDir(), "doc.pdf")
	if err := os.WriteFile(path, minimalPDF(2), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, err := f.run(t, Input{Document: path, Filename: "doc.pdf", MusicID: "none"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if f.extractor.Calls() != 1 {
		t.Errorf("extractor calls = %d", f.extractor.Calls())
	}
	if got := f.tts.Requests()[0].Text; got != "Title\n\nSome bold words." {
		t.Errorf("narrated text = %q", got)
	}
	res := decodeResult(t, rec)
	if res.Pages != 2 {
		t.Errorf("pages = %d", res.Pages)
	}
	if rec.Metadata["pages"] != 2 {
		t.Errorf("metadata = %v", rec.Metadata)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("upload should be removed after completion")
	}
}

func TestExecuteFailures(t *testing.T) {
	t.Run("blank after cleanup", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.run(t, Input{Text: "---\n\n***"})
		if !errors.Is(err, ErrNoText) {
			t.Errorf("error = %v, want ErrNoText", err)
		}
		if len(f.tts.Requests()) != 0 {
			t.Error("tts should not be called")
		}
	})

	t.Run("page limit", func(t *testing.T) {
		f := newFixture(t, true)
		f.settings.MaxPDFPages = 1
		path := filepath.Join(f.home.UploadsDir(), "big.pdf")
		_ = os.WriteFile(path, minimalPDF(3), 0o644)
		_, err := f.run(t, Input{Document: path})
		if !errors.Is(err, ErrTooManyPages) {
			t.Errorf("error = %v, want ErrTooManyPages", err)
		}
		if f.extractor.Calls() != 0 {
			t.Error("extractor should not be called")
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Error("upload should be removed after failure")
		}
	})

	t.Run("shutdown keeps upload", func(t *testing.T) {
		f := newFixture(t, true)
		f.extractor.Err = context.Canceled
		path := filepath.Join(f.home.UploadsDir(), "doc.pdf")
		if err := os.WriteFile(path, minimalPDF(1), 0o644); err != nil {
			t.Fatal(err)
		}
		id, err := f.manager.Create(context.Background(), JobType, Input{Document: path})
		if err != nil {
			t.Fatal(err)
		}
		rec, _ := f.manager.Get(context.Background(), id)
		job, err := f.gen.Factory()(rec)
		if err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := job.Execute(jobs.ContextWithDeps(ctx, jobs.Dependencies{Manager: f.manager})); err == nil {
			t.Fatal("expected error from cancelled run")
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("upload removed before resume: %v", err)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		f := newFixture(t, true)
		f.tts.Err = &providers.StatusError{Provider: "mock", StatusCode: 401, Message: "bad key"}
		rec, err := f.run(t, Input{Text: "hello"})
		if err == nil || !strings.Contains(err.Error(), "bad key") {
			t.Errorf("error = %v", err)
		}
		if rec.Status != jobs.StatusSynthesizingAudio {
			t.Errorf("status = %s, want synthesizing-audio", rec.Status)
		}
	})

	t.Run("unknown video", func(t *testing.T) {
		f := newFixture(t, true)
		_, err := f.run(t, Input{Text: "hello", VideoID: "nope"})
		if !errors.Is(err, catalog.ErrUnknown) {
			t.Errorf("error = %v, want catalog.ErrUnknown", err)
		}
	})

	t.Run("bad input", func(t *testing.T) {
		f := newFixture(t, true)
		if _, err := f.run(t, Input{}); err == nil {
			t.Error("expected factory error")
		}
	})
}

func TestGeneratorWithRunner(t *testing.T) {
	f := newFixture(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := jobs.NewRunner(f.manager, 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.RegisterFactory(JobType, f.gen.Factory())
	if err := r.Start(ctx); err != nil {
		t.Fatal(err)
	}
	id, err := r.Submit(ctx, JobType, Input{Text: "through the pool"})
	if err != nil {
		t.Fatal(err)
	}

	for range 500 {
		rec, _ := f.manager.Get(ctx, id)
		if rec.Status.IsTerminal() {
			if rec.Status != jobs.StatusCompleted {
				t.Fatalf("status = %s (%s)", rec.Status, rec.Error)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
}
