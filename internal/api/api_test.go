package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestClientGetAndErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = io.WriteString(w, `{"status":"ok"}`)
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":"job not found"}`)
		default:
			http.Error(w, "plain failure", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL + "/")
	var resp struct{ Status string }
	if err := c.Get(context.Background(), "/ok", &resp); err != nil || resp.Status != "ok" {
		t.Fatalf("Get() = %+v, %v", resp, err)
	}

	err := c.Get(context.Background(), "/missing", nil)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 || apiErr.Message != "job not found" {
		t.Errorf("Get(missing) error = %v", err)
	}

	err = c.Delete(context.Background(), "/other")
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 502 || apiErr.Message != "plain failure" {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestClientPostMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file: %v", err)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		if hdr.Filename != "doc.pdf" || string(body) != "%PDF-1.4" || r.FormValue("video") != "subway" {
			t.Errorf("got %s %q %s", hdr.Filename, body, r.FormValue("video"))
		}
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, `{"job_id":"j1"}`)
	}))
	defer server.Close()

	var resp struct {
		JobID string `json:"job_id"`
	}
	err := NewClient(server.URL).PostMultipart(context.Background(), "/api/jobs",
		map[string]string{"video": "subway"},
		&FilePart{Field: "file", Filename: "doc.pdf", Content: strings.NewReader("%PDF-1.4")}, &resp)
	if err != nil || resp.JobID != "j1" {
		t.Errorf("PostMultipart() = %+v, %v", resp, err)
	}
}

func TestClientDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "audio-bytes")
	}))
	defer server.Close()

	var buf bytes.Buffer
	// absolute URLs bypass the base
	if err := NewClient("http://127.0.0.1:1").Download(context.Background(), server.URL+"/a.mp3", &buf); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if buf.String() != "audio-bytes" {
		t.Errorf("downloaded %q", buf.String())
	}
}

func TestOutputTo(t *testing.T) {
	data := map[string]any{"status": "ok"}
	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatYAML, data); err != nil || buf.String() != "status: ok\n" {
		t.Errorf("yaml = %q, %v", buf.String(), err)
	}
	buf.Reset()
	if err := OutputTo(&buf, OutputFormatJSON, data); err != nil || buf.String() != "{\n  \"status\": \"ok\"\n}\n" {
		t.Errorf("json = %q, %v", buf.String(), err)
	}
	if err := OutputTo(&buf, "xml", data); err == nil {
		t.Error("expected error for unknown format")
	}

	SetOutputFormat("json")
	if GetOutputFormat() != OutputFormatJSON {
		t.Error("SetOutputFormat(json) not applied")
	}
	SetOutputFormat("toml")
	if GetOutputFormat() != OutputFormatYAML {
		t.Error("unknown format should fall back to yaml")
	}
}

type stubEndpoint struct {
	method, path, group string
	init                bool
}

func (s *stubEndpoint) Route() (string, string, http.HandlerFunc) {
	return s.method, s.path, func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) }
}
func (s *stubEndpoint) RequiresInit() bool { return s.init }
func (s *stubEndpoint) Command(func() string) *cobra.Command {
	cmd := &cobra.Command{Use: strings.Trim(s.path, "/")}
	if s.group != "" {
		cmd.Annotations = map[string]string{"group": s.group}
	}
	return cmd
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(
		&stubEndpoint{method: "GET", path: "/health"},
		&stubEndpoint{method: "GET", path: "/list", group: "jobs", init: true},
		&stubEndpoint{method: "GET", path: "/get", group: "jobs", init: true},
	)

	mux := http.NewServeMux()
	blocked := 0
	r.RegisterRoutes(mux, func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, req *http.Request) {
			blocked++
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	for path, want := range map[string]int{"/health": http.StatusTeapot, "/list": http.StatusServiceUnavailable} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != want {
			t.Errorf("%s = %d, want %d", path, rec.Code, want)
		}
	}
	if blocked != 1 {
		t.Errorf("middleware ran %d times", blocked)
	}

	root := r.BuildCommands(func() string { return "" })
	jobs, _, err := root.Find([]string{"jobs", "list"})
	if err != nil || jobs.Use != "list" {
		t.Errorf("jobs list not found: %v", err)
	}
	if len(root.Commands()) != 2 {
		t.Errorf("top-level commands = %d, want 2", len(root.Commands()))
	}
}
