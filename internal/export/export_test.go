package export_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"calreport/internal/capture"
	"calreport/internal/export"
	appLog "calreport/internal/log"
	"calreport/internal/model"
	"calreport/internal/pdf"
	"calreport/internal/report"
)

type fakeCapturer struct {
	mu        sync.Mutex
	calls     int
	selectors []string
	img       []byte
	err       error
}

func (f *fakeCapturer) Capture(_ context.Context, html []byte, selector string) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	f.selectors = append(f.selectors, selector)
	f.mu.Unlock()
	if selector != "#report-table" || !bytes.Contains(html, []byte(`id="report-table"`)) {
		return nil, capture.ErrNodeNotFound
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

type recordingSaver struct {
	mu    sync.Mutex
	names []string
	docs  [][]byte
	err   error
}

func (s *recordingSaver) Save(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.names = append(s.names, name)
	s.docs = append(s.docs, append([]byte(nil), data...))
	return nil
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.names)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gt.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 40, 20)))).Required()
	return buf.Bytes()
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	appLog.SetOutput(&buf, appLog.FormatJSON)
	t.Cleanup(func() { appLog.SetOutput(os.Stderr, appLog.FormatAuto) })
	return &buf
}

func newExporter(c capture.Capturer, s export.Saver) *export.Exporter {
	return export.New(report.NewBuilder(), c, pdf.NewAssembler(), s)
}

var events = []model.Event{
	{ID: "a", Title: "Deploy", Start: time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), Team: "Core", Project: "API"},
	{ID: "b", Title: "Rollback drill", Start: time.Date(2024, 3, 6, 9, 0, 0, 0, time.UTC), Team: "Core", Project: "API", Resolved: model.Bool(true)},
}

func TestExporterRun(t *testing.T) {
	ctx := context.Background()

	t.Run("saves one PDF under the fixed name", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{}
		capt := &fakeCapturer{img: pngBytes(t)}
		exp := newExporter(capt, saver)

		gt.NoError(t, exp.Run(ctx, events, model.Filter{Status: "All", Engineer: "All"})).Required()
		gt.Equal(t, strings.Join(capt.selectors, ","), report.TableSelector)
		gt.Equal(t, saver.count(), 1)
		gt.Equal(t, saver.names[0], export.FileName)
		gt.Equal(t, export.FileName, "calendar-events-report.pdf")
		gt.True(t, bytes.HasPrefix(saver.docs[0], []byte("%PDF-")))
	})

	t.Run("capture failure stops before save", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{}
		exp := newExporter(&fakeCapturer{err: capture.ErrNodeNotFound}, saver)

		err := exp.Run(ctx, events, model.Filter{})
		gt.Error(t, err)
		gt.True(t, errors.Is(err, capture.ErrNodeNotFound))
		gt.Equal(t, export.StageOf(err), export.StageCapture)
		gt.Equal(t, saver.count(), 0)
	})

	t.Run("bad bitmap fails in assemble", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{}
		exp := newExporter(&fakeCapturer{img: []byte("garbage")}, saver)

		err := exp.Run(ctx, events, model.Filter{})
		gt.Equal(t, export.StageOf(err), export.StageAssemble)
		gt.Equal(t, saver.count(), 0)
	})

	t.Run("save failure is reported", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{err: errors.New("disk full")}
		exp := newExporter(&fakeCapturer{img: pngBytes(t)}, saver)

		err := exp.Run(ctx, events, model.Filter{})
		gt.Equal(t, export.StageOf(err), export.StageSave)
		gt.S(t, err.Error()).Contains("disk full")
	})
}

func TestExporterExport(t *testing.T) {
	ctx := context.Background()

	t.Run("failure is logged and swallowed", func(t *testing.T) {
		logs := captureLogs(t)
		saver := &recordingSaver{}
		exp := newExporter(&fakeCapturer{err: capture.ErrNodeNotFound}, saver)

		// Export has no error return; it must not panic either.
		exp.Export(ctx, events, model.Filter{})

		gt.Equal(t, saver.count(), 0)
		gt.S(t, logs.String()).Contains("export failed")
		gt.S(t, logs.String()).Contains(`"level":"ERROR"`)
	})

	t.Run("empty list still exports", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{}
		exp := newExporter(&fakeCapturer{img: pngBytes(t)}, saver)

		exp.Export(ctx, nil, model.Filter{})
		gt.Equal(t, saver.count(), 1)
	})

	t.Run("overlapping exports each save", func(t *testing.T) {
		captureLogs(t)
		saver := &recordingSaver{}
		capt := &fakeCapturer{img: pngBytes(t)}
		exp := newExporter(capt, saver)

		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				exp.Export(ctx, events, model.Filter{Status: "Open"})
			}()
		}
		wg.Wait()

		gt.Equal(t, saver.count(), 2)
		gt.Equal(t, capt.calls, 2)
		for _, doc := range saver.docs {
			gt.True(t, bytes.HasPrefix(doc, []byte("%PDF-")))
		}
	})
}

func TestFileSaver(t *testing.T) {
	captureLogs(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "out")
	s := export.FileSaver{Dir: dir}

	gt.NoError(t, s.Save(ctx, export.FileName, []byte("%PDF-first"))).Required()

	data, err := os.ReadFile(filepath.Join(dir, export.FileName))
	gt.NoError(t, err).Required()
	gt.Equal(t, string(data), "%PDF-first")

	info, err := os.Stat(filepath.Join(dir, export.FileName))
	gt.NoError(t, err).Required()
	gt.Equal(t, info.Mode().Perm(), os.FileMode(0o644))

	t.Run("overlapping saves leave one complete file", func(t *testing.T) {
		var wg sync.WaitGroup
		payloads := []string{"%PDF-" + strings.Repeat("a", 4096), "%PDF-" + strings.Repeat("b", 4096)}
		for _, p := range payloads {
			wg.Add(1)
			go func(p string) {
				defer wg.Done()
				gt.NoError(t, s.Save(ctx, export.FileName, []byte(p)))
			}(p)
		}
		wg.Wait()

		data, err := os.ReadFile(filepath.Join(dir, export.FileName))
		gt.NoError(t, err).Required()
		gt.True(t, string(data) == payloads[0] || string(data) == payloads[1])

		entries, err := os.ReadDir(dir)
		gt.NoError(t, err).Required()
		gt.Equal(t, len(entries), 1)
	})
}

func TestSaverFunc(t *testing.T) {
	var got string
	s := export.SaverFunc(func(_ context.Context, name string, _ []byte) error {
		got = name
		return nil
	})
	gt.NoError(t, s.Save(context.Background(), "x.pdf", nil))
	gt.Equal(t, got, "x.pdf")
}
