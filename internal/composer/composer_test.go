package composer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/petems/looptray/internal/audio"
	"github.com/petems/looptray/internal/codec"
	"github.com/petems/looptray/internal/library"
	"github.com/petems/looptray/internal/registry"
	"github.com/rs/zerolog"
)

func writeTake(t *testing.T, dir, name string, format audio.Format, samples []int16) registry.Recording {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := codec.WriteWAVFile(path, codec.Clip{Format: format, Samples: samples}); err != nil {
		t.Fatalf("WriteWAVFile() error = %v, want nil", err)
	}
	return registry.Recording{ID: uuid.New(), Path: path, Title: name, Mode: library.ModeLoop}
}

func ramp(n int, start int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = start + int16(i)
	}
	return out
}

func newComposer(dir string) *Composer {
	return New(Config{
		Files:  library.New(dir, zerolog.Nop()),
		Logger: zerolog.Nop(),
		Now:    func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
}

func onlyFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestComposeConcatenatesTakes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mono := audio.Format{SampleRate: 8000, Channels: 1}
	a := writeTake(t, dir, "a.wav", mono, ramp(8000, 0))    // 1s
	b := writeTake(t, dir, "b.wav", mono, ramp(4000, 1000)) // 0.5s

	out, err := newComposer(dir).Compose(context.Background(), []registry.Recording{a, b})
	if err != nil {
		t.Fatalf("Compose() error = %v, want nil", err)
	}

	if out.Duration != 1500*time.Millisecond {
		t.Errorf("Duration = %v, want 1.5s", out.Duration)
	}
	if out.Frames != 12000 {
		t.Errorf("Frames = %d, want 12000", out.Frames)
	}
	if len(out.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(out.Segments))
	}
	if s := out.Segments[0]; s.ID != a.ID || s.Start != 0 || s.End != 8000 {
		t.Errorf("Segments[0] = %+v, want a [0, 8000)", s)
	}
	if s := out.Segments[1]; s.ID != b.ID || s.Start != 8000 || s.End != 12000 {
		t.Errorf("Segments[1] = %+v, want b [8000, 12000)", s)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "loops_export_20240601-120000") {
		t.Errorf("Path = %s, want loops_export_ prefix", out.Path)
	}

	clip, err := codec.DefaultRegistry().DecodeFile(out.Path)
	if err != nil {
		t.Fatalf("DecodeFile() error = %v, want nil", err)
	}
	if clip.Duration() != 1500*time.Millisecond {
		t.Errorf("decoded Duration() = %v, want 1.5s", clip.Duration())
	}
	// [0, A) holds A and [A, A+B) holds B
	if clip.Samples[0] != 0 || clip.Samples[7999] != 7999 {
		t.Errorf("first segment content wrong: %d %d", clip.Samples[0], clip.Samples[7999])
	}
	if clip.Samples[8000] != 1000 || clip.Samples[11999] != 4999 {
		t.Errorf("second segment content wrong: %d %d", clip.Samples[8000], clip.Samples[11999])
	}
}

func TestComposeConformsChannels(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	mono := writeTake(t, dir, "mono.wav", audio.Format{SampleRate: 8000, Channels: 1}, []int16{10, 20})
	stereo := writeTake(t, dir, "stereo.wav", audio.Format{SampleRate: 8000, Channels: 2}, []int16{1, 3, 5, 7})

	out, err := newComposer(dir).Compose(context.Background(), []registry.Recording{mono, stereo})
	if err != nil {
		t.Fatalf("Compose() error = %v, want nil", err)
	}
	if out.Format.Channels != 2 {
		t.Errorf("Channels = %d, want 2", out.Format.Channels)
	}
	if out.Frames != 4 {
		t.Errorf("Frames = %d, want 4", out.Frames)
	}

	clip, err := codec.DefaultRegistry().DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	want := []int16{10, 10, 20, 20, 1, 3, 5, 7}
	for i := range want {
		if clip.Samples[i] != want[i] {
			t.Errorf("Samples[%d] = %d, want %d", i, clip.Samples[i], want[i])
		}
	}
}

func TestComposeSampleRateMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTake(t, dir, "a.wav", audio.Format{SampleRate: 8000, Channels: 1}, ramp(10, 0))
	b := writeTake(t, dir, "b.wav", audio.Format{SampleRate: 16000, Channels: 1}, ramp(10, 0))

	_, err := newComposer(dir).Compose(context.Background(), []registry.Recording{a, b})
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("Compose() error = %v, want ErrExportFailed", err)
	}
	if names := onlyFiles(t, dir); len(names) != 2 {
		t.Errorf("expected no output left behind, dir has %v", names)
	}
}

func TestComposeMissingTake(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTake(t, dir, "a.wav", audio.Format{SampleRate: 8000, Channels: 1}, ramp(10, 0))
	missing := registry.Recording{ID: uuid.New(), Path: filepath.Join(dir, "gone.wav")}

	_, err := newComposer(dir).Compose(context.Background(), []registry.Recording{a, missing})
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("Compose() error = %v, want ErrExportFailed", err)
	}
	if names := onlyFiles(t, dir); len(names) != 1 {
		t.Errorf("expected no output left behind, dir has %v", names)
	}
}

func TestComposeEmpty(t *testing.T) {
	t.Parallel()

	_, err := newComposer(t.TempDir()).Compose(context.Background(), nil)
	if !errors.Is(err, ErrExportFailed) {
		t.Errorf("Compose(nil) error = %v, want ErrExportFailed", err)
	}
}

func TestComposeWriteFailureRemovesTemp(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTake(t, dir, "a.wav", audio.Format{SampleRate: 8000, Channels: 1}, ramp(10, 0))

	c := New(Config{
		Files:  library.New(dir, zerolog.Nop()),
		Logger: zerolog.Nop(),
		Sink: func(path string, format audio.Format) (codec.Sink, error) {
			sink, err := codec.CreateWAV(path, format)
			if err != nil {
				return nil, err
			}
			return failingSink{sink}, nil
		},
	})

	_, err := c.Compose(context.Background(), []registry.Recording{a})
	if !errors.Is(err, ErrExportFailed) {
		t.Fatalf("Compose() error = %v, want ErrExportFailed", err)
	}
	if names := onlyFiles(t, dir); len(names) != 1 {
		t.Errorf("expected temp file removed, dir has %v", names)
	}
}

func TestComposeCancelled(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeTake(t, dir, "a.wav", audio.Format{SampleRate: 8000, Channels: 1}, ramp(10, 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newComposer(dir).Compose(ctx, []registry.Recording{a})
	if !errors.Is(err, ErrExportFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("Compose() error = %v, want ErrExportFailed wrapping context.Canceled", err)
	}
}

type failingSink struct {
	codec.Sink
}

func (failingSink) Write([]int16) error {
	return errors.New("disk full")
}
