package client

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"golang.org/x/sync/semaphore"
)

// DefaultReadConcurrency bounds the number of files read at once.
const DefaultReadConcurrency = 8

// File is a user-selected file whose content has not been read yet.
type File interface {
	Name() string
	MimeType() string
	Size() uint64
	Read(ctx context.Context) ([]byte, error)
}

// Sink receives the outcome of an ingestion. Calls for different files may
// arrive concurrently and in any order.
type Sink interface {
	// Loading is called once per batch, before any read starts.
	Loading(n int)
	Ready(img Image)
	Failed(name string, err error)
	// Rejected lists every file of a batch with an unsupported type.
	Rejected(names []string)
}

type osFile struct {
	path     string
	mimeType string
	size     uint64
}

// OpenFile stats path and returns a File whose declared type comes from
// its extension.
func OpenFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	mimeType, _, _ := mime.ParseMediaType(mime.TypeByExtension(filepath.Ext(path)))
	return &osFile{
		path:     path,
		mimeType: mimeType,
		size:     uint64(info.Size()),
	}, nil
}

func (f *osFile) Name() string     { return filepath.Base(f.path) }
func (f *osFile) MimeType() string { return f.mimeType }
func (f *osFile) Size() uint64     { return f.size }

func (f *osFile) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.path)
}

// Ingestor reads accepted files concurrently. It holds no per-batch state,
// so the same files can be ingested any number of times.
type Ingestor struct {
	sem *semaphore.Weighted
}

func NewIngestor(concurrency int64) *Ingestor {
	if concurrency < 1 {
		concurrency = DefaultReadConcurrency
	}
	return &Ingestor{sem: semaphore.NewWeighted(concurrency)}
}

// Ingest partitions files by declared type and starts one read per
// accepted file. It returns once every read has been started; results are
// delivered to sink.
func (in *Ingestor) Ingest(ctx context.Context, files []File, sink Sink) {
	var accepted []File
	var rejected []string
	for _, f := range files {
		if f.MimeType() == AcceptedMIMEType {
			accepted = append(accepted, f)
		} else {
			rejected = append(rejected, f.Name())
		}
	}

	if len(rejected) > 0 {
		slog.Warn("Unsupported files selected", "files", rejected)
		sink.Rejected(rejected)
	}
	if len(accepted) == 0 {
		return
	}

	sink.Loading(len(accepted))
	for _, f := range accepted {
		go in.read(ctx, f, sink)
	}
}

func (in *Ingestor) read(ctx context.Context, f File, sink Sink) {
	if err := in.sem.Acquire(ctx, 1); err != nil {
		sink.Failed(f.Name(), err)
		return
	}
	defer in.sem.Release(1)

	data, err := f.Read(ctx)
	if err != nil {
		slog.Error("Failed to read file", "file", f.Name(), "err", err)
		sink.Failed(f.Name(), err)
		return
	}
	sink.Ready(NewImage(f.Name(), f.MimeType(), f.Size(), data))
}
