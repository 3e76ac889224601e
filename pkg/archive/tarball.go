package archive

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/gzip"
)

// DefaultCompressionLevel is the gzip level used for every tarball.
const DefaultCompressionLevel = 6

// tarWriter chains file -> gzip -> tar and closes them in reverse order.
type tarWriter struct {
	file *os.File
	gz   *gzip.Writer
	tw   *tar.Writer
}

func newTarWriter(path string, level int) (*tarWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create archive %s: %w", path, err)
	}

	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}

	return &tarWriter{file: f, gz: gz, tw: tar.NewWriter(gz)}, nil
}

func (w *tarWriter) Close() error {
	if err := w.tw.Close(); err != nil {
		_ = w.gz.Close()
		_ = w.file.Close()
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := w.gz.Close(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close archive file: %w", err)
	}
	return nil
}

// addDir writes a directory header.
func (w *tarWriter) addDir(name string, info fs.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create header for %s: %w", name, err)
	}
	header.Name = name + "/"
	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	return nil
}

// addFile writes a regular file under name, checking ctx while copying.
func (w *tarWriter) addFile(ctx context.Context, srcPath, name string, info fs.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create header for %s: %w", name, err)
	}
	header.Name = name

	if err := w.tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}

	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", srcPath, err)
	}
	defer src.Close()

	if _, err := io.Copy(w.tw, &ctxReader{ctx: ctx, r: src}); err != nil {
		return fmt.Errorf("failed to write %s to archive: %w", name, err)
	}
	return nil
}

// ctxReader fails reads once its context is done, so long copies honor deadlines.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
