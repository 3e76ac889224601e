package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

const (
	// UploadsTimeout bounds packing the uploads directory.
	UploadsTimeout = 10 * time.Minute
	// ConfigTimeout bounds packing the configuration files.
	ConfigTimeout = 30 * time.Second
)

// PackerConfig locates the site content the packer archives.
type PackerConfig struct {
	UploadsDir  string
	ConfigRoot  string
	ConfigFiles []string // relative to ConfigRoot
	Level       int
}

// Packer archives the uploads directory and the site configuration files. Missing inputs are not
// errors: the segment is reported as skipped.
type Packer struct {
	cfg            PackerConfig
	uploadsTimeout time.Duration
	configTimeout  time.Duration
	log            zerolog.Logger
}

// NewPacker creates a Packer.
func NewPacker(cfg PackerConfig, log zerolog.Logger) *Packer {
	if cfg.Level == 0 {
		cfg.Level = DefaultCompressionLevel
	}
	return &Packer{
		cfg:            cfg,
		uploadsTimeout: UploadsTimeout,
		configTimeout:  ConfigTimeout,
		log:            log,
	}
}

// PackUploads archives the uploads directory into out. Members are rooted at the directory's parent
// so extracting into that parent recreates the tree.
func (p *Packer) PackUploads(ctx context.Context, out string) (Segment, error) {
	dir, err := filepath.Abs(p.cfg.UploadsDir)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to resolve uploads directory: %w", err)
	}

	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		p.log.Warn().Str("dir", dir).Msg("Uploads directory not found, skipping uploads segment")
		return Skipped(SegmentUploads), nil
	}
	if err != nil {
		return Segment{}, fmt.Errorf("failed to stat uploads directory: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.uploadsTimeout)
	defer cancel()

	parent := filepath.Dir(dir)
	err = p.writeTarball(ctx, out, func(w *tarWriter) error {
		return filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			rel, err := filepath.Rel(parent, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)

			info, err := d.Info()
			if err != nil {
				return err
			}
			switch {
			case info.IsDir():
				return w.addDir(name, info)
			case info.Mode().IsRegular():
				return w.addFile(ctx, path, name, info)
			default:
				p.log.Debug().Str("path", path).Msg("Skipping non-regular file")
				return nil
			}
		})
	})
	if err != nil {
		return Segment{}, p.packError(ctx, "uploads archive", p.uploadsTimeout, err)
	}

	p.logProduced(SegmentUploads, out)
	return Produced(SegmentUploads, out), nil
}

// PackConfig archives whichever configured files exist under the config root.
func (p *Packer) PackConfig(ctx context.Context, out string) (Segment, error) {
	type found struct {
		path string
		name string
		info fs.FileInfo
	}

	var files []found
	for _, rel := range p.cfg.ConfigFiles {
		path := filepath.Join(p.cfg.ConfigRoot, filepath.FromSlash(rel))
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, found{path: path, name: filepath.ToSlash(filepath.Clean(rel)), info: info})
	}

	if len(files) == 0 {
		p.log.Warn().Str("root", p.cfg.ConfigRoot).Msg("No configuration files found, skipping config segment")
		return Skipped(SegmentConfig), nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.configTimeout)
	defer cancel()

	err := p.writeTarball(ctx, out, func(w *tarWriter) error {
		for _, f := range files {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.addFile(ctx, f.path, f.name, f.info); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Segment{}, p.packError(ctx, "config archive", p.configTimeout, err)
	}

	p.logProduced(SegmentConfig, out)
	return Produced(SegmentConfig, out), nil
}

// UnpackUploads extracts an uploads tarball over the uploads directory's parent. Existing files are
// overwritten.
func (p *Packer) UnpackUploads(ctx context.Context, in string) error {
	dir, err := filepath.Abs(p.cfg.UploadsDir)
	if err != nil {
		return fmt.Errorf("failed to resolve uploads directory: %w", err)
	}
	return Extract(ctx, in, filepath.Dir(dir))
}

// UnpackConfig extracts a config tarball over the config root. Existing files are overwritten.
func (p *Packer) UnpackConfig(ctx context.Context, in string) error {
	return Extract(ctx, in, p.cfg.ConfigRoot)
}

func (p *Packer) writeTarball(ctx context.Context, out string, fill func(w *tarWriter) error) error {
	w, err := newTarWriter(out, p.cfg.Level)
	if err != nil {
		return err
	}

	if err := fill(w); err != nil {
		_ = w.Close()
		_ = os.Remove(out)
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(out)
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(out)
		return err
	}
	return nil
}

func (p *Packer) packError(ctx context.Context, what string, timeout time.Duration, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &backuperr.ProcessTimeoutError{Command: what, Timeout: timeout}
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}

func (p *Packer) logProduced(segment, out string) {
	ev := p.log.Info().Str("segment", segment).Str("path", out)
	if info, err := os.Stat(out); err == nil {
		ev = ev.Str("size", humanize.Bytes(uint64(info.Size())))
	}
	ev.Msg("Packed segment")
}
