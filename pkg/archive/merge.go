package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/supporttools/GoSiteGuard/pkg/backuperr"
)

// Merge combines the produced segments into the single artifact out and returns the format used.
//
// Inputs that were skipped or whose file no longer exists are ignored. With FormatAuto a single
// survivor is copied byte for byte and several are bundled; FormatRaw requires exactly one survivor;
// FormatBundle always bundles, even a single survivor. Bundle members are the inputs' base names.
func Merge(ctx context.Context, inputs []Segment, out string, format Format) (Format, error) {
	var survivors []Segment
	for _, in := range inputs {
		if !in.IsProduced() {
			continue
		}
		info, err := os.Stat(in.Path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		survivors = append(survivors, in)
	}

	if len(survivors) == 0 {
		return "", backuperr.ErrNothingToMerge
	}

	if format == FormatAuto {
		format = FormatRaw
		if len(survivors) > 1 {
			format = FormatBundle
		}
	}

	switch format {
	case FormatRaw:
		if len(survivors) != 1 {
			return "", fmt.Errorf("raw format needs exactly one segment, got %d", len(survivors))
		}
		if err := copyFile(ctx, survivors[0].Path, out); err != nil {
			return "", err
		}
	case FormatBundle:
		if err := bundle(ctx, survivors, out); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown archive format %q", format)
	}

	return format, nil
}

func bundle(ctx context.Context, members []Segment, out string) error {
	w, err := newTarWriter(out, DefaultCompressionLevel)
	if err != nil {
		return err
	}

	for _, m := range members {
		if err := ctx.Err(); err != nil {
			_ = w.Close()
			_ = os.Remove(out)
			return err
		}

		info, err := os.Stat(m.Path)
		if err == nil {
			err = w.addFile(ctx, m.Path, filepath.Base(m.Path), info)
		}
		if err != nil {
			_ = w.Close()
			_ = os.Remove(out)
			return fmt.Errorf("failed to bundle %s segment: %w", m.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		_ = os.Remove(out)
		return err
	}
	return nil
}

func copyFile(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("failed to close %s: %w", dst, err)
	}
	return nil
}
