// Package images copies a project's images into the output tree, running
// them through an optional external compressor.
package images

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hotovec/mails/internal/errors"
	"github.com/hotovec/mails/internal/logging"
)

// ArchiveDir is never copied.
const ArchiveDir = "archive"

// Compressor writes a processed copy of src to dst. dst may already exist
// as an empty file and must be overwritten.
type Compressor interface {
	Compress(ctx context.Context, src, dst string) error
}

// Copier copies files unchanged.
type Copier struct{}

// Compress copies src to dst.
func (Copier) Compress(_ context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Options configure a Processor.
type Options struct {
	Workers int
	// Force reprocesses images whose output is newer than the source.
	Force bool
}

// Processor mirrors an image directory into the output tree.
type Processor struct {
	compressor Compressor
	opts       Options
	logger     logging.Logger
}

// NewProcessor creates a processor. A nil compressor copies files.
func NewProcessor(compressor Compressor, opts Options, logger logging.Logger) *Processor {
	if compressor == nil {
		compressor = Copier{}
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Processor{compressor: compressor, opts: opts, logger: logger.WithComponent("images")}
}

// Process writes every image under srcDir to the same relative path under
// dstDir and returns the sorted relative paths. Images whose output is
// already newer than the source are not reprocessed. A missing srcDir is
// an empty image set.
func (p *Processor) Process(ctx context.Context, srcDir, dstDir string) ([]string, error) {
	files, err := List(srcDir)
	if err != nil {
		return nil, err
	}

	var mutex sync.Mutex
	processed := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			src := filepath.Join(srcDir, filepath.FromSlash(rel))
			dst := filepath.Join(dstDir, filepath.FromSlash(rel))
			if !p.opts.Force && upToDate(src, dst) {
				return nil
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return errors.NewIOError(errors.ErrCodeImage, fmt.Sprintf("create %s", filepath.Dir(dst)), err)
			}
			if err := p.compress(gctx, src, dst); err != nil {
				return errors.NewExternalError(errors.ErrCodeImage, fmt.Sprintf("process image %s", rel), err)
			}
			mutex.Lock()
			processed++
			mutex.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	p.logger.Debug(ctx, "Processed images", "total", len(files), "processed", processed)
	return files, nil
}

// compress writes through a temporary file next to dst and renames it into
// place, so a failed compressor never leaves a partial dst behind. The
// temporary name keeps dst's extension for tools that infer the format.
func (p *Processor) compress(ctx context.Context, src, dst string) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*"+filepath.Ext(dst))
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	tmp.Close()

	if err := p.compressor.Compress(ctx, src, tmpName); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// List returns the slash separated paths of every file under dir,
// skipping the archive directory and dot files.
func List(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return fs.SkipAll
			}
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if strings.HasPrefix(path.Base(rel), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if rel == ArchiveDir {
				return filepath.SkipDir
			}
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeImage, fmt.Sprintf("list images in %s", dir), err)
	}
	sort.Strings(files)
	return files, nil
}

func upToDate(src, dst string) bool {
	si, err := os.Stat(src)
	if err != nil {
		return false
	}
	di, err := os.Stat(dst)
	if err != nil || di.Size() == 0 {
		return false
	}
	return !di.ModTime().Before(si.ModTime())
}
