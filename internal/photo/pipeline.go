// Package photo turns camera or gallery images into size-bounded upload
// candidates with local preview references.
package photo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"sitecheck/internal/storage"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxPhotos   = 10
	DefaultMaxWidth    = 1920
	DefaultQuality     = 80
	DefaultConcurrency = 4
)

var ErrLimitReached = errors.New("photo limit reached")

// Options configures the pipeline
type Options struct {
	MaxPhotos    int
	MaxFileBytes int64
	MaxWidth     int
	MaxPixels    int
	Quality      int
	Concurrency  int
}

func (o Options) withDefaults() Options {
	if o.MaxPhotos <= 0 {
		o.MaxPhotos = DefaultMaxPhotos
	}
	if o.MaxFileBytes <= 0 {
		o.MaxFileBytes = storage.DefaultMaxFileBytes
	}
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxPixels <= 0 {
		o.MaxPixels = DefaultMaxPixels
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// RawFile is an image as captured or selected
type RawFile struct {
	Name        string
	ContentType string
	Data        []byte
}

func (f RawFile) contentType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return http.DetectContentType(f.Data)
}

// Photo is an accepted, compressed image
type Photo struct {
	PreviewRef   string
	Name         string
	ContentType  string
	Data         []byte
	Width        int
	Height       int
	OriginalSize int64
}

// Rejection records why a file was not accepted
type Rejection struct {
	Name   string
	Reason error
}

// BatchResult is the outcome of one Process call, in input order
type BatchResult struct {
	Accepted []Photo
	Rejected []Rejection
}

type Pipeline struct {
	opts     Options
	policy   *storage.FilePolicy
	previews *Previews
	log      *zap.Logger
}

func NewPipeline(opts Options, previews *Previews, log *zap.Logger) *Pipeline {
	opts = opts.withDefaults()
	if previews == nil {
		previews = NewPreviews()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		opts:     opts,
		policy:   storage.ImagePolicy(opts.MaxFileBytes),
		previews: previews,
		log:      log,
	}
}

func (p *Pipeline) Options() Options {
	return p.opts
}

func (p *Pipeline) Previews() *Previews {
	return p.previews
}

// Remaining returns how many more photos fit next to alreadyAttached
func (p *Pipeline) Remaining(alreadyAttached int) int {
	n := p.opts.MaxPhotos - alreadyAttached
	if n < 0 {
		return 0
	}
	return n
}

// Process accepts at most MaxPhotos-alreadyAttached files. Files past that
// limit are dropped, oversized or non-image files are rejected before any
// decoding, and a failed compression only drops that one file.
func (p *Pipeline) Process(ctx context.Context, files []RawFile, alreadyAttached int) BatchResult {
	var res BatchResult

	slots := p.Remaining(alreadyAttached)
	candidates := files
	if len(candidates) > slots {
		for _, f := range candidates[slots:] {
			res.Rejected = append(res.Rejected, Rejection{Name: f.Name, Reason: ErrLimitReached})
		}
		candidates = candidates[:slots]
	}

	type outcome struct {
		photo *Photo
		err   error
	}
	outcomes := make([]outcome, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, f := range candidates {
		if err := p.policy.ValidateFile(f.Name, f.contentType(), int64(len(f.Data))); err != nil {
			outcomes[i].err = err
			continue
		}
		i, f := i, f
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				outcomes[i].err = err
				return nil
			}
			c, err := Compress(f.Data, p.opts.MaxWidth, p.opts.Quality, p.opts.MaxPixels)
			if err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].photo = &Photo{
				Name:         jpegName(f.Name),
				ContentType:  "image/jpeg",
				Data:         c.Data,
				Width:        c.Width,
				Height:       c.Height,
				OriginalSize: int64(len(f.Data)),
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, o := range outcomes {
		if o.err != nil {
			p.log.Warn("Dropping photo", zap.String("name", candidates[i].Name), zap.Error(o.err))
			res.Rejected = append(res.Rejected, Rejection{Name: candidates[i].Name, Reason: o.err})
			continue
		}
		ph := *o.photo
		ph.PreviewRef = p.previews.Register(ph.Data)
		res.Accepted = append(res.Accepted, ph)
	}

	p.log.Debug("Processed photo batch",
		zap.Int("submitted", len(files)),
		zap.Int("accepted", len(res.Accepted)),
		zap.Int("rejected", len(res.Rejected)),
	)
	return res
}

// Release frees the preview of a removed photo
func (p *Pipeline) Release(ph Photo) {
	p.previews.Release(ph.PreviewRef)
}

func jpegName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." {
		base = "photo"
	}
	return fmt.Sprintf("%s.jpg", base)
}
