// Package pipeline decodes many Mach-O images that live in one source, such
// as the dylibs of a shared cache, in parallel.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/appsworld/dce-macho"
	"github.com/caarlos0/env/v8"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// EnvPrefix is prepended to every Config environment variable.
const EnvPrefix = "DCE_"

// Config controls how a Pipeline schedules work.
type Config struct {
	// Workers bounds the number of images decoded at once. Zero or less
	// means one per CPU.
	Workers int `env:"WORKERS" envDefault:"4"`
	// FailFast stops the whole batch on the first bad region instead of
	// skipping it.
	FailFast bool `env:"FAIL_FAST"`
	// CacheSize is the number of decoded images kept for reuse. Zero
	// disables the cache.
	CacheSize int `env:"CACHE_SIZE" envDefault:"128"`
	// AbsoluteOffsets means file offsets in the load commands count from the
	// start of the source, as they do for dylibs in a shared cache.
	AbsoluteOffsets bool `env:"ABSOLUTE_OFFSETS"`
}

// ConfigFromEnv reads a Config from DCE_WORKERS, DCE_FAIL_FAST,
// DCE_CACHE_SIZE and DCE_ABSOLUTE_OFFSETS.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse pipeline config from environment")
	}
	return cfg, nil
}

// A Region locates one image inside the source.
type Region struct {
	Name   string
	Offset int64
	Size   int64 // zero when unknown
}

func (r Region) String() string {
	if r.Size == 0 {
		return fmt.Sprintf("%s@%#x", r.Name, r.Offset)
	}
	return fmt.Sprintf("%s@%#x-%#x", r.Name, r.Offset, r.Offset+r.Size)
}

// ParseRegion parses "name:offset[:size]". Numbers accept the 0x prefix.
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return Region{}, errors.Errorf("invalid region %q: want name:offset[:size]", s)
	}
	r := Region{Name: parts[0]}
	var err error
	if r.Offset, err = strconv.ParseInt(parts[1], 0, 64); err != nil || r.Offset < 0 {
		return Region{}, errors.Errorf("invalid region %q: bad offset %q", s, parts[1])
	}
	if len(parts) == 3 {
		if r.Size, err = strconv.ParseInt(parts[2], 0, 64); err != nil || r.Size < 0 {
			return Region{}, errors.Errorf("invalid region %q: bad size %q", s, parts[2])
		}
	}
	return r, nil
}

// A Result is the outcome of decoding one Region. Exactly one of Image and
// Err is set.
type Result struct {
	Region Region
	Image  *macho.Image
	Err    error
}

type regionKey struct {
	off, size int64
}

// Pipeline decodes regions of a single read-only source.
type Pipeline struct {
	r     io.ReaderAt
	cfg   Config
	log   log.Interface
	cache *lru.Cache[regionKey, *macho.Image]
}

type Option func(*Pipeline)

// WithLogger sets the logger handed to every decoded image.
func WithLogger(l log.Interface) Option {
	return func(p *Pipeline) { p.log = l }
}

func New(r io.ReaderAt, cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	p := &Pipeline{r: r, cfg: cfg, log: log.Log}
	for _, opt := range opts {
		opt(p)
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[regionKey, *macho.Image](cfg.CacheSize)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create image cache")
		}
		p.cache = cache
	}
	return p, nil
}

// Decode decodes every region and returns one Result per region, in order.
// A region that fails is logged and skipped unless FailFast is set, in
// which case the first failure cancels the regions not yet started and is
// returned.
func (p *Pipeline) Decode(ctx context.Context, regions []Region) ([]Result, error) {
	results := make([]Result, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for i := range regions {
		i := i
		g.Go(func() error {
			reg := regions[i]
			if err := gctx.Err(); err != nil {
				results[i] = Result{Region: reg, Err: err}
				return err
			}
			img, err := p.decode(reg)
			results[i] = Result{Region: reg, Image: img, Err: err}
			if err != nil {
				if p.cfg.FailFast {
					return errors.Wrapf(err, "failed to decode region %s", reg)
				}
				p.log.WithError(err).WithField("region", reg.String()).Warn("skipping region")
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func (p *Pipeline) decode(reg Region) (*macho.Image, error) {
	key := regionKey{reg.Offset, reg.Size}
	if p.cache != nil {
		if img, ok := p.cache.Get(key); ok {
			p.log.WithField("region", reg.String()).Debug("image cache hit")
			return img, nil
		}
	}
	img, err := macho.NewImage(p.r, macho.ImageConfig{
		Offset:          reg.Offset,
		Size:            reg.Size,
		AbsoluteOffsets: p.cfg.AbsoluteOffsets,
		Logger:          p.log.WithField("region", reg.Name),
	})
	if err != nil {
		return nil, err
	}
	if p.cache != nil {
		p.cache.Add(key, img)
	}
	return img, nil
}

// Summary renders totals for a batch of results.
func Summary(results []Result) string {
	var decoded, failed, loads, malformed int
	var cmdBytes uint64
	for _, r := range results {
		if r.Err != nil {
			failed++
			continue
		}
		decoded++
		loads += len(r.Image.Loads())
		malformed += len(r.Image.Malformed())
		cmdBytes += uint64(r.Image.Header().CommandsSize())
	}
	return fmt.Sprintf("%s regions: %s decoded, %s failed, %s load commands (%s), %s malformed",
		humanize.Comma(int64(len(results))),
		humanize.Comma(int64(decoded)),
		humanize.Comma(int64(failed)),
		humanize.Comma(int64(loads)),
		humanize.Bytes(cmdBytes),
		humanize.Comma(int64(malformed)),
	)
}
