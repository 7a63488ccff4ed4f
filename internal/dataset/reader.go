// Package dataset reads the precomputed JSON documents written by the
// nowcasting batch job. Layout under the data directory:
//
//	indicators/<name>.json
//	scenarios/<id>.json
package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const (
	IndicatorsDir = "indicators"
	ScenariosDir  = "scenarios"
)

var (
	ErrNotFound = errors.New("dataset not found")

	validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

type Reader struct {
	dir   string
	cache *cache.Cache
}

type Option func(*Reader)

// WithCache keeps parsed documents in memory for ttl. Batch jobs replace
// files in place, so a short ttl bounds how stale a response can be.
func WithCache(ttl time.Duration) Option {
	return func(r *Reader) {
		if ttl > 0 {
			r.cache = cache.New(ttl, 2*ttl)
		}
	}
}

func NewReader(dir string, opts ...Option) *Reader {
	r := &Reader{dir: dir}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reader) Dir() string {
	return r.dir
}

// Check verifies the data directory is readable.
func (r *Reader) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	info, err := os.Stat(r.dir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", r.dir)
	}

	return nil
}

func (r *Reader) ListIndicators(ctx context.Context) ([]string, error) {
	return r.list(ctx, IndicatorsDir)
}

func (r *Reader) Indicator(ctx context.Context, name string) (json.RawMessage, error) {
	return r.read(ctx, IndicatorsDir, name)
}

func (r *Reader) ListScenarios(ctx context.Context) ([]string, error) {
	return r.list(ctx, ScenariosDir)
}

func (r *Reader) Scenario(ctx context.Context, id string) (json.RawMessage, error) {
	return r.read(ctx, ScenariosDir, id)
}

func (r *Reader) list(ctx context.Context, kind string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(r.dir, kind))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}

		name := strings.TrimSuffix(e.Name(), ".json")
		if validName.MatchString(name) {
			names = append(names, name)
		}
	}

	sort.Strings(names)
	return names, nil
}

// read returns the raw document. Names outside the allowed alphabet are
// reported as not found so they never reach the filesystem.
func (r *Reader) read(ctx context.Context, kind, name string) (json.RawMessage, error) {
	if !validName.MatchString(name) {
		return nil, fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cacheKey := kind + "/" + name
	if r.cache != nil {
		if doc, ok := r.cache.Get(cacheKey); ok {
			return doc.(json.RawMessage), nil
		}
	}

	data, err := os.ReadFile(filepath.Join(r.dir, kind, name+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %q: %w", kind, name, err)
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("%s %q: invalid JSON document", kind, name)
	}

	doc := json.RawMessage(data)
	if r.cache != nil {
		r.cache.SetDefault(cacheKey, doc)
	}

	return doc, nil
}
