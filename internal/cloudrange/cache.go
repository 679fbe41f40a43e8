package cloudrange

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SaveToCache downloads providers (all known ones when empty) into cacheDir
// as <provider>.txt. Providers that fail are reported together; the others
// are still written. onSaved, when set, is called once per written file and
// may be called from several goroutines.
func (f *Fetcher) SaveToCache(ctx context.Context, cacheDir string, providers []string, onSaved func(provider string, n int)) error {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if len(providers) == 0 {
		providers = Providers()
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			ranges, err := f.Fetch(gctx, p)
			if err == nil {
				err = writeCache(cacheDir, p, ranges)
			}
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
				return nil
			}
			if onSaved != nil {
				onSaved(p, len(ranges))
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		return fmt.Errorf("some downloads failed: %w", errors.Join(errs...))
	}
	return nil
}

func writeCache(cacheDir, provider string, ranges []string) error {
	tmp := filepath.Join(cacheDir, "."+provider+".tmp")
	if err := os.WriteFile(tmp, []byte(strings.Join(ranges, "\n")+"\n"), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(cacheDir, provider+".txt"))
}

// LoadCachedRanges loads IP ranges for provider from cache
func LoadCachedRanges(cacheDir, provider string) ([]string, error) {
	f, err := os.Open(filepath.Join(cacheDir, provider+".txt"))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseRangeList(f)
}

// CachedProviders lists providers with a cache file in cacheDir.
func CachedProviders(cacheDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(cacheDir, "*.txt"))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSuffix(filepath.Base(m), ".txt"))
	}
	return out, nil
}
