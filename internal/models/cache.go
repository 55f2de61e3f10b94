package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lukehanabi/audio-to-doc/internal/metrics"
	"github.com/lukehanabi/audio-to-doc/internal/recognizer"
)

// ErrModelLoad is returned when a locale has no usable model.
var ErrModelLoad = errors.New("model load failed")

var errCacheClosed = errors.New("model cache closed")

// LoadFunc builds a model from a directory on disk.
type LoadFunc func(path string) (recognizer.Model, error)

// CacheConfig contains model cache parameters
type CacheConfig struct {
	Paths map[string]string // locale -> model directory
	Load  LoadFunc
	// VerifyPaths requires the model directory to exist before Load is called.
	VerifyPaths bool
}

// Cache holds at most one loaded model per locale. Models are loaded lazily on
// first use and shared by every pipeline until Close.
type Cache struct {
	config  CacheConfig
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	models map[string]recognizer.Model
	closed bool

	group singleflight.Group
}

// NewCache creates an empty model cache
func NewCache(config CacheConfig, logger *slog.Logger, m *metrics.Metrics) *Cache {
	paths := make(map[string]string, len(config.Paths))
	for locale, path := range config.Paths {
		paths[locale] = path
	}
	config.Paths = paths

	return &Cache{
		config:  config,
		logger:  logger.With("component", "models"),
		metrics: m,
		models:  make(map[string]recognizer.Model),
	}
}

// Get returns the model for locale, loading it on first use. Concurrent first
// callers share a single load; a caller whose ctx ends stops waiting but the
// load itself runs to completion and is cached.
func (c *Cache) Get(ctx context.Context, locale string) (recognizer.Model, error) {
	c.mu.RLock()
	model, ok := c.models[locale]
	closed := c.closed
	c.mu.RUnlock()

	if ok {
		return model, nil
	}
	if closed {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, errCacheClosed)
	}

	ch := c.group.DoChan(locale, func() (interface{}, error) {
		return c.load(locale)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s model: %w", locale, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(recognizer.Model), nil
	}
}

func (c *Cache) load(locale string) (recognizer.Model, error) {
	c.mu.RLock()
	if model, ok := c.models[locale]; ok {
		c.mu.RUnlock()
		return model, nil
	}
	c.mu.RUnlock()

	path, ok := c.config.Paths[locale]
	if !ok || path == "" {
		c.metrics.RecordModelLoad(locale, "unconfigured", 0)
		return nil, fmt.Errorf("%w: no model configured for locale %s", ErrModelLoad, locale)
	}

	if c.config.VerifyPaths {
		if _, err := os.Stat(path); err != nil {
			c.metrics.RecordModelLoad(locale, "missing", 0)
			c.logger.Error("Model directory not found",
				slog.String("locale", locale),
				slog.String("path", path),
			)
			return nil, fmt.Errorf("%w: model not found at %s: %w", ErrModelLoad, path, err)
		}
	}

	c.logger.Info("Loading model",
		slog.String("locale", locale),
		slog.String("path", path),
	)

	start := time.Now()
	model, err := c.config.Load(path)
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.RecordModelLoad(locale, "error", elapsed.Seconds())
		c.logger.Error("Failed to load model",
			slog.String("locale", locale),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %s: %w", ErrModelLoad, locale, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		model.Close()
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, errCacheClosed)
	}
	c.models[locale] = model
	count := len(c.models)
	c.mu.Unlock()

	c.metrics.RecordModelLoad(locale, "success", elapsed.Seconds())
	c.metrics.SetModelsLoaded(count)

	c.logger.Info("Model loaded",
		slog.String("locale", locale),
		slog.String("model", model.Name()),
		slog.Duration("elapsed", elapsed),
	)

	return model, nil
}

// Preload loads every listed locale, returning the joined failures.
func (c *Cache) Preload(ctx context.Context, locales ...string) error {
	var errs []error
	for _, locale := range locales {
		if _, err := c.Get(ctx, locale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Loaded returns the locales currently held, sorted.
func (c *Cache) Loaded() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	locales := make([]string, 0, len(c.models))
	for locale := range c.models {
		locales = append(locales, locale)
	}
	sort.Strings(locales)
	return locales
}

// Close frees every loaded model. Later Gets fail with ErrModelLoad.
func (c *Cache) Close() error {
	c.mu.Lock()
	models := c.models
	c.models = make(map[string]recognizer.Model)
	c.closed = true
	c.mu.Unlock()

	var errs []error
	for locale, model := range models {
		if err := model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s model: %w", locale, err))
		}
	}
	c.metrics.SetModelsLoaded(0)

	c.logger.Info("Model cache closed", slog.Int("models_freed", len(models)))
	return errors.Join(errs...)
}
