package fs

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// SessionRegistry is the subset of the session store the cleaner needs.
type SessionRegistry interface {
	ListOlderThan(ctx context.Context, age time.Duration) ([]string, error)
	Delete(ctx context.Context, id string) error
}

// ObjectSweeper deletes offloaded objects past their retention.
type ObjectSweeper interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int, error)
}

// Cleaner periodically removes sessions the caller abandoned before cleanup.
type Cleaner struct {
	scratch  *Scratch
	registry SessionRegistry
	objects  ObjectSweeper
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
}

// CleanerConfig holds configuration for the cleaner.
type CleanerConfig struct {
	Scratch  *Scratch
	Registry SessionRegistry // optional
	Objects  ObjectSweeper   // optional
	MaxAge   time.Duration
	Interval time.Duration
	Logger   *slog.Logger
}

// NewCleaner creates a new Cleaner.
func NewCleaner(cfg *CleanerConfig) *Cleaner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		scratch:  cfg.Scratch,
		registry: cfg.Registry,
		objects:  cfg.Objects,
		maxAge:   cfg.MaxAge,
		interval: cfg.Interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in a goroutine until ctx is done or Stop is called.
func (c *Cleaner) Start(ctx context.Context) {
	if c.interval <= 0 || c.maxAge <= 0 {
		return
	}

	c.logger.Info("Starting session cleanup",
		"root", c.scratch.Root(),
		"max_age", c.maxAge,
		"interval", c.interval,
	)

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Sweep(ctx)

		for {
			select {
			case <-ticker.C:
				c.Sweep(ctx)
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the sweep loop.
func (c *Cleaner) Stop() {
	close(c.stopCh)
}

// Sweep performs one cleanup pass and returns the number of session
// directories removed.
func (c *Cleaner) Sweep(ctx context.Context) int {
	deleted := c.sweepRegistry(ctx)
	deleted += c.sweepDirectories()

	if c.objects != nil {
		n, err := c.objects.DeleteOlderThan(ctx, c.maxAge)
		if err != nil {
			c.logger.Error("Object cleanup error", "error", err)
		} else if n > 0 {
			c.logger.Info("Object cleanup completed", "deleted", n)
		}
	}

	if deleted > 0 {
		c.logger.Info("Session cleanup completed",
			"deleted", deleted,
			"max_age", c.maxAge,
		)
	}
	return deleted
}

func (c *Cleaner) sweepRegistry(ctx context.Context) int {
	if c.registry == nil {
		return 0
	}

	ids, err := c.registry.ListOlderThan(ctx, c.maxAge)
	if err != nil {
		c.logger.Error("Failed to list stale sessions", "error", err)
		return 0
	}

	deleted := 0
	for _, id := range ids {
		if err := c.scratch.RemoveSession(id); err != nil {
			c.logger.Warn("Failed to delete stale session", "session_id", id, "error", err)
			continue
		}
		if err := c.registry.Delete(ctx, id); err != nil {
			c.logger.Warn("Failed to forget stale session", "session_id", id, "error", err)
		}
		deleted++
	}
	return deleted
}

// sweepDirectories catches directories the registry doesn't know about,
// e.g. left over from a previous process.
func (c *Cleaner) sweepDirectories() int {
	entries, err := os.ReadDir(c.scratch.Root())
	if err != nil {
		c.logger.Error("Local cleanup error", "dir", c.scratch.Root(), "error", err)
		return 0
	}

	threshold := time.Now().Add(-c.maxAge)
	deleted := 0

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(threshold) {
			continue
		}
		if err := c.scratch.RemoveSession(entry.Name()); err != nil {
			c.logger.Warn("Failed to delete stale directory", "dir", entry.Name(), "error", err)
			continue
		}
		deleted++
	}
	return deleted
}
