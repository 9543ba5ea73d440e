// Package engine implements the coordinator: a thin composition of the
// file manager and page cache. It owns no state of its own beyond those
// two collaborators, and exists only to sequence operations that must
// touch both — most importantly, flushing a file's cached pages before
// the file manager is allowed to close its descriptor.
//
// Engine is an explicit, caller-constructed value rather than a global
// singleton, so tests can stand up as many isolated engines as they
// need without interfering with each other.
package engine

import (
	"fmt"

	"github.com/dbcore/storage/internal/storage/filemgr"
	"github.com/dbcore/storage/internal/storage/pagecache"
	"github.com/dbcore/storage/internal/storage/telemetry"
)

// Engine composes a file manager and a page cache into the single entry
// point the table store and index layers call through.
type Engine struct {
	Files   *filemgr.Manager
	Cache   *pagecache.Cache
	Metrics *telemetry.Metrics

	log *telemetry.Logger
}

// Config bundles the telemetry collaborators an Engine is built with.
// A zero Config discards logs and uses a freestanding metrics set.
type Config struct {
	Logger  *telemetry.Logger
	Metrics *telemetry.Metrics
}

// New builds an Engine with its own file manager and page cache.
func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = telemetry.Nop()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics(nil)
	}
	fm := filemgr.New(log)
	cache := pagecache.New(fm, log, metrics)
	return &Engine{
		Files:   fm,
		Cache:   cache,
		Metrics: metrics,
		log:     log.Component("engine"),
	}
}

// CreateFile creates a new, empty file at path.
func (e *Engine) CreateFile(path string) error {
	opID := telemetry.NewOperationID()
	if err := e.Files.Create(path); err != nil {
		e.log.Error().Str("op", opID).Str("path", path).Err(err).Msg("create file failed")
		return err
	}
	e.log.Debug().Str("op", opID).Str("path", path).Msg("create file")
	return nil
}

// OpenFile opens path and returns a descriptor usable with GetHandle.
func (e *Engine) OpenFile(path string) (filemgr.Descriptor, error) {
	opID := telemetry.NewOperationID()
	fd, err := e.Files.Open(path)
	if err != nil {
		e.log.Error().Str("op", opID).Str("path", path).Err(err).Msg("open file failed")
		return fd, err
	}
	e.log.Debug().Str("op", opID).Str("path", path).Msg("open file")
	return fd, nil
}

// CloseFile flushes every cached page belonging to fd and then closes
// its descriptor. The cache must be drained first: once the file
// manager closes fd, the slot number may be reassigned to an unrelated
// file by a later Open, and a late write-back would land on the wrong
// file.
func (e *Engine) CloseFile(fd filemgr.Descriptor) error {
	opID := telemetry.NewOperationID()
	if err := e.Cache.OnCloseFile(fd); err != nil {
		e.log.Error().Str("op", opID).Err(err).Msg("flush before close failed")
		return fmt.Errorf("close file: %w", err)
	}
	if err := e.Files.Close(fd); err != nil {
		e.log.Error().Str("op", opID).Err(err).Msg("close file failed")
		return err
	}
	e.log.Debug().Str("op", opID).Msg("close file")
	return nil
}

// DeleteFile removes path from the filesystem. The file must already be
// closed.
func (e *Engine) DeleteFile(path string) error {
	return e.Files.Delete(path)
}

// GetHandle returns a page handle for (fd, page), loading it into the
// cache on a miss.
func (e *Engine) GetHandle(fd filemgr.Descriptor, page int) (pagecache.Handle, error) {
	return e.Cache.GetHandle(fd, page)
}

// Renew revalidates h, refreshing its position in the LRU order.
func (e *Engine) Renew(h pagecache.Handle) (pagecache.Handle, error) {
	return e.Cache.Renew(h)
}

// MarkDirty flags h's page to be written back before its slot is
// reused or the cache is flushed.
func (e *Engine) MarkDirty(h pagecache.Handle) error {
	return e.Cache.MarkDirty(h)
}
