package gridio

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/quakeloss/internal/grid"
)

// LoadFunc reads a grid from a path.
type LoadFunc func(path string) (*grid.Grid, error)

// Cache loads each reference grid once and shares it read-only.
// Concurrent requests for the same path wait on a single load.
type Cache struct {
	load  LoadFunc
	group singleflight.Group

	mu    sync.RWMutex
	grids map[string]*grid.Grid
}

// NewCache returns a cache backed by load (LoadASCII when nil).
func NewCache(load LoadFunc) *Cache {
	if load == nil {
		load = LoadASCII
	}
	return &Cache{load: load, grids: make(map[string]*grid.Grid)}
}

// Get returns the grid at path, loading it on first use. Callers must not
// modify the returned grid.
func (c *Cache) Get(ctx context.Context, path string) (*grid.Grid, error) {
	c.mu.RLock()
	g, ok := c.grids[path]
	c.mu.RUnlock()
	if ok {
		return g, nil
	}

	ch := c.group.DoChan(path, func() (any, error) {
		c.mu.RLock()
		g, ok := c.grids[path]
		c.mu.RUnlock()
		if ok {
			return g, nil
		}
		zap.L().Info("gridio: loading reference grid", zap.String("path", path))
		g, err := c.load(path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.grids[path] = g
		c.mu.Unlock()
		return g, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, eris.Wrapf(res.Err, "gridio: load %s", path)
		}
		return res.Val.(*grid.Grid), nil
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "gridio: waiting for grid")
	}
}

// Len returns the number of loaded grids.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.grids)
}
