package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"pagestore/src/common"
	"pagestore/src/disk"
	"pagestore/src/table"
)

// Catalog maps table ids and names to the heap files that store them.
type Catalog struct {
	files map[uint64]*table.HeapFile
	names map[uint64]string
	ids   map[string]uint64
	mu    sync.RWMutex
}

func NewCatalog() *Catalog {
	return &Catalog{
		files: make(map[uint64]*table.HeapFile),
		names: make(map[uint64]string),
		ids:   make(map[string]uint64),
	}
}

// AddTable registers file under name and returns the name used. An empty
// name is replaced by a random one. Adding a name or file that is already
// registered replaces the earlier entry.
func (c *Catalog) AddTable(file *table.HeapFile, name string) string {
	if name == "" {
		name = uuid.NewString()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if oldId, ok := c.ids[name]; ok && oldId != file.ID() {
		log.Warnf("Table %s now refers to %s.", name, file.Path())
		delete(c.files, oldId)
		delete(c.names, oldId)
	}
	if oldName, ok := c.names[file.ID()]; ok {
		delete(c.ids, oldName)
	}
	c.files[file.ID()] = file
	c.names[file.ID()] = name
	c.ids[name] = file.ID()
	return name
}

func (c *Catalog) TableID(name string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.ids[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", common.ErrNoSuchTable, name)
	}
	return id, nil
}

func (c *Catalog) TableName(id uint64) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	name, ok := c.names[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", common.ErrNoSuchTable, id)
	}
	return name, nil
}

func (c *Catalog) DatabaseFile(id uint64) (*table.HeapFile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	file, ok := c.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", common.ErrNoSuchTable, id)
	}
	return file, nil
}

func (c *Catalog) TupleDesc(id uint64) (*table.TupleDesc, error) {
	file, err := c.DatabaseFile(id)
	if err != nil {
		return nil, err
	}
	return file.TupleDesc(), nil
}

// ResolveTableFile lets the page cache find the file behind a page id.
func (c *Catalog) ResolveTableFile(id uint64) (disk.DbFile, error) {
	file, err := c.DatabaseFile(id)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// TableIDs returns every registered table id in ascending order.
func (c *Catalog) TableIDs() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]uint64, 0, len(c.files))
	for id := range c.files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clear forgets every table without closing its file.
func (c *Catalog) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.files = make(map[uint64]*table.HeapFile)
	c.names = make(map[uint64]string)
	c.ids = make(map[string]uint64)
}

// Close closes every registered file and clears the catalog.
func (c *Catalog) Close() error {
	c.mu.Lock()
	var errs []error
	for _, file := range c.files {
		if err := file.Close(); err != nil {
			log.WithError(err).Warnf("Cannot close %s.", file.Path())
			errs = append(errs, err)
		}
	}
	c.mu.Unlock()

	c.Clear()
	return errors.Join(errs...)
}
