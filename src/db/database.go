package db

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"pagestore/src/catalog"
	"pagestore/src/common"
	"pagestore/src/disk"
	"pagestore/src/lock"
	"pagestore/src/table"
)

// Database owns one page cache, its lock manager and the catalog of tables
// the cache reads from.
type Database struct {
	cfg      common.Config
	registry *prometheus.Registry
	locks    *lock.LockManager
	catalog  *catalog.Catalog
	cache    *disk.PageCache
}

func Open(cfg common.Config) (*Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		level, err := log.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidConfig, err)
		}
		log.SetLevel(level)
	}

	registry := prometheus.NewRegistry()
	locks := lock.NewLockManager(cfg.LockPollInterval, registry)
	cat := catalog.NewCatalog()
	db := &Database{
		cfg:      cfg,
		registry: registry,
		locks:    locks,
		catalog:  cat,
		cache:    disk.NewPageCache(cfg, cat, locks, registry),
	}
	log.WithFields(log.Fields{
		"page_size":      cfg.PageSize,
		"cache_capacity": cfg.CacheCapacity,
		"direct_io":      cfg.DirectIO,
	}).Info("Database opened.")
	return db, nil
}

// OpenFile opens a database configured by the YAML file at path.
func OpenFile(path string) (*Database, error) {
	cfg, err := common.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Open(cfg)
}

// CreateTable opens the heap file at path, creating it if needed, and
// registers it under name. An empty name gets a generated one.
func (db *Database) CreateTable(path string, name string, desc *table.TupleDesc) (*table.HeapFile, error) {
	file, err := table.NewHeapFile(path, desc, db.cache, db.cfg)
	if err != nil {
		return nil, err
	}
	name = db.catalog.AddTable(file, name)
	log.WithFields(log.Fields{"table": name, "id": file.ID(), "schema": desc.String()}).Debug("Table added.")
	return file, nil
}

func (db *Database) Begin() common.TransactionID {
	return common.NewTransactionID()
}

func (db *Database) Commit(tid common.TransactionID) error {
	return db.cache.TransactionComplete(tid, true)
}

func (db *Database) Abort(tid common.TransactionID) error {
	return db.cache.TransactionComplete(tid, false)
}

// Close writes back any dirty pages and closes every table file.
func (db *Database) Close() error {
	if err := db.cache.FlushAllPages(); err != nil {
		return err
	}
	return db.catalog.Close()
}

func (db *Database) Config() common.Config { return db.cfg }

func (db *Database) PageCache() *disk.PageCache { return db.cache }

func (db *Database) Catalog() *catalog.Catalog { return db.catalog }

func (db *Database) LockManager() *lock.LockManager { return db.locks }

func (db *Database) Registry() *prometheus.Registry { return db.registry }
