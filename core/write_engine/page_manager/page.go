// Package pagemanager lays out pages and caches them over the database file.
package pagemanager

import (
	"sync"
	"sync/atomic"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

// --- Page Management ---

// PageSize is the size in bytes of every page in the data file.
const PageSize = 8192

// Page is an in-memory copy of a disk page owned by the PageCache.
type Page struct {
	pgno  common.PageNo
	data  []byte
	dirty atomic.Bool

	// latch protects in-page structure (the free-space offset) during inserts.
	latch sync.Mutex
	pc    *PageCache
}

func newPage(pgno common.PageNo, data []byte, pc *PageCache) *Page {
	return &Page{pgno: pgno, data: data, pc: pc}
}

func (p *Page) Lock()                     { p.latch.Lock() }
func (p *Page) Unlock()                   { p.latch.Unlock() }
func (p *Page) PageNumber() common.PageNo { return p.pgno }
func (p *Page) Data() []byte              { return p.data }
func (p *Page) IsDirty() bool             { return p.dirty.Load() }
func (p *Page) SetDirty(dirty bool)       { p.dirty.Store(dirty) }

// Release returns the page to its cache.
func (p *Page) Release() {
	if p.pc != nil {
		p.pc.Release(p)
	}
}
