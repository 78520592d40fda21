package pagemanager

import (
	"sync"

	"github.com/sushant-115/gojotx/core/storage_engine/common"
)

const (
	intervalsNo = 40
	// threshold is the width in bytes of one free-space bucket.
	threshold = (PageSize + intervalsNo - 1) / intervalsNo
)

// PageInfo is a free-space index entry.
type PageInfo struct {
	Pgno      common.PageNo
	FreeSpace int
}

// PageIndex buckets pages by their free space so inserts can find a page
// large enough without scanning the file. It is rebuilt at every open.
type PageIndex struct {
	mu    sync.Mutex
	lists [intervalsNo + 1][]PageInfo
}

func NewPageIndex() *PageIndex {
	return &PageIndex{}
}

// Add makes pgno selectable for any request up to freeSpace bytes.
func (pi *PageIndex) Add(pgno common.PageNo, freeSpace int) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	n := bucket(freeSpace)
	pi.lists[n] = append(pi.lists[n], PageInfo{Pgno: pgno, FreeSpace: freeSpace})
}

// Select removes and returns a page with at least spaceSize free bytes. The
// page is unavailable to other callers until it is added back.
func (pi *PageIndex) Select(spaceSize int) (PageInfo, bool) {
	pi.mu.Lock()
	defer pi.mu.Unlock()
	for n := bucket(spaceSize); n <= intervalsNo; n++ {
		for i, info := range pi.lists[n] {
			if info.FreeSpace < spaceSize {
				continue
			}
			pi.lists[n] = append(pi.lists[n][:i], pi.lists[n][i+1:]...)
			return info, true
		}
	}
	return PageInfo{}, false
}

func bucket(space int) int {
	n := space / threshold
	if n > intervalsNo {
		n = intervalsNo
	}
	if n < 0 {
		n = 0
	}
	return n
}
