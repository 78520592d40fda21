package pagemanager

import (
	"bytes"

	"github.com/google/uuid"
)

// Page one carries the clean-shutdown marker: a random value written at open
// into [markerOffset, markerOffset+markerLen) and copied right after it on
// clean close.
const (
	markerOffset = 100
	markerLen    = 8
)

// InitPageOneRaw builds the initial contents of page one with a fresh marker.
func InitPageOneRaw() []byte {
	raw := make([]byte, PageSize)
	setMarkerOpen(raw)
	return raw
}

// SetMarkerOpen writes a fresh random marker and marks the page dirty.
func SetMarkerOpen(p *Page) {
	p.SetDirty(true)
	setMarkerOpen(p.Data())
}

func setMarkerOpen(raw []byte) {
	u := uuid.New()
	copy(raw[markerOffset:markerOffset+markerLen], u[:markerLen])
}

// SetMarkerClose copies the open marker so CheckMarker succeeds on next open.
func SetMarkerClose(p *Page) {
	p.SetDirty(true)
	raw := p.Data()
	copy(raw[markerOffset+markerLen:markerOffset+2*markerLen], raw[markerOffset:markerOffset+markerLen])
}

// CheckMarker reports whether the database was closed cleanly.
func CheckMarker(p *Page) bool {
	raw := p.Data()
	return bytes.Equal(raw[markerOffset:markerOffset+markerLen], raw[markerOffset+markerLen:markerOffset+2*markerLen])
}
