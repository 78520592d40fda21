package pagemanager

import "encoding/binary"

// Normal page layout: [free space offset uint16][data...]
const (
	offsetFree = 0
	lenFree    = 2

	// OffsetData is where the first item of a normal page starts.
	OffsetData = offsetFree + lenFree

	// MaxFreeSpace is the largest payload a single normal page can hold.
	MaxFreeSpace = PageSize - lenFree
)

// InitNormalRaw returns an empty normal page.
func InitNormalRaw() []byte {
	raw := make([]byte, PageSize)
	setFSO(raw, lenFree)
	return raw
}

func setFSO(raw []byte, fso uint16) {
	binary.LittleEndian.PutUint16(raw[offsetFree:offsetFree+lenFree], fso)
}

func getFSO(raw []byte) uint16 {
	return binary.LittleEndian.Uint16(raw[offsetFree : offsetFree+lenFree])
}

// FSO returns the page's free space offset.
func FSO(p *Page) uint16 { return getFSO(p.Data()) }

// FreeSpace returns the number of bytes still free on the page.
func FreeSpace(p *Page) int { return PageSize - int(getFSO(p.Data())) }

// Insert appends raw at the free space offset and returns the offset it was
// written to.
func Insert(p *Page, raw []byte) uint16 {
	p.Lock()
	defer p.Unlock()
	p.SetDirty(true)
	data := p.Data()
	offset := getFSO(data)
	copy(data[offset:], raw)
	setFSO(data, offset+uint16(len(raw)))
	return offset
}

// RecoverInsert replays an insert at offset. The free space offset only ever
// moves forward.
func RecoverInsert(p *Page, raw []byte, offset uint16) {
	p.Lock()
	defer p.Unlock()
	p.SetDirty(true)
	data := p.Data()
	copy(data[offset:], raw)
	if end := offset + uint16(len(raw)); getFSO(data) < end {
		setFSO(data, end)
	}
}

// RecoverUpdate overwrites the bytes at offset.
func RecoverUpdate(p *Page, raw []byte, offset uint16) {
	p.Lock()
	defer p.Unlock()
	p.SetDirty(true)
	copy(p.Data()[offset:], raw)
}
