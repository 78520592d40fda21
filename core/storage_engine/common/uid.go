package common

// UID addresses a data item as page number (high 32 bits) and in-page offset
// (low 16 bits).
type UID = uint64

// PageNo is a 1-based page number. Zero is never a valid page.
type PageNo = uint32

// AddressToUID packs a page number and an offset.
func AddressToUID(pgno PageNo, offset uint16) UID {
	return uint64(pgno)<<32 | uint64(offset)
}

// UIDToAddress is the inverse of AddressToUID.
func UIDToAddress(uid UID) (PageNo, uint16) {
	return PageNo(uid >> 32), uint16(uid & 0xffff)
}
