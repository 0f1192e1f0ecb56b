//go:build amd64

package mem

const (
	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// virtAddrBits is the number of implemented virtual address bits with
	// 4-level paging. Bits 48-63 must be copies of bit 47.
	virtAddrBits = 48

	// physAddrBits is the architectural limit for physical addresses.
	physAddrBits = 52
)
