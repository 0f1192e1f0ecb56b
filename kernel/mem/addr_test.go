package mem

import (
	"testing"

	"nucleus/kernel"
)

func TestNewPhysAddr(t *testing.T) {
	specs := []struct {
		addr   uintptr
		align  Size
		expErr *kernel.Error
	}{
		{0x1000, PageSize, nil},
		{0x1234, 0, nil},
		{0x1234, 1, nil},
		{0x1234, PageSize, ErrUnaligned},
		{0x200000, 2 * Mb, nil},
		{0x201000, 2 * Mb, ErrUnaligned},
		{1 << 52, PageSize, ErrPhysAddrRange},
	}

	for specIndex, spec := range specs {
		addr, err := NewPhysAddr(spec.addr, spec.align)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if err == nil && uintptr(addr) != spec.addr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.addr, addr)
		}
	}
}

func TestNewVirtAddr(t *testing.T) {
	specs := []struct {
		addr   uintptr
		align  Size
		expErr *kernel.Error
	}{
		{0x4444_4444_0000, PageSize, nil},
		{0x0000_7fff_ffff_f000, PageSize, nil},
		{0xffff_8000_0000_0000, PageSize, nil},
		{0x0000_8000_0000_0000, PageSize, ErrNonCanonical},
		{0xfff0_0000_0000_0000, 0, ErrNonCanonical},
		{0x4444_4444_0010, PageSize, ErrUnaligned},
		{0x4444_4444_0010, 16, nil},
	}

	for specIndex, spec := range specs {
		addr, err := NewVirtAddr(spec.addr, spec.align)
		if err != spec.expErr {
			t.Errorf("[spec %d] expected error %v; got %v", specIndex, spec.expErr, err)
			continue
		}

		if err == nil && uintptr(addr) != spec.addr {
			t.Errorf("[spec %d] expected address 0x%x; got 0x%x", specIndex, spec.addr, addr)
		}
	}
}

func TestAddrAlignment(t *testing.T) {
	p := PhysAddr(0x1234)
	if got, exp := p.AlignDown(PageSize), PhysAddr(0x1000); got != exp {
		t.Errorf("expected AlignDown to return 0x%x; got 0x%x", exp, got)
	}
	if got, exp := p.AlignUp(PageSize), PhysAddr(0x2000); got != exp {
		t.Errorf("expected AlignUp to return 0x%x; got 0x%x", exp, got)
	}
	if p.IsAligned(PageSize) {
		t.Error("expected 0x1234 not to be page aligned")
	}
	if got := PhysAddr(0x2000).AlignUp(PageSize); got != 0x2000 {
		t.Errorf("expected aligned address to be left untouched; got 0x%x", got)
	}

	v := VirtAddr(0xdead_beef)
	if got, exp := v.AlignDown(PageSize), VirtAddr(0xdead_b000); got != exp {
		t.Errorf("expected AlignDown to return 0x%x; got 0x%x", exp, got)
	}
	if got, exp := v.AlignUp(PageSize), VirtAddr(0xdead_c000); got != exp {
		t.Errorf("expected AlignUp to return 0x%x; got 0x%x", exp, got)
	}
	if got, exp := v.PageOffset(), uintptr(0xeef); got != exp {
		t.Errorf("expected page offset 0x%x; got 0x%x", exp, got)
	}
}

func TestVirtAddrTableIndex(t *testing.T) {
	// 0x4444_4444_0000 decomposes into 136/273/34/64 across the four
	// table levels.
	v := VirtAddr(0x4444_4444_0000)
	for level, exp := range []uint16{136, 273, 34, 64} {
		if got := v.TableIndex(uint8(level)); got != exp {
			t.Errorf("[level %d] expected index %d; got %d", level, exp, got)
		}
	}

	v = VirtAddr(0xffff_ffff_ffff_f000)
	for level := uint8(0); level < 4; level++ {
		if got := v.TableIndex(level); got != 511 {
			t.Errorf("[level %d] expected index 511; got %d", level, got)
		}
	}
}

func TestPhysAddrVirtual(t *testing.T) {
	defer func(orig VirtAddr) { SetPhysMemOffset(orig) }(PhysMemOffset())

	SetPhysMemOffset(0xffff_8000_0000_0000)
	if got, exp := PhysAddr(0x3000).Virtual(), VirtAddr(0xffff_8000_0000_3000); got != exp {
		t.Fatalf("expected physical address to map to 0x%x; got 0x%x", exp, got)
	}
}
