package platform

import (
	"github.com/bobuhiro11/goboot/addr"
	"github.com/bobuhiro11/goboot/paging"
)

const gib = 1 << 30

// buildPageTables identity maps the low 4 GiB, or all of memory when there is
// more, with 2 MiB pages: a PML4 at PageTableBase, one PDPT after it and one
// page directory per GiB. It returns the number of pages used.
func (f *Firmware) buildPageTables() (uint64, error) {
	dirs := uint64(4)
	if n := (f.mem.Size() + gib - 1) / gib; n > dirs {
		dirs = n
	}

	pml4 := addr.PhysAddr(PageTableBase)
	pdpt := pml4 + addr.PageSize
	pages := 2 + dirs

	if err := f.mem.Zero(pml4, pages*addr.PageSize); err != nil {
		return 0, err
	}

	table := uint64(paging.PDE64xPRESENT | paging.PDE64xRW)

	if err := f.mem.PutUint64(pml4, uint64(pdpt)|table); err != nil {
		return 0, err
	}

	for d := uint64(0); d < dirs; d++ {
		pd := pdpt + addr.PhysAddr((1+d)*addr.PageSize)

		if err := f.mem.PutUint64(pdpt+addr.PhysAddr(d*8), uint64(pd)|table); err != nil {
			return 0, err
		}

		for e := uint64(0); e < 512; e++ {
			leaf := d*gib + e*addr.HugePageSize | table | uint64(paging.PDE64xPS)

			if err := f.mem.PutUint64(pd+addr.PhysAddr(e*8), leaf); err != nil {
				return 0, err
			}
		}
	}

	return pages, nil
}
