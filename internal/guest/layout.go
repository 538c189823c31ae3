// Package guest manages the guest physical address space: a flat memory
// buffer starting at guest address 0, the program copied into it, and the
// three-level page table hierarchy that identity-maps the first 2 MiB.
package guest

import (
	"errors"
	"fmt"
)

const (
	// PageSize is the size of a page table and the alignment of every table.
	PageSize = 0x1000
	// HugePageSize is the span mapped by the single PD entry.
	HugePageSize = 2 << 20

	// DefaultMemorySize is 1 GiB.
	DefaultMemorySize = 1 << 30
	DefaultCodeBase   = 0x0
	DefaultPML4       = 0x1000
	DefaultPDPT       = 0x2000
	DefaultPD         = 0x3000
	DefaultStackTop   = 0x200000
)

var ErrInvalidLayout = errors.New("guest: invalid layout")

// Layout places the program, the paging hierarchy and the initial stack in
// guest physical memory.
type Layout struct {
	MemorySize uint64
	CodeBase   uint64
	PML4       uint64
	PDPT       uint64
	PD         uint64
	StackTop   uint64
}

// DefaultLayout returns the fixed layout: 1 GiB of memory, code at 0, tables
// at 0x1000/0x2000/0x3000 and the stack top at 2 MiB.
func DefaultLayout() Layout {
	return Layout{
		MemorySize: DefaultMemorySize,
		CodeBase:   DefaultCodeBase,
		PML4:       DefaultPML4,
		PDPT:       DefaultPDPT,
		PD:         DefaultPD,
		StackTop:   DefaultStackTop,
	}
}

// CodeLimit is the number of bytes available for the program before it would
// reach the first page table.
func (l Layout) CodeLimit() uint64 {
	first := min(l.PML4, l.PDPT, l.PD)
	if first <= l.CodeBase {
		return 0
	}
	return first - l.CodeBase
}

// Validate checks that the tables are page-aligned, distinct, inside memory
// and above the code base, and that the stack top lies in the mapped window.
func (l Layout) Validate() error {
	if l.MemorySize == 0 || l.MemorySize%PageSize != 0 {
		return fmt.Errorf("%w: memory size 0x%x is not a non-zero multiple of 0x%x", ErrInvalidLayout, l.MemorySize, PageSize)
	}

	tables := []struct {
		name string
		addr uint64
	}{
		{"pml4", l.PML4},
		{"pdpt", l.PDPT},
		{"pd", l.PD},
	}
	for i, t := range tables {
		if t.addr%PageSize != 0 {
			return fmt.Errorf("%w: %s offset 0x%x is not page-aligned", ErrInvalidLayout, t.name, t.addr)
		}
		if t.addr > l.MemorySize-PageSize {
			return fmt.Errorf("%w: %s offset 0x%x outside memory of 0x%x bytes", ErrInvalidLayout, t.name, t.addr, l.MemorySize)
		}
		if t.addr >= HugePageSize {
			return fmt.Errorf("%w: %s offset 0x%x outside the identity-mapped window", ErrInvalidLayout, t.name, t.addr)
		}
		for _, o := range tables[:i] {
			if o.addr == t.addr {
				return fmt.Errorf("%w: %s and %s share offset 0x%x", ErrInvalidLayout, o.name, t.name, t.addr)
			}
		}
	}

	if l.CodeLimit() == 0 {
		return fmt.Errorf("%w: code base 0x%x is not below the page tables", ErrInvalidLayout, l.CodeBase)
	}
	if l.StackTop == 0 || l.StackTop > HugePageSize || l.StackTop > l.MemorySize {
		return fmt.Errorf("%w: stack top 0x%x outside (0, 0x%x]", ErrInvalidLayout, l.StackTop, min(uint64(HugePageSize), l.MemorySize))
	}
	if l.StackTop%16 != 0 {
		return fmt.Errorf("%w: stack top 0x%x is not 16-byte aligned", ErrInvalidLayout, l.StackTop)
	}
	return nil
}
