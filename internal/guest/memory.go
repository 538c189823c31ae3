package guest

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Page table entry bits.
const (
	PTEPresent  uint64 = 1 << 0
	PTEWritable uint64 = 1 << 1
	PTEHuge     uint64 = 1 << 7

	// EntriesPerTable is the number of 8-byte entries in one table page.
	EntriesPerTable = PageSize / 8

	addrMask     uint64 = 0x000ffffffffff000
	hugeAddrMask uint64 = 0x000fffffffe00000
)

var (
	ErrCodeTooLarge = errors.New("guest: code overlaps the page tables")
	ErrEmptyCode    = errors.New("guest: empty code")
	ErrClosed       = errors.New("guest: memory is closed")
)

// Memory is the guest physical memory buffer. Offset 0 of Bytes() is guest
// physical address 0.
type Memory struct {
	buf       []byte
	layout    Layout
	codeLen   int
	installed bool
	release   func([]byte) error
}

// FromBytes wraps an existing buffer as guest memory. The buffer must be at
// least layout.MemorySize bytes; only that prefix is used.
func FromBytes(buf []byte, layout Layout) (*Memory, error) {
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	if uint64(len(buf)) < layout.MemorySize {
		return nil, fmt.Errorf("guest: buffer of %d bytes smaller than memory size 0x%x", len(buf), layout.MemorySize)
	}
	return &Memory{buf: buf[:layout.MemorySize], layout: layout}, nil
}

// Bytes returns the backing buffer.
func (m *Memory) Bytes() []byte { return m.buf }

// Layout returns the layout the memory was created with.
func (m *Memory) Layout() Layout { return m.layout }

// Size returns the guest memory size in bytes.
func (m *Memory) Size() uint64 { return uint64(len(m.buf)) }

// Code returns the loaded program bytes.
func (m *Memory) Code() []byte {
	return m.buf[m.layout.CodeBase : m.layout.CodeBase+uint64(m.codeLen)]
}

// LoadCode copies code to the layout's code base. It fails without touching
// memory when code is empty or would reach the first page table.
func (m *Memory) LoadCode(code []byte) error {
	if m.buf == nil {
		return ErrClosed
	}
	if len(code) == 0 {
		return ErrEmptyCode
	}
	if limit := m.layout.CodeLimit(); uint64(len(code)) >= limit {
		return fmt.Errorf("%w: %d bytes at 0x%x, limit %d", ErrCodeTooLarge, len(code), m.layout.CodeBase, limit-1)
	}
	copy(m.buf[m.layout.CodeBase:], code)
	m.codeLen = len(code)
	return nil
}

// InstallPageTables writes the identity mapping of [0, 2 MiB):
//
//	PML4[0] = PRESENT | WRITABLE | PDPT
//	PDPT[0] = PRESENT | WRITABLE | PD
//	PD[0]   = PRESENT | WRITABLE | HUGE | 0
//
// Every other entry of the three tables is cleared.
func (m *Memory) InstallPageTables() error {
	if m.buf == nil {
		return ErrClosed
	}
	l := m.layout
	for _, table := range []uint64{l.PML4, l.PDPT, l.PD} {
		clear(m.buf[table : table+PageSize])
	}

	m.putEntry(l.PML4, 0, PTEPresent|PTEWritable|l.PDPT)
	m.putEntry(l.PDPT, 0, PTEPresent|PTEWritable|l.PD)
	m.putEntry(l.PD, 0, PTEPresent|PTEWritable|PTEHuge)
	m.installed = true
	return nil
}

func (m *Memory) putEntry(table uint64, index int, value uint64) {
	binary.LittleEndian.PutUint64(m.buf[table+uint64(index)*8:], value)
}

// Entry reads entry index of the table at guest address table.
func (m *Memory) Entry(table uint64, index int) (uint64, error) {
	if index < 0 || index >= EntriesPerTable {
		return 0, fmt.Errorf("guest: entry index %d out of range", index)
	}
	off := table + uint64(index)*8
	if off+8 > m.Size() {
		return 0, fmt.Errorf("guest: table 0x%x outside memory", table)
	}
	return binary.LittleEndian.Uint64(m.buf[off:]), nil
}

// Translate walks the page tables the way the MMU would for a 4-level,
// 48-bit virtual address and returns the physical address. Only 2 MiB leaf
// entries in the PD are followed.
func (m *Memory) Translate(vaddr uint64) (uint64, bool) {
	if !m.installed {
		return 0, false
	}
	pml4e, err := m.Entry(m.layout.PML4, int(vaddr>>39&0x1ff))
	if err != nil || pml4e&PTEPresent == 0 {
		return 0, false
	}
	pdpte, err := m.Entry(pml4e&addrMask, int(vaddr>>30&0x1ff))
	if err != nil || pdpte&PTEPresent == 0 || pdpte&PTEHuge != 0 {
		return 0, false
	}
	pde, err := m.Entry(pdpte&addrMask, int(vaddr>>21&0x1ff))
	if err != nil || pde&PTEPresent == 0 || pde&PTEHuge == 0 {
		return 0, false
	}
	return pde&hugeAddrMask | vaddr&(HugePageSize-1), true
}

// Close releases memory obtained from Allocate. Idempotent.
func (m *Memory) Close() error {
	if m == nil || m.buf == nil {
		return nil
	}
	buf := m.buf
	m.buf = nil
	if m.release != nil {
		return m.release(buf)
	}
	return nil
}
