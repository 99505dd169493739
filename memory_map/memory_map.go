package memory_map

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"memcore/memory"
)

// MemoryMapItem is one line of a maps table: a mapped range and its permissions.
type MemoryMapItem struct {
	Address uint64 `json:"address"`
	Size    uint64 `json:"size"`
	Perms   string `json:"perms"` // e.g. "r-xp"
	Offset  uint64 `json:"offset,omitempty"`
	Path    string `json:"path,omitempty"`
}

func (mmItem MemoryMapItem) String() string {
	return fmt.Sprintf("Address: %x, Size: %d, Perms: %s %s", mmItem.Address, mmItem.Size, mmItem.Perms, mmItem.Path)
}

func (mmItem MemoryMapItem) End() uint64 {
	return mmItem.Address + mmItem.Size
}

func (mmItem MemoryMapItem) IsReadable() bool {
	return len(mmItem.Perms) > 0 && mmItem.Perms[0] == 'r'
}

func (mmItem MemoryMapItem) IsWritable() bool {
	return len(mmItem.Perms) > 1 && mmItem.Perms[1] == 'w'
}

func (mmItem MemoryMapItem) IsExecutable() bool {
	return len(mmItem.Perms) > 2 && mmItem.Perms[2] == 'x'
}

// State translates the perms column. A mapping is committed unless it is
// "---", the PROT_NONE reservation that backs no memory.
func (mmItem MemoryMapItem) State() memory.PageState {
	var state memory.PageState
	if mmItem.IsReadable() {
		state |= memory.PageRead
	}
	if mmItem.IsWritable() {
		state |= memory.PageWrite
	}
	if mmItem.IsExecutable() {
		state |= memory.PageExecute
	}
	if state != 0 {
		state |= memory.PageCommit
	}
	return state
}

// Region converts the item to a memory.Region.
func (mmItem MemoryMapItem) Region() memory.Region {
	return memory.Region{
		Base:  memory.Address(mmItem.Address),
		Size:  memory.Size(mmItem.Size),
		State: mmItem.State(),
	}
}

// Perms renders state as a private mapping perms column.
func Perms(state memory.PageState) string {
	out := []byte("---p")
	if state.Has(memory.PageRead) {
		out[0] = 'r'
	}
	if state.Has(memory.PageWrite) {
		out[1] = 'w'
	}
	if state.Has(memory.PageExecute) {
		out[2] = 'x'
	}
	return string(out)
}

// Parse reads a /proc/<pid>/maps table. Malformed lines are skipped.
// The result is sorted by address.
func Parse(r io.Reader) ([]MemoryMapItem, error) {
	var memoryMap []MemoryMapItem
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		// Parse address range (e.g., "00400000-0040b000")
		addrRange := strings.Split(fields[0], "-")
		if len(addrRange) != 2 {
			continue
		}

		startAddr, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}

		endAddr, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil || endAddr < startAddr {
			continue
		}

		item := MemoryMapItem{
			Address: startAddr,
			Size:    endAddr - startAddr,
			Perms:   fields[1],
		}
		if len(fields) > 2 {
			item.Offset, _ = strconv.ParseUint(fields[2], 16, 64)
		}
		if len(fields) > 5 {
			item.Path = strings.Join(fields[5:], " ")
		}

		memoryMap = append(memoryMap, item)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	Sort(memoryMap)
	return memoryMap, nil
}

func Sort(memoryMap []MemoryMapItem) {
	sort.Slice(memoryMap, func(i, j int) bool {
		return memoryMap[i].Address < memoryMap[j].Address
	})
}

// Find returns the item containing addr in a sorted map, or nil.
func Find(addr uint64, memoryMap []MemoryMapItem) *MemoryMapItem {
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})
	if i < len(memoryMap) && memoryMap[i].Address <= addr {
		return &memoryMap[i]
	}

	return nil
}

// Overlapping returns the items of a sorted map that intersect [addr, addr+size).
func Overlapping(addr, size uint64, memoryMap []MemoryMapItem) []MemoryMapItem {
	end := addr + size
	i := sort.Search(len(memoryMap), func(i int) bool {
		return memoryMap[i].End() > addr
	})

	var out []MemoryMapItem
	for ; i < len(memoryMap) && memoryMap[i].Address < end; i++ {
		out = append(out, memoryMap[i])
	}
	return out
}

// Module returns the image mapped from path: the extent from its first mapping
// to the end of its last mapping, holes included.
func Module(path string, memoryMap []MemoryMapItem) (memory.Module, bool) {
	var start, end uint64
	found := false
	for _, item := range memoryMap {
		if item.Path != path {
			continue
		}
		if !found {
			start = item.Address
			found = true
		}
		end = item.End()
	}
	if !found {
		return memory.Module{}, false
	}
	return memory.Module{Base: memory.Address(start), Size: memory.Size(end - start), Path: path}, true
}
