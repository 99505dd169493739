//go:build linux

package memory_map

import (
	"fmt"
	"os"
)

// ReadMemoryMap reads and parses /proc/[pid]/maps.
func ReadMemoryMap(pid int) ([]MemoryMapItem, error) {
	return readFile(fmt.Sprintf("/proc/%d/maps", pid))
}

// ReadSelf reads the memory map of the calling process.
func ReadSelf() ([]MemoryMapItem, error) {
	return readFile("/proc/self/maps")
}

func readFile(name string) ([]MemoryMapItem, error) {
	file, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Parse(file)
}
