package memory_blob

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"memcore/memory"
	"memcore/memory_map"
)

// DefaultImageBase is where LoadFile maps an image when no base is given.
const DefaultImageBase memory.Address = 0x140000000

type metadata struct {
	Module struct {
		Base uint64 `json:"base"`
		Size uint64 `json:"size"`
		Path string `json:"path,omitempty"`
	} `json:"module"`
	Regions []memory_map.MemoryMapItem `json:"regions"`
}

func regionFile(dirname string, base memory.Address) string {
	return filepath.Join(dirname, fmt.Sprintf("region_%x.bin", uint64(base)))
}

// Save writes metadata.json and one region_<hex>.bin per committed region to dirname.
func (b *Blob) Save(dirname string) error {
	if err := os.MkdirAll(dirname, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var meta metadata
	meta.Module.Base = uint64(b.module.Base)
	meta.Module.Size = uint64(b.module.Size)
	meta.Module.Path = b.module.Path

	for _, r := range b.regions {
		meta.Regions = append(meta.Regions, memory_map.MemoryMapItem{
			Address: uint64(r.base),
			Size:    uint64(len(r.data)),
			Perms:   memory_map.Perms(r.state()),
		})
		if !r.committed {
			continue
		}
		if err := os.WriteFile(regionFile(dirname, r.base), r.data, 0644); err != nil {
			return fmt.Errorf("failed to write region %s: %w", r.base, err)
		}
	}

	metadataJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dirname, "metadata.json"), metadataJSON, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Load reads a dump written by Save. A "---" region is loaded as a reservation.
func Load(dirname string) (*Blob, error) {
	metadataBytes, err := os.ReadFile(filepath.Join(dirname, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta metadata
	if err := json.Unmarshal(metadataBytes, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	b := New()
	b.SetModule(memory.Address(meta.Module.Base), memory.Size(meta.Module.Size), meta.Module.Path)

	for _, item := range meta.Regions {
		base := memory.Address(item.Address)
		state := item.State()
		if !state.Has(memory.PageCommit) {
			if err := b.Reserve(base, memory.Size(item.Size)); err != nil {
				return nil, err
			}
			continue
		}

		data, err := os.ReadFile(regionFile(dirname, base))
		if err != nil {
			return nil, fmt.Errorf("failed to read region %s: %w", base, err)
		}
		if uint64(len(data)) != item.Size {
			return nil, fmt.Errorf("region %s: file holds %d bytes, metadata says %d", base, len(data), item.Size)
		}
		if err := b.Map(base, data, state); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// LoadFile maps the raw contents of filename as a readable, executable
// primary module at base, or at DefaultImageBase when base is zero.
func LoadFile(filename string, base memory.Address) (*Blob, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if base == 0 {
		base = DefaultImageBase
	}

	b := New()
	if err := b.Map(base, data, memory.PageRead|memory.PageExecute); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	b.SetModule(base, memory.Size(len(data)), filename)
	return b, nil
}

// Snapshot copies the readable regions overlapping [base, base+size) of any
// target into a new Blob, with the same module.
func Snapshot(target memory.Target, base memory.Address, size memory.Size) (*Blob, error) {
	regions, err := target.Regions(base, size)
	if err != nil {
		return nil, err
	}

	b := New()
	for _, r := range regions {
		if !r.State.Has(memory.PageCommit) {
			if err := b.Reserve(r.Base, r.Size); err != nil {
				return nil, err
			}
			continue
		}
		if !r.State.Has(memory.PageRead) {
			continue
		}

		data := make([]byte, r.Size)
		if err := target.Access(r.Base, r.Size, func(mem []byte) { copy(data, mem) }); err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", r, err)
		}
		if err := b.Map(r.Base, data, r.State); err != nil {
			return nil, err
		}
	}

	if module, err := target.PrimaryModule(); err == nil {
		b.module = module
	}
	return b, nil
}
