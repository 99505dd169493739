package hexdump

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode"

	"memcore/memory"
	"memcore/pattern"

	"github.com/Moonlight-Companies/gologger/coloransi"
)

// Options controls the layout and colouring of a dump.
type Options struct {
	// BytesPerLine is the number of bytes shown per line.
	BytesPerLine int

	// GroupSize groups bytes without a separating space (1, 2, 4 or 8).
	GroupSize int

	ShowASCII bool

	// Start is the address of data[0], printed in the offset column.
	Start memory.Address

	// OffsetWidth is the width of the offset column in hex digits.
	OffsetWidth int

	OffsetColor       coloransi.ColorCode
	HexColor          coloransi.ColorCode
	ASCIIColor        coloransi.ColorCode
	NonPrintableColor coloransi.ColorCode
	ZeroColor         coloransi.ColorCode

	// Highlight marks every match of the pattern. Wildcard positions of a
	// match are highlighted too.
	Highlight *pattern.Pattern

	HighlightColor           coloransi.ColorCode
	HighlightBackgroundColor coloransi.ColorCode

	// MaxLines limits the output, 0 for no limit.
	MaxLines int

	// Regions, when set, enables the pointer column: the first two 8 byte
	// little endian words of a line are printed when they point into a region.
	Regions []memory.Region
}

// DefaultOptions returns 16 bytes per line with ASCII and offset columns.
func DefaultOptions() Options {
	return Options{
		BytesPerLine:             16,
		GroupSize:                1,
		ShowASCII:                true,
		OffsetWidth:              8,
		OffsetColor:              coloransi.Cyan,
		HexColor:                 coloransi.Green,
		ASCIIColor:               coloransi.White,
		NonPrintableColor:        coloransi.BrightBlack,
		ZeroColor:                coloransi.BrightBlack,
		HighlightColor:           coloransi.Yellow,
		HighlightBackgroundColor: coloransi.Black,
	}
}

// Dump returns the hex dump of data.
func Dump(data []byte, options Options) string {
	var buffer bytes.Buffer
	DumpToWriter(&buffer, data, options)
	return buffer.String()
}

// DumpToWriter writes the hex dump of data to writer.
func DumpToWriter(writer io.Writer, data []byte, options Options) {
	if options.BytesPerLine <= 0 {
		options.BytesPerLine = 16
	}
	if options.GroupSize <= 0 {
		options.GroupSize = 1
	}
	if options.OffsetWidth <= 0 {
		options.OffsetWidth = 8
	}

	marked := highlighted(data, options.Highlight)

	lines := 0
	for offset := 0; offset < len(data); offset += options.BytesPerLine {
		if options.MaxLines > 0 && lines >= options.MaxLines {
			fmt.Fprintf(writer, "... %d more bytes\n", len(data)-offset)
			break
		}
		end := min(offset+options.BytesPerLine, len(data))

		var mark []bool
		if marked != nil {
			mark = marked[offset:end]
		}
		formatLine(writer, data[offset:end], mark, options.Start+memory.Address(offset), options)
		lines++
	}
}

// highlighted marks the bytes covered by any match of pat. Matches are
// found over the whole buffer so they may cross line boundaries.
func highlighted(data []byte, pat *pattern.Pattern) []bool {
	if pat == nil || pat.Len() == 0 {
		return nil
	}
	marked := make([]bool, len(data))
	for o := range pat.Matches(data) {
		for i := o; i < o+pat.Len(); i++ {
			marked[i] = true
		}
	}
	return marked
}

func formatLine(writer io.Writer, data []byte, mark []bool, addr memory.Address, options Options) {
	offset := fmt.Sprintf("%0"+strconv.Itoa(options.OffsetWidth)+"x", uint64(addr))
	fmt.Fprint(writer, coloransi.Foreground(options.OffsetColor, offset), "  ")

	groups := formatHex(data, mark, options)

	// The mid line divider is only shown once the line reaches past half of BytesPerLine.
	split := options.BytesPerLine >= 8 && len(data) > options.BytesPerLine/2
	left := min(max(options.BytesPerLine/options.GroupSize, 1)/2, len(groups))

	if split && left > 0 && left < len(groups) {
		fmt.Fprint(writer, strings.Join(groups[:left], " "), " | ", strings.Join(groups[left:], " "))
	} else {
		fmt.Fprint(writer, strings.Join(groups, " "))
	}

	// Pad short lines so the ASCII column stays aligned.
	if options.BytesPerLine > len(data) {
		fullGroups := (options.BytesPerLine + options.GroupSize - 1) / options.GroupSize
		curGroups := (len(data) + options.GroupSize - 1) / options.GroupSize
		padding := (options.BytesPerLine-len(data))*2 + (fullGroups - 1) - max(0, curGroups-1)
		if options.BytesPerLine >= 8 {
			padding += 3
		}
		if split {
			padding -= 3
		}
		if padding > 0 {
			fmt.Fprint(writer, strings.Repeat(" ", padding))
		}
	}

	if options.ShowASCII {
		fmt.Fprint(writer, " | ")
		mid := options.BytesPerLine / 2
		if split && mid < len(data) {
			formatASCII(writer, data[:mid], mark, options)
			fmt.Fprint(writer, " ")
			formatASCII(writer, data[mid:], tail(mark, mid), options)
		} else {
			formatASCII(writer, data, mark, options)
		}
	}

	if options.Regions != nil && len(data) >= 8 {
		fmt.Fprint(writer, " |")
		for o := 0; o+8 <= len(data) && o < 16; o += 8 {
			ptr := memory.Address(binary.LittleEndian.Uint64(data[o:]))
			if isPointer(ptr, options.Regions) {
				fmt.Fprint(writer, " ", coloransi.Foreground(coloransi.Yellow, ptr.String()))
			}
		}
	}

	fmt.Fprintln(writer)
}

func tail(mark []bool, from int) []bool {
	if mark == nil {
		return nil
	}
	return mark[from:]
}

func formatASCII(writer io.Writer, data []byte, mark []bool, options Options) {
	for i, b := range data {
		c := rune(b)
		switch {
		case mark != nil && mark[i]:
			s := "."
			if unicode.IsPrint(c) {
				s = string(c)
			}
			fmt.Fprint(writer, coloransi.Color(options.HighlightColor, options.HighlightBackgroundColor, s))
		case b == 0:
			fmt.Fprint(writer, coloransi.Foreground(options.ZeroColor, "."))
		case b >= 0x80 || !unicode.IsPrint(c):
			fmt.Fprint(writer, coloransi.Foreground(options.NonPrintableColor, "."))
		default:
			fmt.Fprint(writer, coloransi.Foreground(options.ASCIIColor, string(c)))
		}
	}
}

func formatHex(data []byte, mark []bool, options Options) []string {
	var groups []string
	var group strings.Builder

	for i, b := range data {
		value := fmt.Sprintf("%02x", b)
		switch {
		case mark != nil && mark[i]:
			group.WriteString(coloransi.Color(options.HighlightColor, options.HighlightBackgroundColor, value))
		case b == 0:
			group.WriteString(coloransi.Foreground(options.ZeroColor, value))
		default:
			group.WriteString(coloransi.Foreground(options.HexColor, value))
		}

		if (i+1)%options.GroupSize == 0 || i == len(data)-1 {
			groups = append(groups, group.String())
			group.Reset()
		}
	}
	return groups
}

func isPointer(ptr memory.Address, regions []memory.Region) bool {
	if memory.IsReserved(ptr) {
		return false
	}
	for _, r := range regions {
		if r.Contains(ptr) {
			return true
		}
	}
	return false
}

// Context returns a dump of the bytes around a match at addr, with every
// match of pat inside the window highlighted. Lines align to BytesPerLine.
func Context(mem *memory.Accessor, addr memory.Address, pat pattern.Pattern, lines int) (string, error) {
	options := DefaultOptions()
	options.Highlight = &pat
	options.OffsetWidth = 12

	width := memory.Address(options.BytesPerLine)
	start := addr - addr%width
	if lines > 0 {
		start -= width * memory.Address(lines)
	}
	end := addr + memory.Address(pat.Len())
	end += (width - end%width) % width
	end += width * memory.Address(max(lines, 0))

	if start > addr || memory.IsReserved(start) {
		start = addr - addr%width
	}

	data, err := mem.Read(start, memory.Size(end-start), true)
	if err != nil {
		// The window may cross into an unreadable neighbour; fall back to the match line.
		start = addr - addr%width
		end = addr + memory.Address(pat.Len())
		end += (width - end%width) % width
		if data, err = mem.Read(start, memory.Size(end-start), true); err != nil {
			return "", err
		}
	}

	options.Start = start
	return Dump(data, options), nil
}
