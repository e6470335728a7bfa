package journal

import (
	"fmt"
	"strconv"
	"strings"

	"keelstore/pkg/primitives"
)

// Journal files are named <base>.<generation> where the generation is the
// zero-padded 12-digit decimal of address/blockSize. A logical journal
// address spans files; the in-file offset is address mod blockSize.

const generationDigits = 12

// Generation returns the file generation containing address.
func Generation(address primitives.JournalAddress, blockSize int64) int64 {
	return int64(address) / blockSize
}

// FileOffset returns the offset of address within its file.
func FileOffset(address primitives.JournalAddress, blockSize int64) int64 {
	return int64(address) % blockSize
}

// GenerationToFile names the file for a generation.
func GenerationToFile(base string, generation int64) string {
	return fmt.Sprintf("%s.%0*d", base, generationDigits, generation)
}

// FileForAddress names the file containing address.
func FileForAddress(base string, address primitives.JournalAddress, blockSize int64) string {
	return GenerationToFile(base, Generation(address, blockSize))
}

// FileToGeneration parses a journal file name, returning -1 when the name
// carries no generation suffix.
func FileToGeneration(path string) int64 {
	dot := strings.LastIndexByte(path, '.')
	if dot < 0 {
		return -1
	}
	suffix := path[dot+1:]
	if len(suffix) != generationDigits {
		return -1
	}
	generation, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return -1
	}
	return generation
}

// BaseFromFile strips a generation suffix, returning path unchanged when
// there is none.
func BaseFromFile(path string) string {
	if FileToGeneration(path) < 0 {
		return path
	}
	return path[:strings.LastIndexByte(path, '.')]
}

// AddressUp rounds address to the start of the next block. Used when a
// record would not fit before the block boundary or a JE closed the block.
func AddressUp(address primitives.JournalAddress, blockSize int64) primitives.JournalAddress {
	return primitives.JournalAddress((int64(address)/blockSize + 1) * blockSize)
}
