package memory

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// Result is the outcome of memory transaction.
type Result int32

// Transaction results.
const (
	ResultOK Result = iota
	ResultError
	ResultDecodeError
)

// Err converts result to error.
func (r Result) Err() error {
	switch r {
	case ResultOK:
		return nil
	case ResultDecodeError:
		return errors.WithStack(ErrDecode)
	default:
		return errors.Wrapf(ErrAccess, "result %d", r)
	}
}

var (
	// ErrAccess is returned when memory transaction fails.
	ErrAccess = errors.New("memory access failed")

	// ErrDecode is returned when there is nothing mapped under the address.
	ErrDecode = errors.New("address decode failed")
)

// IO handles accesses to region not backed by RAM.
type IO interface {
	Read(offset uint64, size uint) (uint64, Result)
	Write(offset uint64, size uint, value uint64) Result
}

// Region is a piece of memory which might be mapped into the address space.
type Region struct {
	name        string
	size        uint64
	mem         []byte
	mapping     []byte
	file        *os.File
	shared      bool
	readOnly    bool
	nonVolatile bool
	io          IO
}

// NewIO creates region dispatching accesses to io.
func NewIO(name string, size uint64, io IO) *Region {
	return &Region{
		name: name,
		size: size,
		io:   io,
	}
}

// Name returns the name of the region.
func (r *Region) Name() string {
	return r.name
}

// Size returns the size of the region.
func (r *Region) Size() uint64 {
	return r.size
}

// Bytes returns the RAM of the region, nil for IO regions.
func (r *Region) Bytes() []byte {
	return r.mem
}

// File returns the file backing the region, nil if there is none.
func (r *Region) File() *os.File {
	return r.file
}

// Shareable tells if region may be mapped by another process.
func (r *Region) Shareable() bool {
	return r.file != nil && r.shared
}

// ReadOnly tells if region is a ROM.
func (r *Region) ReadOnly() bool {
	return r.readOnly
}

// SetReadOnly sets the ROM flag.
func (r *Region) SetReadOnly(readOnly bool) {
	r.readOnly = readOnly
}

// NonVolatile tells if region is non-volatile.
func (r *Region) NonVolatile() bool {
	return r.nonVolatile
}

// SetNonVolatile sets the non-volatile flag.
func (r *Region) SetNonVolatile(nonVolatile bool) {
	r.nonVolatile = nonVolatile
}

// Read reads size bytes at offset.
func (r *Region) Read(offset uint64, size uint) (uint64, Result) {
	if !r.inRange(offset, size) {
		return 0, ResultDecodeError
	}
	if r.io != nil {
		return r.io.Read(offset, size)
	}

	var b [8]byte
	copy(b[:size], r.mem[offset:offset+uint64(size)])
	return binary.LittleEndian.Uint64(b[:]), ResultOK
}

// Write writes size bytes at offset. Writes to ROM are ignored.
func (r *Region) Write(offset uint64, size uint, value uint64) Result {
	if !r.inRange(offset, size) {
		return ResultDecodeError
	}
	if r.io != nil {
		return r.io.Write(offset, size, value)
	}
	if r.readOnly {
		return ResultOK
	}

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	copy(r.mem[offset:offset+uint64(size)], b[:size])
	return ResultOK
}

// Close releases the mapping and the file.
func (r *Region) Close() error {
	var err error
	if r.mapping != nil {
		err = unmap(r.mapping)
		r.mapping = nil
		r.mem = nil
	}
	if r.file != nil {
		if err2 := r.file.Close(); err == nil && err2 != nil {
			err = errors.WithStack(err2)
		}
		r.file = nil
	}
	return err
}

func (r *Region) inRange(offset uint64, size uint) bool {
	return size >= 1 && size <= 8 && offset < r.size && uint64(size) <= r.size-offset
}
