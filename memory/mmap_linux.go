package memory

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var pageSize = uint64(os.Getpagesize())

// NewRAM creates RAM region backed by memfd, so it may be shared with the peer.
func NewRAM(name string, size uint64) (*Region, error) {
	if size == 0 {
		return nil, errors.New("region size must be positive")
	}

	fd, err := unix.MemfdCreate(name, unix.MFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrapf(err, "memfd_create failed for %q", name)
	}
	file := os.NewFile(uintptr(fd), name)

	if err := file.Truncate(int64(size)); err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "resizing %q failed", name)
	}

	mem, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = file.Close()
		return nil, errors.Wrapf(err, "mmap of %q failed", name)
	}

	return &Region{
		name:    name,
		size:    size,
		mem:     mem,
		mapping: mem,
		file:    file,
		shared:  true,
	}, nil
}

// NewPrivateRAM creates anonymous RAM region which is never offered to the peer.
func NewPrivateRAM(name string, size uint64) (*Region, error) {
	if size == 0 {
		return nil, errors.New("region size must be positive")
	}

	mem, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %q failed", name)
	}

	return &Region{
		name:    name,
		size:    size,
		mem:     mem,
		mapping: mem,
	}, nil
}

// NewRAMFromFile maps size bytes of the file starting at offset. Region takes ownership of the file.
// Offset does not need to be page-aligned.
func NewRAMFromFile(name string, file *os.File, offset, size uint64, readOnly bool) (*Region, error) {
	if size == 0 {
		return nil, errors.New("region size must be positive")
	}

	var st unix.Stat_t
	if err := unix.Fstat(int(file.Fd()), &st); err != nil {
		return nil, errors.Wrapf(err, "stat of %q failed", name)
	}
	if offset+size < offset || st.Size < 0 || offset+size > uint64(st.Size) {
		return nil, errors.Errorf("range 0x%x-0x%x of %q exceeds file size 0x%x", offset, offset+size, name, st.Size)
	}

	alignedOffset := offset &^ (pageSize - 1)
	delta := offset - alignedOffset

	prot := unix.PROT_READ
	if !readOnly {
		prot |= unix.PROT_WRITE
	}
	mapping, err := unix.Mmap(int(file.Fd()), int64(alignedOffset), int(size+delta), prot, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %q failed", name)
	}

	return &Region{
		name:     name,
		size:     size,
		mem:      mapping[delta : delta+size],
		mapping:  mapping,
		file:     file,
		shared:   true,
		readOnly: readOnly,
	}, nil
}

func unmap(b []byte) error {
	return errors.WithStack(unix.Munmap(b))
}
