package memexpose

import (
	"context"
	"encoding/binary"
	"os"

	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose/wire"
)

func attachSharedFile(ctx context.Context, msg wire.Message, files []*os.File) []*os.File {
	sharer, ok := msg.Body.(wire.Sharer)
	if !ok || sharer.ShareInfo().Kind != wire.ShareFD {
		return files
	}
	if len(files) == 0 {
		logger.Get(ctx).Error("Share offer received without descriptor", zap.Stringer("kind", msg.Header.Kind))
		sharer.ShareInfo().Kind = wire.ShareNone
		return files
	}
	sharer.ShareInfo().File = files[0]
	return files[1:]
}

func closeSharedFile(msg wire.Message) {
	if sharer, ok := msg.Body.(wire.Sharer); ok && sharer.ShareInfo().File != nil {
		_ = sharer.ShareInfo().File.Close()
		sharer.ShareInfo().File = nil
	}
}

func overlaps(start1, size1, start2, size2 uint64) bool {
	return start1 < start2+size2 && start2 < start1+size1
}

func laneMask(size uint) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return 1<<(size*8) - 1
}

// dataLane returns the bytes of the data register hit by the access, truncated at the end of the register.
func dataLane(data []byte, addr, base uint64, size uint) ([]byte, bool) {
	if addr < base || addr >= base+uint64(len(data)) {
		return nil, false
	}
	off := addr - base
	end := min(off+uint64(min(size, 8)), uint64(len(data)))
	return data[off:end], true
}

func readLane(data []byte) uint64 {
	var b [8]byte
	copy(b[:], data)
	return binary.LittleEndian.Uint64(b[:])
}

func writeLane(data []byte, value uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], value)
	copy(data, b[:])
}
