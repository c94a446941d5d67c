package eventloop

import "golang.org/x/sys/unix"

// golang.org/x/sys/unix exposes the raw FdSet struct but, unlike the C
// library, no FD_SET/FD_CLR/FD_ISSET helpers — select(2) callers build
// these themselves.

const fdSetBitsPerWord = 64

func fdZero(set *unix.FdSet) {
	for i := range set.Bits {
		set.Bits[i] = 0
	}
}

func fdSetAdd(set *unix.FdSet, fd int) {
	set.Bits[fd/fdSetBitsPerWord] |= 1 << (uint(fd) % fdSetBitsPerWord)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/fdSetBitsPerWord]&(1<<(uint(fd)%fdSetBitsPerWord)) != 0
}
