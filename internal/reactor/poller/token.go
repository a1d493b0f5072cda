package poller

import "golang.org/x/sys/unix"

// golang.org/x/sys/unix represents the kernel's epoll_data_t union as two
// adjacent int32 fields (Fd, Pad) rather than exposing it as an opaque
// uint64, since on Linux that union is conventionally used to carry a raw
// fd. The reactor instead wants an opaque per-registration token (the
// poll-token scheme spec §3/§4.3 describes), so both halves are repurposed
// here to carry one uint64 rather than a file descriptor.
func binaryPutToken(ev *unix.EpollEvent, token uint64) {
	ev.Fd = int32(uint32(token))
	ev.Pad = int32(uint32(token >> 32))
}

func binaryGetToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}
