package relay

// side identifies which end of a stream triggered a readiness event.
type side int

const (
	sideLeft side = iota
	sideRight
)

// forward moves at most one streamBufSize chunk from one side of a
// connected stream to the other. A short write is treated as success for
// the bytes actually sent; the unwritten tail is silently dropped, carried
// over from the original's transfer() (see DESIGN.md).
func (r *Relay) forward(strm *streamSlot, which side) {
	var rfd, wfd int
	if which == sideLeft {
		if strm.right < 0 {
			return
		}
		rfd, wfd = strm.left, strm.right
	} else {
		if strm.left < 0 {
			return
		}
		rfd, wfd = strm.right, strm.left
	}

	buf := r.copyBuf[:]
	n, err := readFD(rfd, buf)
	if n <= 0 {
		_ = err
		if which == sideLeft {
			r.logger.Printf("stream %s close left", strm.name)
		} else {
			r.logger.Printf("stream %s close right", strm.name)
		}
		r.closeStream(strm)
		return
	}

	w, werr := writeFD(wfd, buf[:n])
	if w <= 0 {
		_ = werr
		if which == sideLeft {
			r.logger.Printf("stream %s close left", strm.name)
		} else {
			r.logger.Printf("stream %s close right", strm.name)
		}
		r.closeStream(strm)
		return
	}

	strm.lastIO = r.clock.Now()
	if which == sideLeft {
		strm.bytesL2R += int64(w)
	} else {
		strm.bytesR2L += int64(w)
	}
}

// closeStream closes both sockets unconditionally — even one already at -1,
// which closeFD silently ignores — logs duration and byte counters, and
// frees the slot.
func (r *Relay) closeStream(strm *streamSlot) {
	dur := formatDuration(r.clock.Now().Sub(strm.established))
	r.logger.Printf("close_stream %s left %d right %d [%s] %d <=> %d",
		strm.name, strm.left, strm.right, dur, strm.bytesR2L, strm.bytesL2R)
	closeFD(strm.left)
	closeFD(strm.right)
	r.streams.free(strm)
}
