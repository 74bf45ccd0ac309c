package relay

import "bytes"

var (
	prefixLink      = []byte("LINK ")
	prefixConnected = []byte("CONNECTED ")
	prefixConnect   = []byte("CONNECT ")
	lineKeepAlive   = []byte("KeepAlive\r\n")
	crlf            = []byte("\r\n")
	crlfcrlf        = []byte("\r\n\r\n")
)

// readLink performs a single read per readiness event: at most cap(buf)-sz
// bytes, then hands whatever accumulated to the parser.
// A non-positive read (EOF, error, or a full buffer with nothing left to
// read) closes the link, exactly as `handle_request` does on `ret <= 0`.
func (r *Relay) readLink(lnk *linkSlot) {
	lnk.lastActivity = r.clock.Now()

	rest := len(lnk.buf) - lnk.sz
	n, err := readFD(lnk.fd, lnk.buf[lnk.sz:lnk.sz+rest])
	if n <= 0 {
		_ = err
		r.closeLink(lnk)
		return
	}
	lnk.sz += n
	r.parseLink(lnk)
}

// parseLink discriminates the buffered bytes by prefix: LINK, CONNECTED,
// CONNECT, KeepAlive, then unknown.
func (r *Relay) parseLink(lnk *linkSlot) {
	buf := lnk.buf[:lnk.sz]

	switch {
	case bytes.HasPrefix(buf, prefixLink):
		r.handleLinkCmd(lnk, buf[len(prefixLink):])
	case bytes.HasPrefix(buf, prefixConnected):
		r.handleConnectedCmd(lnk, buf[len(prefixConnected):])
	case bytes.HasPrefix(buf, prefixConnect):
		r.handleConnectCmd(lnk, buf[len(prefixConnect):])
	case bytes.HasPrefix(buf, lineKeepAlive):
		lnk.sz = 0
	default:
		if idx := bytes.Index(buf, crlf); idx >= 0 {
			r.logger.Printf("%d unknown command %s", lnk.fd, string(buf[:idx]))
			r.closeLink(lnk)
		}
		// else: no CRLF yet, wait for more bytes on the next readiness event.
	}
}

// handleLinkCmd processes `LINK <name>\r\n` once the name argument (rest,
// i.e. buf with the "LINK " prefix already stripped) contains a CRLF.
func (r *Relay) handleLinkCmd(lnk *linkSlot, rest []byte) {
	idx := bytes.Index(rest, crlf)
	if idx < 0 {
		return // still temporary; wait for the rest of the line
	}
	name := string(rest[:idx])
	lnk.name = name
	lnk.temporary = false
	lnk.sz = 0
	r.logger.Printf("LINK %s", name)

	for i := range r.links.slots {
		other := &r.links.slots[i]
		if other == lnk || !other.used || other.superseded || other.temporary {
			continue
		}
		if other.name == name {
			other.superseded = true
			r.logger.Printf("mark %s %d old", other.name, other.fd)
		}
	}
}

// handleConnectedCmd processes `CONNECTED <name>\r\n`: the socket this line
// arrived on becomes the right-hand side of the matching pending stream.
func (r *Relay) handleConnectedCmd(lnk *linkSlot, rest []byte) {
	idx := bytes.Index(rest, crlf)
	if idx < 0 {
		return
	}
	name := string(rest[:idx])
	r.logger.Printf("CONNECTED %s", name)

	strm, ok := r.streams.findPending(name)
	if !ok {
		r.logger.Printf("no waiting stream for %s", name)
		closeFD(lnk.fd)
		lnk.fd = -1
		r.links.free(lnk)
		return
	}

	now := r.clock.Now()
	strm.right = lnk.fd
	strm.connected = true
	strm.lastIO = now
	strm.established = now
	r.logger.Printf("stream is established %s left %d right %d", strm.name, strm.left, strm.right)

	// Detach the socket from the link without closing it: ownership has
	// moved to the stream's right side.
	lnk.fd = -1
	r.links.free(lnk)
}

// handleConnectCmd processes `CONNECT <host>:<port> HTTP/...\r\n\r\n`. Only
// the host substring up to the first ':' is used; port, HTTP version, and
// any headers are discarded once the terminating blank line is found.
func (r *Relay) handleConnectCmd(lnk *linkSlot, rest []byte) {
	idx := bytes.Index(rest, crlfcrlf)
	if idx < 0 {
		return
	}
	req := rest[:idx]
	host := req
	if c := bytes.IndexByte(req, ':'); c >= 0 {
		host = req[:c]
	}
	hostName := string(host)

	sockFD := lnk.fd
	resp := "HTTP/1.0 400 Bad Request\r\n\r\n"

	strm, ok := r.streams.findEmpty()
	if !ok {
		r.logger.Printf("no empty stream slot")
	} else {
		r.logger.Printf("CONNECT %s", hostName)
		rlnk, found := r.links.findByName(hostName)
		if !found {
			r.logger.Printf("no such link %s", hostName)
			resp = "HTTP/1.0 404 Not found\r\n\r\n"
		} else {
			now := r.clock.Now()
			strm.used = true
			strm.name = hostName
			strm.left = sockFD
			strm.right = -1
			strm.connected = false
			strm.lastIO = now
			strm.established = now
			strm.bytesL2R = 0
			strm.bytesR2L = 0

			// sockFD has been handed to the stream; prevent close at handoff.
			lnk.fd = -1

			r.logger.Printf("request to %s %d", rlnk.name, rlnk.fd)
			writeFD(rlnk.fd, []byte("NEW\r\n"))

			resp = "HTTP/1.0 200 Established\r\n\r\n"
		}
	}

	writeFD(sockFD, []byte(resp))
	r.closeLink(lnk)
}

// closeLink tears down a link slot: closes its socket (unless it has
// already been detached to a stream, in which case fd is already -1), logs
// duration, and frees the slot.
func (r *Relay) closeLink(lnk *linkSlot) {
	fd := lnk.fd
	if fd != -1 {
		name := lnk.name
		if name == "" || lnk.temporary {
			name = "-"
		}
		dur := formatDuration(r.clock.Now().Sub(lnk.established))
		r.logger.Printf("close_link %s %d [%s]", name, fd, dur)
		closeFD(fd)
	}
	r.links.free(lnk)
}
