package someip

import (
	"io"
)

// DeframerConfig configures a Deframer.
type DeframerConfig struct {
	// InitialBufferSize is the floor capacity of the receive buffer.
	// Defaults to HeaderSize.
	InitialBufferSize int
	// ShrinkThreshold is the number of consecutive oversized cycles after
	// which an empty buffer is shrunk back to its initial size. 0 disables
	// shrinking.
	ShrinkThreshold int
	// MaxMessageSize is the largest acceptable message, header included.
	// MessageSizeUnlimited disables the check.
	MaxMessageSize int
	Logger         Logger
}

// ConsumeResult describes what a single Consume call did.
type ConsumeResult struct {
	// Messages is the number of messages handed to the deliver callback.
	Messages int
	// Skipped is the number of bytes dropped as corrupt.
	Skipped int
	// Corrupted is set when the stream had to be resynchronized or reset.
	Corrupted bool
	// Disabled is set when an oversize message arrived without magic
	// cookies; the deframer accepts no further input.
	Disabled bool
}

// Deframer reassembles SOME/IP messages from a byte stream.
//
// Bytes are read straight into the region returned by ReadBuffer and then
// handed over with Consume. A Deframer is not safe for concurrent use.
type Deframer struct {
	buf     *recvBuffer
	maxSize int
	logger  Logger
	deliver func(msg []byte)

	cookies  bool
	disabled bool
}

// NewDeframer returns a Deframer calling deliver once per message, in
// stream order. The slice passed to deliver is only valid during the call.
func NewDeframer(cfg DeframerConfig, deliver func(msg []byte)) *Deframer {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	return &Deframer{
		buf:     newRecvBuffer(cfg.InitialBufferSize, cfg.ShrinkThreshold),
		maxSize: cfg.MaxMessageSize,
		logger:  cfg.Logger,
		deliver: deliver,
	}
}

// CookiesEnabled reports whether a service magic cookie has been seen.
// Once set it stays set until Reset.
func (d *Deframer) CookiesEnabled() bool {
	return d.cookies
}

// Disabled reports whether the deframer stopped accepting input.
func (d *Deframer) Disabled() bool {
	return d.disabled
}

// Buffered returns the number of bytes held for an incomplete message.
func (d *Deframer) Buffered() int {
	return d.buf.fill
}

// Capacity returns the current receive buffer capacity.
func (d *Deframer) Capacity() int {
	return d.buf.capacity()
}

// Reset prepares the deframer for a new connection.
func (d *Deframer) Reset() {
	d.buf.reset()
	d.buf.shrinkTo(d.buf.initial)
	d.buf.shrinkCount = 0
	d.cookies = false
	d.disabled = false
}

// ReadBuffer returns the region the next read should fill. It returns nil
// once the deframer is disabled.
func (d *Deframer) ReadBuffer() []byte {
	if d.disabled {
		return nil
	}
	return d.buf.prepare()
}

// Consume processes n bytes just written into the slice returned by the
// last ReadBuffer call, delivering every complete message.
func (d *Deframer) Consume(n int) ConsumeResult {
	var res ConsumeResult
	if n <= 0 || d.disabled {
		return res
	}

	b := d.buf
	b.commit(n)

	offset := 0
scan:
	for b.fill > 0 {
		pending := b.data[offset : offset+b.fill]
		size := MessageSize(pending)

		oversize := d.maxSize != MessageSizeUnlimited && size > uint64(d.maxSize)

		switch {
		case size == 0:
			b.missing = HeaderSize - b.fill
			break scan

		case oversize && !d.cookies:
			d.logger.Error("message exceeds maximum message size without magic cookies, disabling receiver",
				"size", size, "max", d.maxSize)
			res.Corrupted = true
			res.Skipped += b.fill
			res.Disabled = true
			b.reset()
			d.disabled = true
			return res

		case !oversize && size <= uint64(b.fill):
			length := int(size)
			forward := true
			if IsServiceCookie(pending) {
				if !d.cookies {
					d.logger.Debug("magic cookies enabled")
				}
				d.cookies = true
				forward = false
			} else if d.cookies {
				window := pending[:min(len(pending), length+CookieSize-1)]
				if k := FindCookie(window); k >= 0 && k < length {
					d.logger.Error("message includes magic cookie, ignoring it",
						"size", length, "cookie_offset", k)
					length = k
					forward = false
					res.Corrupted = true
					res.Skipped += k
				}
			}
			if forward {
				d.deliver(pending[:length])
				res.Messages++
			}
			b.noteShrinkPressure()
			b.fill -= length
			offset += length
			b.missing = 0

		default:
			if d.cookies {
				if k := FindCookie(pending[1:]); k >= 0 {
					k++
					d.logger.Error("skipping garbage before magic cookie", "bytes", k)
					res.Corrupted = true
					res.Skipped += k
					b.fill -= k
					offset += k
					continue
				}
			}
			if oversize {
				// A cookie may straddle the read boundary; keep its head.
				keep := partialCookie(pending)
				drop := b.fill - keep
				d.logger.Error("message exceeds maximum message size, resetting receiver",
					"size", size, "max", d.maxSize, "dropped", drop)
				res.Corrupted = true
				res.Skipped += drop
				b.fill = keep
				offset += drop
				b.missing = 0
				if keep > 0 {
					b.missing = CookieSize - keep
				}
				break scan
			}
			b.missing = int(size) - b.fill
			break scan
		}
	}

	b.compactFrom(offset)
	return res
}

// Write feeds p through the deframer as if it had been read from the
// network in as many reads as the buffer policy asks for.
func (d *Deframer) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if d.disabled {
			return written, ErrReceiverDisabled
		}
		free := d.ReadBuffer()
		if len(free) == 0 {
			return written, io.ErrShortWrite
		}
		n := copy(free, p)
		d.Consume(n)
		written += n
		p = p[n:]
	}
	return written, nil
}
