package cog

// TIFF-compatible LZW encoder.
//
// TIFF uses an LZW variant that differs from the GIF/PDF format handled by Go's
// compress/lzw package: the code width grows one code early. Decoding goes
// through golang.org/x/image/tiff/lzw; only the writer needs this encoder.

const (
	lzwMaxWidth  = 12
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwTableFull = 1<<lzwMaxWidth - 2
)

// lzwBitWriter packs codes MSB first.
type lzwBitWriter struct {
	out   []byte
	acc   uint32
	nbits uint
}

func (w *lzwBitWriter) write(code int, width int) {
	w.acc = w.acc<<uint(width) | uint32(code)
	w.nbits += uint(width)
	for w.nbits >= 8 {
		w.nbits -= 8
		w.out = append(w.out, byte(w.acc>>w.nbits))
	}
}

func (w *lzwBitWriter) flush() []byte {
	if w.nbits > 0 {
		w.out = append(w.out, byte(w.acc<<(8-w.nbits)))
		w.nbits = 0
	}
	return w.out
}

// compressTIFFLZW compresses data with TIFF-style LZW (MSB bit ordering).
func compressTIFFLZW(data []byte) []byte {
	w := &lzwBitWriter{out: make([]byte, 0, len(data)/2+16)}
	width := 9
	next := lzwFirstCode
	table := make(map[uint32]int, 4096)

	w.write(lzwClearCode, width)
	if len(data) == 0 {
		w.write(lzwEOICode, width)
		return w.flush()
	}

	prefix := int(data[0])
	for _, c := range data[1:] {
		key := uint32(prefix)<<8 | uint32(c)
		if code, ok := table[key]; ok {
			prefix = code
			continue
		}
		w.write(prefix, width)
		if next == lzwTableFull {
			w.write(lzwClearCode, width)
			clear(table)
			next = lzwFirstCode
			width = 9
		} else {
			table[key] = next
			next++
			if next > 1<<width-1 && width < lzwMaxWidth {
				width++
			}
		}
		prefix = int(c)
	}

	w.write(prefix, width)
	next++
	if next > 1<<width-1 && width < lzwMaxWidth {
		width++
	}
	w.write(lzwEOICode, width)
	return w.flush()
}
