package cog

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"

	"golang.org/x/image/tiff/lzw"
)

// decompress inflates one chunk into exactly want bytes. Short streams are
// zero-padded, extra trailing bytes are dropped.
func decompress(ifd *IFD, data []byte, want int) ([]byte, error) {
	var out []byte
	switch ifd.Compression {
	case compressionNone:
		out = data
	case compressionLZW:
		rc := lzw.NewReader(bytes.NewReader(data), lzw.MSB, 8)
		defer rc.Close()
		out = make([]byte, want)
		n, err := io.ReadFull(rc, out)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("lzw: %w", err)
		}
		out = out[:n]
	case compressionDeflate, compressionDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		out = make([]byte, want)
		n, err := io.ReadFull(zr, out)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		out = out[:n]
	case compressionPackBits:
		var err error
		out, err = unpackBits(data, want)
		if err != nil {
			return nil, err
		}
	case compressionJPEG:
		var err error
		out, err = decodeJPEGChunk(ifd, data)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrUnsupported, ifd.Compression)
	}

	if len(out) >= want {
		return out[:want], nil
	}
	padded := make([]byte, want)
	copy(padded, out)
	return padded, nil
}

// unpackBits decodes Apple PackBits run-length data.
func unpackBits(data []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(data) && len(out) < want; {
		n := int(int8(data[i]))
		i++
		switch {
		case n >= 0:
			end := i + n + 1
			if end > len(data) {
				return nil, fmt.Errorf("packbits: literal run past end of data")
			}
			out = append(out, data[i:end]...)
			i = end
		case n != -128:
			if i >= len(data) {
				return nil, fmt.Errorf("packbits: repeat run past end of data")
			}
			for k := 0; k < 1-n; k++ {
				out = append(out, data[i])
			}
			i++
		}
	}
	return out, nil
}

// decodeJPEGChunk decodes a JPEG-compressed chunk, optionally prepending the
// shared JPEG tables, into interleaved 8-bit samples.
func decodeJPEGChunk(ifd *IFD, data []byte) ([]byte, error) {
	jpegData := data
	if len(ifd.JPEGTables) > 0 {
		// Strip the trailing EOI (0xFFD9) from tables and the leading SOI (0xFFD8) from data.
		tables := ifd.JPEGTables
		if len(tables) >= 2 && tables[len(tables)-2] == 0xFF && tables[len(tables)-1] == 0xD9 {
			tables = tables[:len(tables)-2]
		}
		chunk := data
		if len(chunk) >= 2 && chunk[0] == 0xFF && chunk[1] == 0xD8 {
			chunk = chunk[2:]
		}
		jpegData = make([]byte, 0, len(tables)+len(chunk))
		jpegData = append(jpegData, tables...)
		jpegData = append(jpegData, chunk...)
	}

	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding JPEG chunk: %w", err)
	}

	b := img.Bounds()
	if g, ok := img.(*image.Gray); ok {
		out := make([]byte, 0, b.Dx()*b.Dy())
		for y := b.Min.Y; y < b.Max.Y; y++ {
			out = append(out, g.Pix[(y-b.Min.Y)*g.Stride:(y-b.Min.Y)*g.Stride+b.Dx()]...)
		}
		return out, nil
	}
	out := make([]byte, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			out = append(out, c.R, c.G, c.B)
		}
	}
	return out, nil
}

// undoPredictor reverses TIFF predictor 2 or 3 in place. rowBytes is the
// length of one chunk row; spp the samples interleaved per pixel.
func undoPredictor(pred uint16, buf []byte, rowBytes, spp, bytesPerSample int, bo binary.ByteOrder) error {
	switch pred {
	case predictorNone, 0:
		return nil
	case predictorHorizontal:
		for off := 0; off+rowBytes <= len(buf); off += rowBytes {
			horizontalAccumulate(buf[off:off+rowBytes], spp, bytesPerSample, bo)
		}
		return nil
	case predictorFloatingPoint:
		tmp := make([]byte, rowBytes)
		for off := 0; off+rowBytes <= len(buf); off += rowBytes {
			floatAccumulate(buf[off:off+rowBytes], tmp, spp, bytesPerSample, bo)
		}
		return nil
	default:
		return fmt.Errorf("%w: predictor %d", ErrUnsupported, pred)
	}
}

// applyPredictor is the inverse of undoPredictor, used by the writer.
func applyPredictor(pred uint16, buf []byte, rowBytes, spp, bytesPerSample int, bo binary.ByteOrder) {
	switch pred {
	case predictorHorizontal:
		for off := 0; off+rowBytes <= len(buf); off += rowBytes {
			horizontalDifference(buf[off:off+rowBytes], spp, bytesPerSample, bo)
		}
	case predictorFloatingPoint:
		tmp := make([]byte, rowBytes)
		for off := 0; off+rowBytes <= len(buf); off += rowBytes {
			floatDifference(buf[off:off+rowBytes], tmp, spp, bytesPerSample, bo)
		}
	}
}

func horizontalAccumulate(row []byte, spp, bps int, bo binary.ByteOrder) {
	stride := spp * bps
	switch bps {
	case 1:
		for i := stride; i < len(row); i++ {
			row[i] += row[i-stride]
		}
	case 2:
		for i := stride; i+2 <= len(row); i += 2 {
			bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-stride:]))
		}
	case 4:
		for i := stride; i+4 <= len(row); i += 4 {
			bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-stride:]))
		}
	case 8:
		for i := stride; i+8 <= len(row); i += 8 {
			bo.PutUint64(row[i:], bo.Uint64(row[i:])+bo.Uint64(row[i-stride:]))
		}
	}
}

func horizontalDifference(row []byte, spp, bps int, bo binary.ByteOrder) {
	stride := spp * bps
	switch bps {
	case 1:
		for i := len(row) - 1; i >= stride; i-- {
			row[i] -= row[i-stride]
		}
	case 2:
		for i := len(row) - 2; i >= stride; i -= 2 {
			bo.PutUint16(row[i:], bo.Uint16(row[i:])-bo.Uint16(row[i-stride:]))
		}
	case 4:
		for i := len(row) - 4; i >= stride; i -= 4 {
			bo.PutUint32(row[i:], bo.Uint32(row[i:])-bo.Uint32(row[i-stride:]))
		}
	case 8:
		for i := len(row) - 8; i >= stride; i -= 8 {
			bo.PutUint64(row[i:], bo.Uint64(row[i:])-bo.Uint64(row[i-stride:]))
		}
	}
}

// floatAccumulate undoes the floating point predictor: bytes are differenced
// with a stride of spp and stored as byte planes, most significant first.
func floatAccumulate(row, tmp []byte, spp, bps int, bo binary.ByteOrder) {
	for i := spp; i < len(row); i++ {
		row[i] += row[i-spp]
	}
	copy(tmp, row)
	count := len(row) / bps
	little := bo == binary.LittleEndian
	for s := 0; s < count; s++ {
		for b := 0; b < bps; b++ {
			plane := b
			if little {
				plane = bps - 1 - b
			}
			row[s*bps+b] = tmp[plane*count+s]
		}
	}
}

func floatDifference(row, tmp []byte, spp, bps int, bo binary.ByteOrder) {
	count := len(row) / bps
	little := bo == binary.LittleEndian
	for s := 0; s < count; s++ {
		for b := 0; b < bps; b++ {
			plane := b
			if little {
				plane = bps - 1 - b
			}
			tmp[plane*count+s] = row[s*bps+b]
		}
	}
	copy(row, tmp)
	for i := len(row) - 1; i >= spp; i-- {
		row[i] -= row[i-spp]
	}
}
