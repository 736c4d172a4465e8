package raster

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/image/tiff/lzw"
)

// TIFF tags used by the codec. GeoTIFF tags follow GeoTIFF 1.1;
// 42113 is the GDAL no-data extension.
const (
	tagImageWidth       = 256
	tagImageLength      = 257
	tagBitsPerSample    = 258
	tagCompression      = 259
	tagPhotometric      = 262
	tagStripOffsets     = 273
	tagSamplesPerPixel  = 277
	tagRowsPerStrip     = 278
	tagStripByteCounts  = 279
	tagPlanarConfig     = 284
	tagPredictor        = 317
	tagTileWidth        = 322
	tagTileLength       = 323
	tagTileOffsets      = 324
	tagTileByteCounts   = 325
	tagSampleFormat     = 339
	tagModelPixelScale  = 33550
	tagModelTiepoint    = 33922
	tagModelTransform   = 34264
	tagGeoKeyDirectory  = 34735
	tagGDALNoData       = 42113
	keyModelType        = 1024
	keyRasterType       = 1025
	keyGeographicType   = 2048
	keyProjectedCSType  = 3072
	geoKeyUserDefined   = 32767
	rasterPixelIsPoint  = 2
	compressionNone     = 1
	compressionLZW      = 5
	compressionDeflate  = 8
	compressionPackBits = 32773
	compressionOldZlib  = 32946
	sampleFormatUint    = 1
	sampleFormatInt     = 2
	sampleFormatFloat   = 3
	predictorNone       = 1
	predictorHorizontal = 2
	typeByte            = 1
	typeASCII           = 2
	typeShort           = 3
	typeLong            = 4
	typeDouble          = 12
	stripTargetBytes    = 64 << 10
)

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

// Encode writes g as a little-endian, single-band float32 GeoTIFF with
// deflate-compressed strips. Output is byte-for-byte deterministic for a given grid.
func Encode(w io.Writer, g *Grid) error {
	if g.Width <= 0 || g.Height <= 0 || len(g.Data) != g.Width*g.Height {
		return fmt.Errorf("%w: grid %dx%d with %d samples", domain.ErrInvalidInput, g.Width, g.Height, len(g.Data))
	}
	rps := max(1, stripTargetBytes/(4*g.Width))
	rps = min(rps, g.Height)
	nStrips := (g.Height + rps - 1) / rps

	var body bytes.Buffer
	offsets := make([]uint32, nStrips)
	counts := make([]uint32, nStrips)
	raw := make([]byte, 4*g.Width*rps)
	for s := range nStrips {
		r0 := s * rps
		r1 := min(r0+rps, g.Height)
		samples := g.Data[r0*g.Width : r1*g.Width]
		buf := raw[:4*len(samples)]
		for i, v := range samples {
			binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
		}

		start := body.Len()
		zw, err := zlib.NewWriterLevel(&body, zlib.DefaultCompression)
		if err != nil {
			return fmt.Errorf("deflate strip %d: %w", s, err)
		}
		if _, err := zw.Write(buf); err != nil {
			return fmt.Errorf("deflate strip %d: %w", s, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("deflate strip %d: %w", s, err)
		}
		offsets[s] = uint32(8 + start)
		counts[s] = uint32(body.Len() - start)
		if body.Len()%2 == 1 {
			body.WriteByte(0)
		}
	}

	gt := g.Transform
	nodata := g.NoData
	if !g.HasNoData {
		nodata = NoData
	}
	entries := []ifdEntry{
		{tagImageWidth, typeLong, 1, longs(uint32(g.Width))},
		{tagImageLength, typeLong, 1, longs(uint32(g.Height))},
		{tagBitsPerSample, typeShort, 1, shorts(32)},
		{tagCompression, typeShort, 1, shorts(compressionDeflate)},
		{tagPhotometric, typeShort, 1, shorts(1)},
		{tagStripOffsets, typeLong, uint32(nStrips), longs(offsets...)},
		{tagSamplesPerPixel, typeShort, 1, shorts(1)},
		{tagRowsPerStrip, typeLong, 1, longs(uint32(rps))},
		{tagStripByteCounts, typeLong, uint32(nStrips), longs(counts...)},
		{tagPlanarConfig, typeShort, 1, shorts(1)},
		{tagSampleFormat, typeShort, 1, shorts(sampleFormatFloat)},
		{tagModelPixelScale, typeDouble, 3, doubles(gt.PixelWidth, gt.PixelHeight, 0)},
		{tagModelTiepoint, typeDouble, 6, doubles(0, 0, 0, gt.OriginX, gt.OriginY, 0)},
		geoKeyEntry(g.CRS),
		asciiEntry(tagGDALNoData, strconv.FormatFloat(float64(nodata), 'g', -1, 32)),
	}

	ifdOffset := 8 + body.Len()
	extraOffset := ifdOffset + 2 + 12*len(entries) + 4

	var ifd, extra bytes.Buffer
	le := binary.LittleEndian
	ifd.Write(le.AppendUint16(nil, uint16(len(entries))))
	for _, e := range entries {
		ifd.Write(le.AppendUint16(nil, e.tag))
		ifd.Write(le.AppendUint16(nil, e.typ))
		ifd.Write(le.AppendUint32(nil, e.count))
		if len(e.data) <= 4 {
			var v [4]byte
			copy(v[:], e.data)
			ifd.Write(v[:])
			continue
		}
		ifd.Write(le.AppendUint32(nil, uint32(extraOffset+extra.Len())))
		extra.Write(e.data)
		if extra.Len()%2 == 1 {
			extra.WriteByte(0)
		}
	}
	ifd.Write(le.AppendUint32(nil, 0))

	header := []byte{'I', 'I', 42, 0}
	header = le.AppendUint32(header, uint32(ifdOffset))
	for _, part := range [][]byte{header, body.Bytes(), ifd.Bytes(), extra.Bytes()} {
		if _, err := w.Write(part); err != nil {
			return err
		}
	}
	return nil
}

func geoKeyEntry(crs CRS) ifdEntry {
	modelType, codeKey := uint16(1), uint16(keyProjectedCSType)
	if crs.Geographic() {
		modelType, codeKey = 2, keyGeographicType
	}
	keys := []uint16{
		1, 1, 0, 3,
		keyModelType, 0, 1, modelType,
		keyRasterType, 0, 1, 1,
		codeKey, 0, 1, uint16(crs.EPSG),
	}
	return ifdEntry{tagGeoKeyDirectory, typeShort, uint32(len(keys)), shorts(keys...)}
}

func asciiEntry(tag uint16, s string) ifdEntry {
	b := append([]byte(s), 0)
	return ifdEntry{tag, typeASCII, uint32(len(b)), b}
}

func shorts(v ...uint16) []byte {
	b := make([]byte, 0, 2*len(v))
	for _, x := range v {
		b = binary.LittleEndian.AppendUint16(b, x)
	}
	return b
}

func longs(v ...uint32) []byte {
	b := make([]byte, 0, 4*len(v))
	for _, x := range v {
		b = binary.LittleEndian.AppendUint32(b, x)
	}
	return b
}

func doubles(v ...float64) []byte {
	b := make([]byte, 0, 8*len(v))
	for _, x := range v {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(x))
	}
	return b
}

// WriteFileAtomic encodes g to a temporary file beside path and renames it
// into place. The temporary file is removed on every failure path.
func WriteFileAtomic(path string, g *Grid) (err error) {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 256<<10)
	if err = Encode(bw, g); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

type field struct {
	typ   uint16
	count uint32
	raw   []byte
}

type decoder struct {
	b      []byte
	bo     binary.ByteOrder
	fields map[uint16]field
}

// ReadGeoTIFF reads the first band of a GeoTIFF file.
func ReadGeoTIFF(path string) (*Grid, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	g, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return g, nil
}

// Decode parses a classic (non-Big) TIFF holding strips or tiles of 8, 16,
// 32 or 64-bit samples, compressed with none, LZW, deflate or PackBits.
// Only the first IFD and the first sample of each pixel are read.
func Decode(b []byte) (*Grid, error) {
	if len(b) < 8 {
		return nil, errors.New("tiff: short header")
	}
	d := &decoder{b: b, fields: make(map[uint16]field)}
	switch string(b[:2]) {
	case "II":
		d.bo = binary.LittleEndian
	case "MM":
		d.bo = binary.BigEndian
	default:
		return nil, errors.New("tiff: bad byte order marker")
	}
	switch magic := d.bo.Uint16(b[2:]); magic {
	case 42:
	case 43:
		return nil, errors.New("tiff: BigTIFF is not supported")
	default:
		return nil, fmt.Errorf("tiff: bad magic %d", magic)
	}
	if err := d.readIFD(d.bo.Uint32(b[4:])); err != nil {
		return nil, err
	}

	width := int(d.firstUint(tagImageWidth, 0))
	height := int(d.firstUint(tagImageLength, 0))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("tiff: invalid dimensions %dx%d", width, height)
	}
	gt, err := d.geoTransform()
	if err != nil {
		return nil, err
	}
	crs, err := d.crs()
	if err != nil {
		return nil, err
	}
	if d.geoKey(keyRasterType) == rasterPixelIsPoint {
		gt.OriginX -= gt.PixelWidth / 2
		gt.OriginY += gt.PixelHeight / 2
	}

	g := New(width, height, gt, crs)
	g.HasNoData = false
	if f, ok := d.fields[tagGDALNoData]; ok {
		s := strings.TrimSpace(strings.TrimRight(string(f.raw), "\x00"))
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			g.NoData = float32(v)
			g.HasNoData = true
		}
	}
	if err := d.readPixels(g); err != nil {
		return nil, err
	}
	return g, nil
}

func typeSize(t uint16) int {
	switch t {
	case 1, 2, 6, 7:
		return 1
	case 3, 8:
		return 2
	case 4, 9, 11:
		return 4
	case 5, 10, 12, 16, 17, 18:
		return 8
	}
	return 0
}

func (d *decoder) readIFD(off uint32) error {
	b := d.b
	if int(off)+2 > len(b) {
		return errors.New("tiff: IFD offset out of range")
	}
	n := int(d.bo.Uint16(b[off:]))
	if int(off)+2+12*n > len(b) {
		return errors.New("tiff: truncated IFD")
	}
	for i := range n {
		e := b[int(off)+2+12*i:]
		tag, typ, count := d.bo.Uint16(e), d.bo.Uint16(e[2:]), d.bo.Uint32(e[4:])
		size := typeSize(typ) * int(count)
		if size == 0 {
			continue
		}
		var raw []byte
		if size <= 4 {
			raw = e[8 : 8+size]
		} else {
			p := int(d.bo.Uint32(e[8:]))
			if p < 0 || p+size > len(b) {
				return fmt.Errorf("tiff: tag %d value out of range", tag)
			}
			raw = b[p : p+size]
		}
		d.fields[tag] = field{typ: typ, count: count, raw: raw}
	}
	return nil
}

func (d *decoder) uints(tag uint16) []uint64 {
	f, ok := d.fields[tag]
	if !ok {
		return nil
	}
	out := make([]uint64, f.count)
	for i := range out {
		switch f.typ {
		case typeByte:
			out[i] = uint64(f.raw[i])
		case typeShort:
			out[i] = uint64(d.bo.Uint16(f.raw[2*i:]))
		case typeLong:
			out[i] = uint64(d.bo.Uint32(f.raw[4*i:]))
		case 16:
			out[i] = d.bo.Uint64(f.raw[8*i:])
		default:
			return nil
		}
	}
	return out
}

func (d *decoder) firstUint(tag uint16, def uint64) uint64 {
	if v := d.uints(tag); len(v) > 0 {
		return v[0]
	}
	return def
}

func (d *decoder) doubles(tag uint16) []float64 {
	f, ok := d.fields[tag]
	if !ok || f.typ != typeDouble {
		return nil
	}
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(d.bo.Uint64(f.raw[8*i:]))
	}
	return out
}

func (d *decoder) geoTransform() (GeoTransform, error) {
	if m := d.doubles(tagModelTransform); len(m) == 16 {
		if m[1] != 0 || m[4] != 0 {
			return GeoTransform{}, errors.New("tiff: rotated model transformation is not supported")
		}
		return GeoTransform{OriginX: m[3], OriginY: m[7], PixelWidth: m[0], PixelHeight: -m[5]}, nil
	}
	scale, tie := d.doubles(tagModelPixelScale), d.doubles(tagModelTiepoint)
	if len(scale) < 2 || len(tie) < 6 {
		return GeoTransform{}, errors.New("tiff: missing georeferencing tags")
	}
	return GeoTransform{
		OriginX:     tie[3] - tie[0]*scale[0],
		OriginY:     tie[4] + tie[1]*scale[1],
		PixelWidth:  scale[0],
		PixelHeight: scale[1],
	}, nil
}

func (d *decoder) geoKey(id uint16) uint64 {
	keys := d.uints(tagGeoKeyDirectory)
	if len(keys) < 4 {
		return 0
	}
	n := int(keys[3])
	for i := 1; i <= n && 4*i+3 < len(keys); i++ {
		k := keys[4*i : 4*i+4]
		if uint16(k[0]) == id && k[1] == 0 {
			return k[3]
		}
	}
	return 0
}

// crs resolves the EPSG code from the GeoKey directory. Files without any
// geokeys are assumed to be WGS84.
func (d *decoder) crs() (CRS, error) {
	if _, ok := d.fields[tagGeoKeyDirectory]; !ok {
		return WGS84, nil
	}
	for _, key := range []uint16{keyProjectedCSType, keyGeographicType} {
		code := d.geoKey(key)
		switch {
		case code == 0:
			continue
		case code == geoKeyUserDefined:
			return CRS{}, fmt.Errorf("%w: user-defined CRS", domain.ErrUnsupportedCRS)
		default:
			return CRSFromEPSG(int(code))
		}
	}
	return WGS84, nil
}

type chunk struct {
	x0, y0, w, h int // placement; w and h include tile padding
}

func (d *decoder) readPixels(g *Grid) error {
	bits := int(d.firstUint(tagBitsPerSample, 1))
	spp := int(d.firstUint(tagSamplesPerPixel, 1))
	format := int(d.firstUint(tagSampleFormat, sampleFormatUint))
	compression := int(d.firstUint(tagCompression, compressionNone))
	predictor := int(d.firstUint(tagPredictor, predictorNone))
	planar := int(d.firstUint(tagPlanarConfig, 1))

	conv, err := sampleConverter(d.bo, bits, format)
	if err != nil {
		return err
	}
	if predictor != predictorNone && (predictor != predictorHorizontal || format == sampleFormatFloat) {
		return fmt.Errorf("tiff: predictor %d with sample format %d is not supported", predictor, format)
	}
	bps := bits / 8
	stride := bps * spp
	if planar == 2 {
		stride = bps
	}

	var chunks []chunk
	var offsets, counts []uint64
	if tw := int(d.firstUint(tagTileWidth, 0)); tw > 0 {
		th := int(d.firstUint(tagTileLength, 0))
		if th <= 0 {
			return errors.New("tiff: tile length missing")
		}
		across, down := (g.Width+tw-1)/tw, (g.Height+th-1)/th
		for i := range across * down {
			chunks = append(chunks, chunk{x0: (i % across) * tw, y0: (i / across) * th, w: tw, h: th})
		}
		offsets, counts = d.uints(tagTileOffsets), d.uints(tagTileByteCounts)
	} else {
		rps := int(d.firstUint(tagRowsPerStrip, uint64(g.Height)))
		if rps <= 0 || rps > g.Height {
			rps = g.Height
		}
		for y := 0; y < g.Height; y += rps {
			chunks = append(chunks, chunk{x0: 0, y0: y, w: g.Width, h: min(rps, g.Height-y)})
		}
		offsets, counts = d.uints(tagStripOffsets), d.uints(tagStripByteCounts)
	}
	if len(offsets) < len(chunks) || len(counts) < len(chunks) {
		return fmt.Errorf("tiff: %d chunks but %d offsets and %d byte counts", len(chunks), len(offsets), len(counts))
	}

	for i, c := range chunks {
		off, n := offsets[i], counts[i]
		if off+n > uint64(len(d.b)) {
			return fmt.Errorf("tiff: chunk %d out of range", i)
		}
		data, err := decompress(d.b[off:off+n], compression, c.w*c.h*stride)
		if err != nil {
			return fmt.Errorf("tiff: chunk %d: %w", i, err)
		}
		if predictor == predictorHorizontal {
			undoHorizontal(d.bo, data, c.w, c.h, bps, stride/bps)
		}
		for y := range c.h {
			gy := c.y0 + y
			if gy >= g.Height {
				break
			}
			row := data[y*c.w*stride:]
			for x := range c.w {
				gx := c.x0 + x
				if gx >= g.Width {
					break
				}
				g.Data[gy*g.Width+gx] = conv(row[x*stride:])
			}
		}
	}
	return nil
}

func decompress(src []byte, compression, want int) ([]byte, error) {
	var r io.Reader
	switch compression {
	case compressionNone:
		if len(src) < want {
			return nil, fmt.Errorf("short uncompressed chunk: %d < %d bytes", len(src), want)
		}
		return append([]byte(nil), src[:want]...), nil
	case compressionLZW:
		lr := lzw.NewReader(bytes.NewReader(src), lzw.MSB, 8)
		defer lr.Close()
		r = lr
	case compressionDeflate, compressionOldZlib:
		zr, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case compressionPackBits:
		return unpackBits(src, want)
	default:
		return nil, fmt.Errorf("compression %d is not supported", compression)
	}
	out := make([]byte, want)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

func unpackBits(src []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	for i := 0; i < len(src) && len(out) < want; {
		n := int(int8(src[i]))
		i++
		switch {
		case n >= 0:
			if i+n+1 > len(src) {
				return nil, errors.New("packbits: truncated literal run")
			}
			out = append(out, src[i:i+n+1]...)
			i += n + 1
		case n != -128:
			if i >= len(src) {
				return nil, errors.New("packbits: truncated repeat run")
			}
			for range 1 - n {
				out = append(out, src[i])
			}
			i++
		}
	}
	if len(out) < want {
		return nil, fmt.Errorf("packbits: %d of %d bytes", len(out), want)
	}
	return out[:want], nil
}

// undoHorizontal reverses TIFF predictor 2 in place for integer samples.
func undoHorizontal(bo binary.ByteOrder, data []byte, w, h, bps, spp int) {
	stride := bps * spp
	for y := range h {
		row := data[y*w*stride : (y+1)*w*stride]
		for i := stride; i < len(row); i += bps {
			switch bps {
			case 1:
				row[i] += row[i-stride]
			case 2:
				bo.PutUint16(row[i:], bo.Uint16(row[i:])+bo.Uint16(row[i-stride:]))
			case 4:
				bo.PutUint32(row[i:], bo.Uint32(row[i:])+bo.Uint32(row[i-stride:]))
			}
		}
	}
}

func sampleConverter(bo binary.ByteOrder, bits, format int) (func([]byte) float32, error) {
	switch {
	case bits == 8 && format == sampleFormatUint:
		return func(b []byte) float32 { return float32(b[0]) }, nil
	case bits == 8 && format == sampleFormatInt:
		return func(b []byte) float32 { return float32(int8(b[0])) }, nil
	case bits == 16 && format == sampleFormatUint:
		return func(b []byte) float32 { return float32(bo.Uint16(b)) }, nil
	case bits == 16 && format == sampleFormatInt:
		return func(b []byte) float32 { return float32(int16(bo.Uint16(b))) }, nil
	case bits == 32 && format == sampleFormatUint:
		return func(b []byte) float32 { return float32(bo.Uint32(b)) }, nil
	case bits == 32 && format == sampleFormatInt:
		return func(b []byte) float32 { return float32(int32(bo.Uint32(b))) }, nil
	case bits == 32 && format == sampleFormatFloat:
		return func(b []byte) float32 { return math.Float32frombits(bo.Uint32(b)) }, nil
	case bits == 64 && format == sampleFormatFloat:
		return func(b []byte) float32 { return float32(math.Float64frombits(bo.Uint64(b))) }, nil
	}
	return nil, fmt.Errorf("tiff: %d-bit samples with format %d are not supported", bits, format)
}
