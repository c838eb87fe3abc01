package volume

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"wasp/internal/models"
)

const nrrdMagic = "NRRD0004"

// labelMapKey marks label volumes in the NRRD key/value section.
const labelMapKey = "wasp_labelmap"

// WriteNRRD encodes vol as an NRRD file with an attached header. Label maps are
// written as 32-bit integers, scalar volumes as doubles.
func WriteNRRD(w io.Writer, vol *models.Volume, compress bool) error {
	if err := vol.Validate(); err != nil {
		return err
	}

	typ := "double"
	if vol.LabelMap {
		typ = "int"
	}
	encoding := "raw"
	if compress {
		encoding = "gzip"
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, nrrdMagic)
	fmt.Fprintln(bw, "# Complete NRRD file format specification at:")
	fmt.Fprintln(bw, "# http://teem.sourceforge.net/nrrd/format.html")
	fmt.Fprintf(bw, "type: %s\n", typ)
	fmt.Fprintln(bw, "dimension: 3")
	fmt.Fprintln(bw, "space: right-anterior-superior")
	fmt.Fprintf(bw, "sizes: %d %d %d\n", vol.Width, vol.Height, vol.Depth)

	spacing := [3]float64{vol.Spacing.X, vol.Spacing.Y, vol.Spacing.Z}
	var dirs []string
	for axis := 0; axis < 3; axis++ {
		dirs = append(dirs, fmt.Sprintf("(%s,%s,%s)",
			formatFloat(vol.Directions[0][axis]*spacing[axis]),
			formatFloat(vol.Directions[1][axis]*spacing[axis]),
			formatFloat(vol.Directions[2][axis]*spacing[axis])))
	}
	fmt.Fprintf(bw, "space directions: %s\n", strings.Join(dirs, " "))
	fmt.Fprintln(bw, "kinds: domain domain domain")
	fmt.Fprintln(bw, "endian: little")
	fmt.Fprintf(bw, "encoding: %s\n", encoding)
	fmt.Fprintf(bw, "space origin: (%s,%s,%s)\n",
		formatFloat(vol.Origin.X), formatFloat(vol.Origin.Y), formatFloat(vol.Origin.Z))
	if vol.LabelMap {
		fmt.Fprintf(bw, "%s:=1\n", labelMapKey)
	}
	fmt.Fprintln(bw)

	var body io.Writer = bw
	var zw *gzip.Writer
	if compress {
		zw = gzip.NewWriter(bw)
		body = zw
	}

	buf := make([]byte, 0, 8*vol.Width)
	for row := 0; row < vol.Height*vol.Depth; row++ {
		buf = buf[:0]
		for _, v := range vol.Data[row*vol.Width : (row+1)*vol.Width] {
			if vol.LabelMap {
				buf = binary.LittleEndian.AppendUint32(buf, uint32(int32(v)))
			} else {
				buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
			}
		}
		if _, err := body.Write(buf); err != nil {
			return errors.Wrap(err, "writing nrrd data")
		}
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return errors.Wrap(err, "closing gzip stream")
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type nrrdHeader struct {
	typ        string
	sizes      [3]int
	directions [3][3]float64
	origin     models.Point3
	endian     binary.ByteOrder
	encoding   string
	labelMap   bool
}

// ReadNRRD decodes a volume written by WriteNRRD or by Slicer with an
// attached header. Supported encodings are raw and gzip.
func ReadNRRD(r io.Reader, name string) (*models.Volume, error) {
	br := bufio.NewReader(r)
	h, err := readHeader(br)
	if err != nil {
		return nil, err
	}

	var body io.Reader = br
	switch h.encoding {
	case "raw":
	case "gzip", "gz":
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		defer zr.Close()
		body = zr
	default:
		return nil, fmt.Errorf("unsupported nrrd encoding %q", h.encoding)
	}

	vol := models.NewVolume(name, h.sizes[0], h.sizes[1], h.sizes[2])
	vol.LabelMap = h.labelMap
	vol.Origin = h.origin
	spacing := [3]float64{}
	for axis := 0; axis < 3; axis++ {
		col := h.directions[axis]
		norm := math.Sqrt(col[0]*col[0] + col[1]*col[1] + col[2]*col[2])
		if norm == 0 {
			norm = 1
			col = [3]float64{}
			col[axis] = 1
		}
		spacing[axis] = norm
		for row := 0; row < 3; row++ {
			vol.Directions[row][axis] = col[row] / norm
		}
	}
	vol.Spacing = models.Point3{X: spacing[0], Y: spacing[1], Z: spacing[2]}

	if err := readSamples(body, h, vol.Data); err != nil {
		return nil, err
	}
	return vol, nil
}

func readHeader(br *bufio.Reader) (*nrrdHeader, error) {
	magic, err := br.ReadString('\n')
	if err != nil {
		return nil, errors.Wrap(err, "reading nrrd magic")
	}
	if !strings.HasPrefix(magic, "NRRD000") {
		return nil, fmt.Errorf("not a nrrd file")
	}

	h := &nrrdHeader{endian: binary.LittleEndian, encoding: "raw"}
	h.directions = [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
	dimension := 0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, errors.Wrap(err, "reading nrrd header")
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, ok := strings.Cut(line, ":="); ok {
			if key == labelMapKey {
				h.labelMap = value == "1"
			}
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed nrrd header line %q", line)
		}
		value = strings.TrimSpace(value)
		switch key {
		case "type":
			h.typ = value
		case "dimension":
			if dimension, err = strconv.Atoi(value); err != nil {
				return nil, errors.Wrap(err, "nrrd dimension")
			}
		case "sizes":
			fields := strings.Fields(value)
			if len(fields) != 3 {
				return nil, fmt.Errorf("expected 3 sizes, got %q", value)
			}
			for i, f := range fields {
				if h.sizes[i], err = strconv.Atoi(f); err != nil {
					return nil, errors.Wrap(err, "nrrd sizes")
				}
			}
		case "space directions":
			vectors, err := parseVectors(value)
			if err != nil {
				return nil, err
			}
			if len(vectors) != 3 {
				return nil, fmt.Errorf("expected 3 space directions, got %d", len(vectors))
			}
			for i, v := range vectors {
				h.directions[i] = v
			}
		case "space origin":
			vectors, err := parseVectors(value)
			if err != nil || len(vectors) != 1 {
				return nil, fmt.Errorf("malformed space origin %q", value)
			}
			h.origin = models.Point3{X: vectors[0][0], Y: vectors[0][1], Z: vectors[0][2]}
		case "endian":
			if value == "big" {
				h.endian = binary.BigEndian
			}
		case "encoding":
			h.encoding = value
		}
	}
	if dimension != 3 {
		return nil, fmt.Errorf("only 3 dimensional nrrd files are supported, got %d", dimension)
	}
	return h, nil
}

// parseVectors reads "(a,b,c) (d,e,f)" lists.
func parseVectors(value string) ([][3]float64, error) {
	var out [][3]float64
	for _, field := range strings.Fields(value) {
		field = strings.Trim(field, "()")
		parts := strings.Split(field, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed vector %q", field)
		}
		var v [3]float64
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "vector %q", field)
			}
			v[i] = f
		}
		out = append(out, v)
	}
	return out, nil
}

func readSamples(r io.Reader, h *nrrdHeader, dst []float64) error {
	var size int
	var decode func(b []byte) float64
	switch h.typ {
	case "double":
		size = 8
		decode = func(b []byte) float64 { return math.Float64frombits(h.endian.Uint64(b)) }
	case "float":
		size = 4
		decode = func(b []byte) float64 { return float64(math.Float32frombits(h.endian.Uint32(b))) }
	case "int", "int32":
		size = 4
		decode = func(b []byte) float64 { return float64(int32(h.endian.Uint32(b))) }
	case "uint", "uint32", "unsigned int":
		size = 4
		decode = func(b []byte) float64 { return float64(h.endian.Uint32(b)) }
	case "short", "int16":
		size = 2
		decode = func(b []byte) float64 { return float64(int16(h.endian.Uint16(b))) }
	case "ushort", "uint16", "unsigned short":
		size = 2
		decode = func(b []byte) float64 { return float64(h.endian.Uint16(b)) }
	case "uchar", "uint8", "unsigned char":
		size = 1
		decode = func(b []byte) float64 { return float64(b[0]) }
	default:
		return fmt.Errorf("unsupported nrrd type %q", h.typ)
	}

	buf := make([]byte, size*4096)
	for off := 0; off < len(dst); {
		n := len(dst) - off
		if n > 4096 {
			n = 4096
		}
		chunk := buf[:n*size]
		if _, err := io.ReadFull(r, chunk); err != nil {
			return errors.Wrap(err, "reading nrrd data")
		}
		for i := 0; i < n; i++ {
			dst[off+i] = decode(chunk[i*size : (i+1)*size])
		}
		off += n
	}
	return nil
}
