package sensorio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// pcdField is one FIELDS entry with its SIZE, TYPE and COUNT.
type pcdField struct {
	name   string
	size   int
	typ    byte
	count  int
	offset int // byte offset in a binary row, or token index in an ascii row
}

// maxPCDCount bounds a field's COUNT so a row stride cannot overflow.
const maxPCDCount = 1 << 16

type pcdHeader struct {
	fields []pcdField
	points int
	data   string
	stride int // bytes per binary row
	tokens int // values per ascii row
}

func (h *pcdHeader) field(names ...string) (pcdField, bool) {
	for _, f := range h.fields {
		for _, n := range names {
			if f.name == n {
				return f, true
			}
		}
	}
	return pcdField{}, false
}

func parsePCDHeader(r *bufio.Reader) (*pcdHeader, error) {
	h := &pcdHeader{points: -1}
	pointsSet := false
	var sizes, counts []string
	var types []string
	var width, height int
	for h.data == "" {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("read pcd header: %w", err)
		}
		line, _, _ = strings.Cut(line, "#")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, _ := strings.Cut(line, " ")
		tokens := strings.Fields(value)
		switch strings.ToUpper(key) {
		case "VERSION", "VIEWPOINT":
		case "FIELDS":
			for _, name := range tokens {
				h.fields = append(h.fields, pcdField{name: name, count: 1})
			}
		case "SIZE":
			sizes = tokens
		case "TYPE":
			types = tokens
		case "COUNT":
			counts = tokens
		case "WIDTH":
			width, err = strconv.Atoi(value)
		case "HEIGHT":
			height, err = strconv.Atoi(value)
		case "POINTS":
			h.points, err = strconv.Atoi(value)
			pointsSet = true
		case "DATA":
			h.data = strings.TrimSpace(value)
		default:
			return nil, fmt.Errorf("unknown pcd header line %q", line)
		}
		if err != nil {
			return nil, fmt.Errorf("invalid pcd %s: %w", key, err)
		}
	}

	if len(h.fields) == 0 {
		return nil, fmt.Errorf("pcd header has no FIELDS")
	}
	if len(sizes) != len(h.fields) || len(types) != len(h.fields) {
		return nil, fmt.Errorf("pcd SIZE/TYPE do not match %d fields", len(h.fields))
	}
	if counts != nil && len(counts) != len(h.fields) {
		return nil, fmt.Errorf("pcd COUNT does not match %d fields", len(h.fields))
	}
	for i := range h.fields {
		f := &h.fields[i]
		size, err := strconv.Atoi(sizes[i])
		if err != nil {
			return nil, fmt.Errorf("invalid pcd SIZE %q", sizes[i])
		}
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return nil, fmt.Errorf("invalid pcd SIZE %q", sizes[i])
		}
		f.size = size
		if len(types[i]) != 1 || !strings.Contains("FIU", types[i]) {
			return nil, fmt.Errorf("invalid pcd TYPE %q", types[i])
		}
		f.typ = types[i][0]
		if counts != nil {
			if f.count, err = strconv.Atoi(counts[i]); err != nil || f.count < 1 || f.count > maxPCDCount {
				return nil, fmt.Errorf("invalid pcd COUNT %q", counts[i])
			}
		}
	}
	if width < 0 || height < 0 {
		return nil, fmt.Errorf("invalid pcd WIDTH %d HEIGHT %d", width, height)
	}
	if !pointsSet {
		if height > 0 && width > math.MaxInt/height {
			return nil, fmt.Errorf("pcd WIDTH %d HEIGHT %d overflow", width, height)
		}
		h.points = width * height
	}
	if h.points < 0 {
		return nil, fmt.Errorf("invalid pcd POINTS %d", h.points)
	}
	for i := range h.fields {
		if h.data == "ascii" {
			h.fields[i].offset = h.tokens
		} else {
			h.fields[i].offset = h.stride
		}
		h.stride += h.fields[i].size * h.fields[i].count
		h.tokens += h.fields[i].count
	}
	return h, nil
}

// decodePCD supports DATA ascii and binary. The returned matrix holds x, y,
// z and, when the file has an intensity field, intensity.
func decodePCD(data []byte) (*mat.Dense, error) {
	r := bufio.NewReader(bytes.NewReader(data))
	h, err := parsePCDHeader(r)
	if err != nil {
		return nil, err
	}

	cols := make([]pcdField, 0, 4)
	for _, name := range []string{"x", "y", "z"} {
		f, ok := h.field(name)
		if !ok {
			return nil, fmt.Errorf("pcd has no %s field", name)
		}
		cols = append(cols, f)
	}
	if f, ok := h.field("intensity", "i"); ok {
		cols = append(cols, f)
	}
	if h.data != "ascii" && h.data != "binary" {
		return nil, fmt.Errorf("unsupported pcd data type %q", h.data)
	}
	if h.points == 0 {
		return &mat.Dense{}, nil
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// Every ascii point takes at least two bytes and every binary point a
	// full stride, so POINTS is checked against the body before allocating.
	need := h.stride
	if h.data == "ascii" {
		need = 2
	}
	if h.points > len(body)/need {
		return nil, fmt.Errorf("pcd declares %d points but body has %d bytes", h.points, len(body))
	}

	vals := make([]float64, h.points*len(cols))
	if h.data == "ascii" {
		err = readPCDASCII(bufio.NewReader(bytes.NewReader(body)), h, cols, vals)
	} else {
		err = readPCDBinary(body, h, cols, vals)
	}
	if err != nil {
		return nil, err
	}
	return mat.NewDense(h.points, len(cols), vals), nil
}

func readPCDASCII(r *bufio.Reader, h *pcdHeader, cols []pcdField, vals []float64) error {
	row := 0
	for row < h.points {
		line, err := r.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			tokens := strings.Fields(line)
			if len(tokens) != h.tokens {
				return fmt.Errorf("pcd point %d: expected %d values, got %d", row, h.tokens, len(tokens))
			}
			for j, f := range cols {
				v, perr := strconv.ParseFloat(tokens[f.offset], 64)
				if perr != nil {
					return fmt.Errorf("pcd point %d field %s: %w", row, f.name, perr)
				}
				vals[row*len(cols)+j] = v
			}
			row++
		}
		if err == io.EOF && row < h.points {
			return fmt.Errorf("pcd ended after %d of %d points", row, h.points)
		}
		if err != nil && err != io.EOF {
			return err
		}
	}
	return nil
}

func readPCDBinary(body []byte, h *pcdHeader, cols []pcdField, vals []float64) error {
	if len(body) < h.points*h.stride {
		return fmt.Errorf("pcd binary body has %d bytes, need %d", len(body), h.points*h.stride)
	}
	for i := 0; i < h.points; i++ {
		rowBytes := body[i*h.stride : (i+1)*h.stride]
		for j, f := range cols {
			v, err := decodePCDValue(rowBytes[f.offset:f.offset+f.size], f.typ)
			if err != nil {
				return fmt.Errorf("pcd field %s: %w", f.name, err)
			}
			vals[i*len(cols)+j] = v
		}
	}
	return nil
}

func decodePCDValue(b []byte, typ byte) (float64, error) {
	le := binary.LittleEndian
	switch {
	case typ == 'F' && len(b) == 4:
		return float64(math.Float32frombits(le.Uint32(b))), nil
	case typ == 'F' && len(b) == 8:
		return math.Float64frombits(le.Uint64(b)), nil
	case typ == 'U' && len(b) == 1:
		return float64(b[0]), nil
	case typ == 'U' && len(b) == 2:
		return float64(le.Uint16(b)), nil
	case typ == 'U' && len(b) == 4:
		return float64(le.Uint32(b)), nil
	case typ == 'I' && len(b) == 1:
		return float64(int8(b[0])), nil
	case typ == 'I' && len(b) == 2:
		return float64(int16(le.Uint16(b))), nil
	case typ == 'I' && len(b) == 4:
		return float64(int32(le.Uint32(b))), nil
	default:
		return 0, fmt.Errorf("unsupported type %c%d", typ, len(b))
	}
}
