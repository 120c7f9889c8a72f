package opack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"
)

const (
	tagTrue  = 0x01
	tagFalse = 0x02
	tagNil   = 0x04
	tagUUID  = 0x05
	tagTime  = 0x06

	tagSmallIntBase = 0x08 // 0x08..0x2F, value 0..39
	tagSmallIntMax  = 39

	tagUintBase = 0x30 // 0x30..0x33, width {1,2,4,8}

	tagFloat32 = 0x35
	tagFloat64 = 0x36

	tagStrInlineBase = 0x40 // 0x40..0x60, length 0..32
	tagStrInlineMax  = 0x20
	tagStrSizedBase  = 0x61 // 0x61..0x64, length width {1,2,3,4}

	tagBytesInlineBase = 0x70 // 0x70..0x90, length 0..32
	tagBytesInlineMax  = 0x20
	tagBytesSizedBase  = 0x91 // 0x91..0x94, length width {1,2,4,8}

	tagArrayBase    = 0xD0 // 0xD0..0xDF, count 0..14, 0xF = sentinel-terminated
	tagArraySpill   = 0xDF
	tagDictBase     = 0xE0
	tagDictSpill    = 0xEF
	tagContainerEnd = 0x03

	tagRefInlineBase = 0xA0 // 0xA0..0xC0, inline index 0..32 (the encoder emits 0..31)
	tagRefInlineMax  = 0x20
	tagRef1          = 0xC1
	tagRef2          = 0xC2
	tagRef4          = 0xC3
	tagRef8          = 0xC4
)

// encodeTable is the append-only object table the encoder consults to
// emit back-references for repeated non-singleton values.
type encodeTable struct {
	seen  map[string]int
	count int
}

func newEncodeTable() *encodeTable {
	return &encodeTable{seen: make(map[string]int)}
}

// lookupOrAdd returns (index, true) if body was seen before; otherwise
// it records body at the next index and returns (0, false).
func (t *encodeTable) lookupOrAdd(body []byte) (int, bool) {
	key := string(body)
	if idx, ok := t.seen[key]; ok {
		return idx, true
	}
	t.seen[key] = t.count
	t.count++
	return 0, false
}

// Pack serializes v into OPACK bytes. Supported Go types: nil, bool,
// Int (width-hinted integer), any native integer type (encoded with
// the narrowest width), float32, float64, string, []byte, uuid.UUID,
// AbsoluteTime, []interface{} and map[string]interface{}.
func Pack(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v, newEncodeTable()); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v interface{}, table *encodeTable) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte(tagNil)
		return nil
	case bool:
		if val {
			buf.WriteByte(tagTrue)
		} else {
			buf.WriteByte(tagFalse)
		}
		return nil
	case []interface{}:
		return encodeArray(buf, val, table)
	case map[string]interface{}:
		return encodeDict(buf, val, table)
	}

	// Every other supported type is a referenceable scalar: build its
	// body first, then decide whether it is a back-reference-exempt
	// singleton (a small inline integer) or goes through the shared
	// object table.
	var body bytes.Buffer
	isSmallInt := false
	switch val := v.(type) {
	case uuid.UUID:
		body.WriteByte(tagUUID)
		body.Write(val[:])
	case AbsoluteTime:
		body.WriteByte(tagTime)
		writeLE(&body, uint64(val), 8)
	case Int:
		encodeSizedInt(&body, val.Value, val.Width)
		isSmallInt = val.Width == 0 && val.Value <= tagSmallIntMax
	case float32:
		body.WriteByte(tagFloat32)
		writeLE(&body, uint64(floatToBits32(val)), 4)
	case float64:
		body.WriteByte(tagFloat64)
		writeLE(&body, floatToBits64(val), 8)
	case string:
		encodeString(&body, val)
	case []byte:
		encodeBytes(&body, val)
	default:
		n, ok := asUint64(v)
		if !ok {
			return &TypeError{Reason: fmt.Sprintf("unsupported value type %T", v)}
		}
		encodeSizedInt(&body, n, 0)
		isSmallInt = n <= tagSmallIntMax
	}

	if isSmallInt {
		buf.Write(body.Bytes())
		return nil
	}
	if idx, found := table.lookupOrAdd(body.Bytes()); found {
		encodeRef(buf, idx)
		return nil
	}
	buf.Write(body.Bytes())
	return nil
}

func encodeArray(buf *bytes.Buffer, items []interface{}, table *encodeTable) error {
	if len(items) < 0x0F {
		buf.WriteByte(byte(tagArrayBase + len(items)))
		for _, it := range items {
			if err := encodeValue(buf, it, table); err != nil {
				return err
			}
		}
		return nil
	}
	buf.WriteByte(tagArraySpill)
	for _, it := range items {
		if err := encodeValue(buf, it, table); err != nil {
			return err
		}
	}
	buf.WriteByte(tagContainerEnd)
	return nil
}

func encodeDict(buf *bytes.Buffer, m map[string]interface{}, table *encodeTable) error {
	keys := orderedKeys(m)
	if len(keys) < 0x0F {
		buf.WriteByte(byte(tagDictBase + len(keys)))
	} else {
		buf.WriteByte(tagDictSpill)
	}
	for _, k := range keys {
		if err := encodeValue(buf, k, table); err != nil {
			return err
		}
		if err := encodeValue(buf, m[k], table); err != nil {
			return err
		}
	}
	if len(keys) >= 0x0F {
		buf.WriteByte(tagContainerEnd)
	}
	return nil
}

// orderedKeys exists only so map encoding is deterministic for tests;
// OPACK itself does not mandate a key order.
func orderedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func encodeSizedInt(buf *bytes.Buffer, value uint64, width int) {
	if width == 0 {
		if value <= tagSmallIntMax {
			buf.WriteByte(byte(tagSmallIntBase + value))
			return
		}
		width = narrowestUintWidth(value)
	}
	tag := tagUintBase
	switch width {
	case 1:
		tag += 0
	case 2:
		tag += 1
	case 4:
		tag += 2
	case 8:
		tag += 3
	default:
		width = 8
		tag += 3
	}
	buf.WriteByte(byte(tag))
	writeLE(buf, value, width)
}

func narrowestUintWidth(v uint64) int {
	switch {
	case v <= 0xFF:
		return 1
	case v <= 0xFFFF:
		return 2
	case v <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func encodeString(buf *bytes.Buffer, s string) {
	b := []byte(s)
	if len(b) <= tagStrInlineMax {
		buf.WriteByte(byte(tagStrInlineBase + len(b)))
		buf.Write(b)
		return
	}
	width := narrowestLenWidth(len(b), []int{1, 2, 3, 4})
	buf.WriteByte(byte(tagStrSizedBase + width - 1))
	writeLE(buf, uint64(len(b)), width)
	buf.Write(b)
}

func encodeBytes(buf *bytes.Buffer, b []byte) {
	if len(b) <= tagBytesInlineMax {
		buf.WriteByte(byte(tagBytesInlineBase + len(b)))
		buf.Write(b)
		return
	}
	widths := []int{1, 2, 4, 8}
	width := narrowestLenWidth(len(b), widths)
	idx := 0
	for i, w := range widths {
		if w == width {
			idx = i
		}
	}
	buf.WriteByte(byte(tagBytesSizedBase + idx))
	writeLE(buf, uint64(len(b)), width)
	buf.Write(b)
}

func narrowestLenWidth(n int, widths []int) int {
	for _, w := range widths {
		max := uint64(1) << (8 * uint(w))
		if w == 8 {
			return 8
		}
		if uint64(n) < max {
			return w
		}
	}
	return widths[len(widths)-1]
}

func encodeRef(buf *bytes.Buffer, idx int) {
	if idx < tagRefInlineMax {
		buf.WriteByte(byte(tagRefInlineBase + idx))
		return
	}
	switch {
	case idx <= 0xFF:
		buf.WriteByte(tagRef1)
		writeLE(buf, uint64(idx), 1)
	case idx <= 0xFFFF:
		buf.WriteByte(tagRef2)
		writeLE(buf, uint64(idx), 2)
	case idx <= 0xFFFFFFFF:
		buf.WriteByte(tagRef4)
		writeLE(buf, uint64(idx), 4)
	default:
		buf.WriteByte(tagRef8)
		writeLE(buf, uint64(idx), 8)
	}
}

func writeLE(buf *bytes.Buffer, v uint64, width int) {
	b := make([]byte, width)
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 3:
		b[0] = byte(v)
		b[1] = byte(v >> 8)
		b[2] = byte(v >> 16)
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
	buf.Write(b)
}

func floatToBits32(f float32) uint32 { return math.Float32bits(f) }
func floatToBits64(f float64) uint64 { return math.Float64bits(f) }

func asUint64(v interface{}) (uint64, bool) {
	switch n := v.(type) {
	case int:
		return uint64(n), true
	case int8:
		return uint64(n), true
	case int16:
		return uint64(n), true
	case int32:
		return uint64(n), true
	case int64:
		return uint64(n), true
	case uint:
		return uint64(n), true
	case uint8:
		return uint64(n), true
	case uint16:
		return uint64(n), true
	case uint32:
		return uint64(n), true
	case uint64:
		return n, true
	default:
		return 0, false
	}
}
