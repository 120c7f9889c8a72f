package opack

import (
	"encoding/binary"
	"math"

	"github.com/google/uuid"
)

// decodeTable mirrors the encoder's object table: each newly decoded
// non-singleton scalar is appended in order so a later back-reference
// tag can resolve to it.
type decodeTable struct {
	objects []interface{}
}

// Unpack parses the OPACK value at the start of data and returns it
// along with the unconsumed remainder, matching the exported
// OPACK.unpack(bytes) -> (value, remaining) contract.
func Unpack(data []byte) (interface{}, []byte, error) {
	return decodeValue(data, &decodeTable{})
}

func decodeValue(data []byte, table *decodeTable) (interface{}, []byte, error) {
	if len(data) == 0 {
		return nil, nil, &ProtocolError{Reason: "unexpected end of input"}
	}
	tag := data[0]
	rest := data[1:]

	switch {
	case tag == tagNil:
		return nil, rest, nil
	case tag == tagTrue:
		return true, rest, nil
	case tag == tagFalse:
		return false, rest, nil
	case tag == tagUUID:
		if len(rest) < 16 {
			return nil, nil, &ProtocolError{Reason: "truncated uuid"}
		}
		var u uuid.UUID
		copy(u[:], rest[:16])
		table.objects = append(table.objects, u)
		return u, rest[16:], nil
	case tag == tagTime:
		v, r, err := readLE(rest, 8)
		if err != nil {
			return nil, nil, err
		}
		t := AbsoluteTime(v)
		table.objects = append(table.objects, t)
		return t, r, nil
	case tag >= tagSmallIntBase && tag <= tagSmallIntBase+tagSmallIntMax:
		return Int{Value: uint64(tag - tagSmallIntBase), Width: 0}, rest, nil
	case tag >= tagUintBase && tag <= tagUintBase+3:
		width := []int{1, 2, 4, 8}[tag-tagUintBase]
		v, r, err := readLE(rest, width)
		if err != nil {
			return nil, nil, err
		}
		n := Int{Value: v, Width: width}
		table.objects = append(table.objects, n)
		return n, r, nil
	case tag == tagFloat32:
		v, r, err := readLE(rest, 4)
		if err != nil {
			return nil, nil, err
		}
		f := math.Float32frombits(uint32(v))
		table.objects = append(table.objects, f)
		return f, r, nil
	case tag == tagFloat64:
		v, r, err := readLE(rest, 8)
		if err != nil {
			return nil, nil, err
		}
		f := math.Float64frombits(v)
		table.objects = append(table.objects, f)
		return f, r, nil
	case tag >= tagStrInlineBase && tag <= tagStrInlineBase+tagStrInlineMax:
		n := int(tag - tagStrInlineBase)
		if len(rest) < n {
			return nil, nil, &ProtocolError{Reason: "truncated inline string"}
		}
		s := string(rest[:n])
		table.objects = append(table.objects, s)
		return s, rest[n:], nil
	case tag >= tagStrSizedBase && tag <= tagStrSizedBase+3:
		width := int(tag-tagStrSizedBase) + 1
		n, r, err := readLE(rest, width)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(r)) < n {
			return nil, nil, &ProtocolError{Reason: "truncated sized string"}
		}
		s := string(r[:n])
		table.objects = append(table.objects, s)
		return s, r[n:], nil
	case tag >= tagBytesInlineBase && tag <= tagBytesInlineBase+tagBytesInlineMax:
		n := int(tag - tagBytesInlineBase)
		if len(rest) < n {
			return nil, nil, &ProtocolError{Reason: "truncated inline bytes"}
		}
		b := append([]byte(nil), rest[:n]...)
		table.objects = append(table.objects, b)
		return b, rest[n:], nil
	case tag >= tagBytesSizedBase && tag <= tagBytesSizedBase+3:
		width := []int{1, 2, 4, 8}[tag-tagBytesSizedBase]
		n, r, err := readLE(rest, width)
		if err != nil {
			return nil, nil, err
		}
		if uint64(len(r)) < n {
			return nil, nil, &ProtocolError{Reason: "truncated sized bytes"}
		}
		b := append([]byte(nil), r[:n]...)
		table.objects = append(table.objects, b)
		return b, r[n:], nil
	case tag >= tagArrayBase && tag <= tagArraySpill:
		return decodeArray(tag, rest, table)
	case tag >= tagDictBase && tag <= tagDictSpill:
		return decodeDict(tag, rest, table)
	case tag >= tagRefInlineBase && tag <= tagRefInlineBase+tagRefInlineMax:
		idx := int(tag - tagRefInlineBase)
		return resolveRef(table, idx, rest)
	case tag == tagRef1 || tag == tagRef2 || tag == tagRef4 || tag == tagRef8:
		width := map[byte]int{tagRef1: 1, tagRef2: 2, tagRef4: 4, tagRef8: 8}[tag]
		v, r, err := readLE(rest, width)
		if err != nil {
			return nil, nil, err
		}
		return resolveRef(table, int(v), r)
	default:
		return nil, nil, &TypeError{Reason: "unknown opack tag"}
	}
}

func resolveRef(table *decodeTable, idx int, rest []byte) (interface{}, []byte, error) {
	if idx < 0 || idx >= len(table.objects) {
		return nil, nil, &ProtocolError{Reason: "back-reference index out of range"}
	}
	return table.objects[idx], rest, nil
}

func decodeArray(tag byte, data []byte, table *decodeTable) (interface{}, []byte, error) {
	items := []interface{}{}
	if tag == tagArraySpill {
		for {
			if len(data) == 0 {
				return nil, nil, &ProtocolError{Reason: "unterminated array"}
			}
			if data[0] == tagContainerEnd {
				data = data[1:]
				break
			}
			v, r, err := decodeValue(data, table)
			if err != nil {
				return nil, nil, err
			}
			items = append(items, v)
			data = r
		}
		return items, data, nil
	}
	n := int(tag - tagArrayBase)
	for i := 0; i < n; i++ {
		v, r, err := decodeValue(data, table)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, v)
		data = r
	}
	return items, data, nil
}

func decodeDict(tag byte, data []byte, table *decodeTable) (interface{}, []byte, error) {
	m := map[string]interface{}{}
	readPair := func(data []byte) ([]byte, error) {
		k, r, err := decodeValue(data, table)
		if err != nil {
			return nil, err
		}
		v, r2, err := decodeValue(r, table)
		if err != nil {
			return nil, err
		}
		key, ok := k.(string)
		if !ok {
			return nil, &TypeError{Reason: "opack dictionary key is not a string"}
		}
		m[key] = v
		return r2, nil
	}

	if tag == tagDictSpill {
		for {
			if len(data) == 0 {
				return nil, nil, &ProtocolError{Reason: "unterminated dictionary"}
			}
			if data[0] == tagContainerEnd {
				data = data[1:]
				break
			}
			r, err := readPair(data)
			if err != nil {
				return nil, nil, err
			}
			data = r
		}
		return m, data, nil
	}
	n := int(tag - tagDictBase)
	for i := 0; i < n; i++ {
		r, err := readPair(data)
		if err != nil {
			return nil, nil, err
		}
		data = r
	}
	return m, data, nil
}

func readLE(data []byte, width int) (uint64, []byte, error) {
	if len(data) < width {
		return 0, nil, &ProtocolError{Reason: "truncated integer"}
	}
	b := data[:width]
	var v uint64
	switch width {
	case 1:
		v = uint64(b[0])
	case 2:
		v = uint64(binary.LittleEndian.Uint16(b))
	case 3:
		v = uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16
	case 4:
		v = uint64(binary.LittleEndian.Uint32(b))
	case 8:
		v = binary.LittleEndian.Uint64(b)
	}
	return v, data[width:], nil
}
