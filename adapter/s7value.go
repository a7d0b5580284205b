package adapter

import (
	"encoding/binary"
	"fmt"
	"math"

	"plantlink/config"
)

// decodeS7Value converts raw DB bytes into a Go value. S7 is big-endian on
// the wire. The buffer must be at least ByteSize(t) long.
func decodeS7Value(t config.DataType, addr config.S7Address, buf []byte) (interface{}, error) {
	need := addr.ByteSize(t)
	if len(buf) < need {
		return nil, fmt.Errorf("insufficient data for %s: got %d bytes, need %d", t, len(buf), need)
	}

	switch t {
	case config.TypeBoolean:
		if addr.Bit < 0 || addr.Bit > 7 {
			return nil, fmt.Errorf("bit offset %d out of range", addr.Bit)
		}
		return (buf[0] & (1 << addr.Bit)) != 0, nil
	case config.TypeByte:
		return buf[0], nil
	case config.TypeInt16:
		return int16(binary.BigEndian.Uint16(buf)), nil
	case config.TypeUInt16:
		return binary.BigEndian.Uint16(buf), nil
	case config.TypeInt32:
		return int32(binary.BigEndian.Uint32(buf)), nil
	case config.TypeUInt32:
		return binary.BigEndian.Uint32(buf), nil
	case config.TypeFloat:
		return math.Float32frombits(binary.BigEndian.Uint32(buf)), nil
	case config.TypeDouble:
		return math.Float64frombits(binary.BigEndian.Uint64(buf)), nil
	case config.TypeString:
		// S7 STRING: 1 byte max length, 1 byte actual length, then chars.
		strLen := int(buf[1])
		if strLen > len(buf)-2 {
			strLen = len(buf) - 2
		}
		return string(buf[2 : 2+strLen]), nil
	}
	return nil, fmt.Errorf("unsupported data type %s", t)
}

// encodeS7Value converts a coerced Go value into big-endian DB bytes.
// Boolean points are handled by the caller via read-modify-write.
func encodeS7Value(t config.DataType, addr config.S7Address, value interface{}) ([]byte, error) {
	switch t {
	case config.TypeByte:
		v, ok := value.(uint8)
		if !ok {
			return nil, fmt.Errorf("expected uint8, got %T", value)
		}
		return []byte{v}, nil
	case config.TypeInt16:
		v, ok := value.(int16)
		if !ok {
			return nil, fmt.Errorf("expected int16, got %T", value)
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(v))
		return buf, nil
	case config.TypeUInt16:
		v, ok := value.(uint16)
		if !ok {
			return nil, fmt.Errorf("expected uint16, got %T", value)
		}
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, v)
		return buf, nil
	case config.TypeInt32:
		v, ok := value.(int32)
		if !ok {
			return nil, fmt.Errorf("expected int32, got %T", value)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, uint32(v))
		return buf, nil
	case config.TypeUInt32:
		v, ok := value.(uint32)
		if !ok {
			return nil, fmt.Errorf("expected uint32, got %T", value)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v)
		return buf, nil
	case config.TypeFloat:
		v, ok := value.(float32)
		if !ok {
			return nil, fmt.Errorf("expected float32, got %T", value)
		}
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, math.Float32bits(v))
		return buf, nil
	case config.TypeDouble:
		v, ok := value.(float64)
		if !ok {
			return nil, fmt.Errorf("expected float64, got %T", value)
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, math.Float64bits(v))
		return buf, nil
	case config.TypeString:
		v, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", value)
		}
		if addr.Length <= 0 {
			return nil, fmt.Errorf("string point has no address length")
		}
		if len(v) > addr.Length {
			return nil, fmt.Errorf("string %q exceeds max length %d", v, addr.Length)
		}
		buf := make([]byte, addr.Length+2)
		buf[0] = byte(addr.Length)
		buf[1] = byte(len(v))
		copy(buf[2:], v)
		return buf, nil
	}
	return nil, fmt.Errorf("unsupported data type %s", t)
}
