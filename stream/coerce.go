package stream

import (
	"fmt"

	"plantlink/config"
)

// coerceValue converts a JSON value to the Go type the point declares.
// JSON numbers arrive as float64; range and integrality are checked before
// narrowing.
func coerceValue(value interface{}, dataType config.DataType) (interface{}, error) {
	var numVal float64
	var isNumber bool
	var boolVal bool
	var isBool bool
	var strVal string
	var isString bool

	switch v := value.(type) {
	case float64:
		numVal = v
		isNumber = true
	case bool:
		boolVal = v
		isBool = true
	case string:
		strVal = v
		isString = true
	default:
		return nil, fmt.Errorf("unsupported value type: %T", value)
	}

	switch dataType {
	case config.TypeBoolean:
		if isBool {
			return boolVal, nil
		}
		if isNumber {
			return numVal != 0, nil
		}
		return nil, fmt.Errorf("cannot convert %T to Boolean", value)

	case config.TypeByte:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to Byte", value)
		}
		if numVal < 0 || numVal > 255 || numVal != float64(uint8(numVal)) {
			return nil, fmt.Errorf("value %v out of range for Byte (0 to 255)", numVal)
		}
		return uint8(numVal), nil

	case config.TypeInt16:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to Int16", value)
		}
		if numVal < -32768 || numVal > 32767 || numVal != float64(int16(numVal)) {
			return nil, fmt.Errorf("value %v out of range for Int16 (-32768 to 32767)", numVal)
		}
		return int16(numVal), nil

	case config.TypeUInt16:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to UInt16", value)
		}
		if numVal < 0 || numVal > 65535 || numVal != float64(uint16(numVal)) {
			return nil, fmt.Errorf("value %v out of range for UInt16 (0 to 65535)", numVal)
		}
		return uint16(numVal), nil

	case config.TypeInt32:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to Int32", value)
		}
		if numVal < -2147483648 || numVal > 2147483647 || numVal != float64(int32(numVal)) {
			return nil, fmt.Errorf("value %v out of range for Int32", numVal)
		}
		return int32(numVal), nil

	case config.TypeUInt32:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to UInt32", value)
		}
		if numVal < 0 || numVal > 4294967295 || numVal != float64(uint32(numVal)) {
			return nil, fmt.Errorf("value %v out of range for UInt32", numVal)
		}
		return uint32(numVal), nil

	case config.TypeFloat:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to Float", value)
		}
		return float32(numVal), nil

	case config.TypeDouble:
		if !isNumber {
			return nil, fmt.Errorf("cannot convert %T to Double", value)
		}
		return numVal, nil

	case config.TypeString:
		if !isString {
			return nil, fmt.Errorf("cannot convert %T to String", value)
		}
		return strVal, nil
	}

	return nil, fmt.Errorf("unsupported data type %s", dataType)
}
