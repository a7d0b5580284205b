package adapter

import (
	"bytes"
	"testing"

	"plantlink/config"
)

func TestDecodeS7Value(t *testing.T) {
	tests := []struct {
		name     string
		dataType config.DataType
		addr     config.S7Address
		buf      []byte
		expected interface{}
	}{
		{"bool bit 0 set", config.TypeBoolean, config.S7Address{Bit: 0}, []byte{0x01}, true},
		{"bool bit 0 clear", config.TypeBoolean, config.S7Address{Bit: 0}, []byte{0xFE}, false},
		{"bool bit 5 set", config.TypeBoolean, config.S7Address{Bit: 5}, []byte{0x20}, true},
		{"byte", config.TypeByte, config.S7Address{}, []byte{0xAB}, uint8(0xAB)},
		{"int16 positive", config.TypeInt16, config.S7Address{}, []byte{0x04, 0xD2}, int16(1234)},
		{"int16 negative", config.TypeInt16, config.S7Address{}, []byte{0xFF, 0xFF}, int16(-1)},
		{"uint16", config.TypeUInt16, config.S7Address{}, []byte{0xFF, 0xFF}, uint16(65535)},
		{"int32", config.TypeInt32, config.S7Address{}, []byte{0xFF, 0xFF, 0xFF, 0xFE}, int32(-2)},
		{"uint32", config.TypeUInt32, config.S7Address{}, []byte{0x00, 0x01, 0x00, 0x00}, uint32(65536)},
		{"float", config.TypeFloat, config.S7Address{}, []byte{0x42, 0x28, 0x00, 0x00}, float32(42.0)},
		{"double", config.TypeDouble, config.S7Address{}, []byte{0x40, 0x45, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 42.0},
		{"string", config.TypeString, config.S7Address{Length: 4}, []byte{0x04, 0x03, 'r', 'u', 'n', 0x00}, "run"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeS7Value(tc.dataType, tc.addr, tc.buf)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.expected {
				t.Errorf("decodeS7Value(%s, % X) = %v (%T), want %v (%T)",
					tc.dataType, tc.buf, got, got, tc.expected, tc.expected)
			}
		})
	}

	t.Run("short buffer", func(t *testing.T) {
		if _, err := decodeS7Value(config.TypeInt32, config.S7Address{}, []byte{0x01, 0x02}); err == nil {
			t.Error("expected error for short buffer")
		}
	})

	t.Run("bit offset out of range", func(t *testing.T) {
		if _, err := decodeS7Value(config.TypeBoolean, config.S7Address{Bit: 9}, []byte{0x01}); err == nil {
			t.Error("expected error for bit offset 9")
		}
	})

	t.Run("string actual length clamped to buffer", func(t *testing.T) {
		// Corrupt actual-length byte claiming more chars than the DB holds
		got, err := decodeS7Value(config.TypeString, config.S7Address{Length: 2}, []byte{0x02, 0x09, 'o', 'k'})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "ok" {
			t.Errorf("expected clamped string, got %q", got)
		}
	})
}

func TestEncodeS7Value(t *testing.T) {
	tests := []struct {
		name     string
		dataType config.DataType
		addr     config.S7Address
		value    interface{}
		expected []byte
	}{
		{"byte", config.TypeByte, config.S7Address{}, uint8(0xAB), []byte{0xAB}},
		{"int16", config.TypeInt16, config.S7Address{}, int16(-1), []byte{0xFF, 0xFF}},
		{"uint16", config.TypeUInt16, config.S7Address{}, uint16(1234), []byte{0x04, 0xD2}},
		{"int32", config.TypeInt32, config.S7Address{}, int32(-2), []byte{0xFF, 0xFF, 0xFF, 0xFE}},
		{"uint32", config.TypeUInt32, config.S7Address{}, uint32(65536), []byte{0x00, 0x01, 0x00, 0x00}},
		{"float", config.TypeFloat, config.S7Address{}, float32(42.0), []byte{0x42, 0x28, 0x00, 0x00}},
		{"double", config.TypeDouble, config.S7Address{}, 42.0, []byte{0x40, 0x45, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}},
		{"string with header", config.TypeString, config.S7Address{Length: 4}, "run", []byte{0x04, 0x03, 'r', 'u', 'n', 0x00}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := encodeS7Value(tc.dataType, tc.addr, tc.value)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, tc.expected) {
				t.Errorf("encodeS7Value(%s, %v) = % X, want % X", tc.dataType, tc.value, got, tc.expected)
			}
		})
	}

	t.Run("wrong input type", func(t *testing.T) {
		if _, err := encodeS7Value(config.TypeInt16, config.S7Address{}, 5); err == nil {
			t.Error("expected error for uncoerced int")
		}
	})

	t.Run("string too long", func(t *testing.T) {
		if _, err := encodeS7Value(config.TypeString, config.S7Address{Length: 2}, "toolong"); err == nil {
			t.Error("expected error for oversized string")
		}
	})

	t.Run("string without length", func(t *testing.T) {
		if _, err := encodeS7Value(config.TypeString, config.S7Address{}, "x"); err == nil {
			t.Error("expected error for missing address length")
		}
	})
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	// Encoded bytes must decode back to the same value
	values := []struct {
		dataType config.DataType
		addr     config.S7Address
		value    interface{}
	}{
		{config.TypeInt16, config.S7Address{}, int16(-12345)},
		{config.TypeUInt32, config.S7Address{}, uint32(4000000000)},
		{config.TypeFloat, config.S7Address{}, float32(21.5)},
		{config.TypeDouble, config.S7Address{}, 230.567},
		{config.TypeString, config.S7Address{Length: 10}, "mixer-2"},
	}

	for _, tc := range values {
		buf, err := encodeS7Value(tc.dataType, tc.addr, tc.value)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.dataType, err)
		}
		got, err := decodeS7Value(tc.dataType, tc.addr, buf)
		if err != nil {
			t.Fatalf("decode %s: %v", tc.dataType, err)
		}
		if got != tc.value {
			t.Errorf("round trip %s: got %v, want %v", tc.dataType, got, tc.value)
		}
	}
}
