package config

// DataType is the declared upstream type of a monitored point. Write values
// are coerced to this type before being sent upstream.
type DataType string

// Supported point data types.
const (
	TypeBoolean DataType = "Boolean"
	TypeByte    DataType = "Byte"
	TypeInt16   DataType = "Int16"
	TypeUInt16  DataType = "UInt16"
	TypeInt32   DataType = "Int32"
	TypeUInt32  DataType = "UInt32"
	TypeFloat   DataType = "Float"
	TypeDouble  DataType = "Double"
	TypeString  DataType = "String"
)

// Valid reports whether t is a supported data type.
func (t DataType) Valid() bool {
	switch t {
	case TypeBoolean, TypeByte, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32,
		TypeFloat, TypeDouble, TypeString:
		return true
	}
	return false
}

// IsNumeric reports whether t carries a numeric value.
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeByte, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32, TypeFloat, TypeDouble:
		return true
	}
	return false
}

// IsInteger reports whether t is an integer type. Integer points skip the
// decimal rounding step when no scale factor is configured.
func (t DataType) IsInteger() bool {
	switch t {
	case TypeByte, TypeInt16, TypeUInt16, TypeInt32, TypeUInt32:
		return true
	}
	return false
}

// S7Address locates a point inside an S7 data block.
type S7Address struct {
	DB     int `yaml:"db"`               // data block number
	Start  int `yaml:"start"`            // byte offset within the DB
	Bit    int `yaml:"bit,omitempty"`    // bit offset 0-7, Boolean points only
	Length int `yaml:"length,omitempty"` // character count, String points only
}

// ByteSize returns the number of DB bytes the point occupies for the given
// data type. S7 strings carry a two-byte max/actual length header.
func (a S7Address) ByteSize(t DataType) int {
	switch t {
	case TypeBoolean, TypeByte:
		return 1
	case TypeInt16, TypeUInt16:
		return 2
	case TypeInt32, TypeUInt32, TypeFloat:
		return 4
	case TypeDouble:
		return 8
	case TypeString:
		return a.Length + 2
	}
	return 0
}

// Point describes one monitored upstream value. The point set is fixed at
// startup; IDs are unique within the set.
type Point struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name,omitempty"`    // human-readable label
	NodeID    string     `yaml:"node_id,omitempty"` // OPC UA node, e.g. "ns=4;i=2"
	Address   *S7Address `yaml:"address,omitempty"` // S7 DB address
	DataType  DataType   `yaml:"data_type"`
	Unit      string     `yaml:"unit,omitempty"`
	Factor    float64    `yaml:"factor,omitempty"`    // scale factor applied to raw values (0 = 1.0)
	Precision *int       `yaml:"precision,omitempty"` // decimal places after scaling (nil = 2)
	Writable  bool       `yaml:"writable,omitempty"`
}

// DefaultPrecision is the decimal precision applied to scaled values when a
// point doesn't configure its own.
const DefaultPrecision = 2

// EffectiveFactor returns the scale factor, treating unset (0) as identity.
func (p *Point) EffectiveFactor() float64 {
	if p.Factor == 0 {
		return 1
	}
	return p.Factor
}

// EffectivePrecision returns the decimal precision, applying the default when
// the point doesn't set one.
func (p *Point) EffectivePrecision() int {
	if p.Precision == nil {
		return DefaultPrecision
	}
	return *p.Precision
}

// Label returns the human-readable name, falling back to the ID.
func (p *Point) Label() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}
