package catalog

import (
	"encoding/hex"
	"fmt"

	"github.com/touchhouse/touchhouse/schema"
	"github.com/touchhouse/touchhouse/value"
)

// schemaDTO is the TOML-serializable form of a schema.Table, written to
// schema.inf.
type schemaDTO struct {
	Database   string      `toml:"database"`
	Name       string      `toml:"name"`
	Engine     string      `toml:"engine"`
	PrimaryKey []string    `toml:"primary_key"`
	OrderBy    []string    `toml:"order_by"`
	Columns    []columnDTO `toml:"columns"`
}

type columnDTO struct {
	Name       string     `toml:"name"`
	Type       string     `toml:"type"`
	Nullable   bool       `toml:"nullable"`
	HasDefault bool       `toml:"has_default"`
	Default    defaultDTO `toml:"default"`
}

// defaultDTO stores a default value across one of its typed fields; the
// Column's Type decides which field is meaningful.
type defaultDTO struct {
	Str  string `toml:"str"`
	Int  int64  `toml:"int"`
	Uint uint64 `toml:"uint"`
	Bool bool   `toml:"bool"`
	Uuid string `toml:"uuid"` // hex-encoded 16 bytes
}

func typeToString(t value.Type) string { return t.String() }

func typeFromString(s string) (value.Type, error) {
	for t := value.TypeNull; t <= value.TypeUint64; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("catalog: unknown value type %q", s)
}

func toDTO(def *schema.Table) schemaDTO {
	dto := schemaDTO{
		Database:   def.Database,
		Name:       def.Name,
		Engine:     def.Engine.String(),
		PrimaryKey: def.PrimaryKey,
		OrderBy:    def.OrderBy,
	}
	for _, c := range def.Columns {
		cd := columnDTO{
			Name:     c.Name,
			Type:     typeToString(c.Type),
			Nullable: c.Nullable,
		}
		if c.DefaultValue != nil {
			cd.HasDefault = true
			cd.Default = valueToDTO(*c.DefaultValue)
		}
		dto.Columns = append(dto.Columns, cd)
	}
	return dto
}

func fromDTO(dto schemaDTO) (*schema.Table, error) {
	eng, ok := schema.ParseEngine(dto.Engine)
	if !ok {
		return nil, fmt.Errorf("catalog: unknown engine %q", dto.Engine)
	}
	def := &schema.Table{
		Database:   dto.Database,
		Name:       dto.Name,
		Engine:     eng,
		PrimaryKey: dto.PrimaryKey,
		OrderBy:    dto.OrderBy,
	}
	for _, c := range dto.Columns {
		typ, err := typeFromString(c.Type)
		if err != nil {
			return nil, err
		}
		col := schema.Column{Name: c.Name, Type: typ, Nullable: c.Nullable}
		if c.HasDefault {
			v, err := dtoToValue(typ, c.Default)
			if err != nil {
				return nil, err
			}
			col.DefaultValue = &v
		}
		def.Columns = append(def.Columns, col)
	}
	return def, nil
}

func valueToDTO(v value.Value) defaultDTO {
	var d defaultDTO
	switch v.Typ {
	case value.TypeString:
		d.Str = v.Str
	case value.TypeBool:
		d.Bool = v.Bool
	case value.TypeUuid:
		d.Uuid = hex.EncodeToString(v.Uuid[:])
	case value.TypeInt8, value.TypeInt16, value.TypeInt32, value.TypeInt64:
		d.Int = v.Int
	case value.TypeUint8, value.TypeUint16, value.TypeUint32, value.TypeUint64:
		d.Uint = v.Uint
	}
	return d
}

func dtoToValue(typ value.Type, d defaultDTO) (value.Value, error) {
	switch typ {
	case value.TypeString:
		return value.String(d.Str), nil
	case value.TypeBool:
		return value.Bool(d.Bool), nil
	case value.TypeUuid:
		raw, err := hex.DecodeString(d.Uuid)
		if err != nil || len(raw) != 16 {
			return value.Value{}, fmt.Errorf("catalog: invalid default uuid %q", d.Uuid)
		}
		var b [16]byte
		copy(b[:], raw)
		return value.Uuid(b), nil
	case value.TypeInt8:
		return value.Int8(int8(d.Int)), nil
	case value.TypeInt16:
		return value.Int16(int16(d.Int)), nil
	case value.TypeInt32:
		return value.Int32(int32(d.Int)), nil
	case value.TypeInt64:
		return value.Int64(d.Int), nil
	case value.TypeUint8:
		return value.Uint8(uint8(d.Uint)), nil
	case value.TypeUint16:
		return value.Uint16(uint16(d.Uint)), nil
	case value.TypeUint32:
		return value.Uint32(uint32(d.Uint)), nil
	case value.TypeUint64:
		return value.Uint64(d.Uint), nil
	default:
		return value.Value{}, fmt.Errorf("catalog: unsupported default value type %v", typ)
	}
}
