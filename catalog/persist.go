package catalog

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/touchhouse/touchhouse"
	"github.com/touchhouse/touchhouse/schema"
)

const schemaFileName = "schema.inf"

func writeSchema(tableDir string, def *schema.Table) error {
	path := filepath.Join(tableDir, schemaFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return touchhouse.WrapError(touchhouse.KindIoError, "create schema.inf", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(toDTO(def)); err != nil {
		return touchhouse.WrapError(touchhouse.KindIoError, "encode schema.inf", err)
	}
	return f.Sync()
}

func readSchema(tableDir, database, name string) (*schema.Table, error) {
	var dto schemaDTO
	if _, err := toml.DecodeFile(filepath.Join(tableDir, schemaFileName), &dto); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindIoError, "read schema.inf", err)
	}
	def, err := fromDTO(dto)
	if err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindSchemaViolation, "decode schema.inf", err)
	}
	def.Database = database
	def.Name = name
	if err := def.Validate(); err != nil {
		return nil, touchhouse.WrapError(touchhouse.KindSchemaViolation, "invalid persisted schema", err)
	}
	return def, nil
}
