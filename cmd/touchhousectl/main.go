// Package main implements touchhousectl, a command-line driver for the
// TouchHouse storage and execution engine, operating directly on a
// storage directory without the SQL frontend.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/touchhouse/touchhouse/catalog"
	"github.com/touchhouse/touchhouse/config"
	"github.com/touchhouse/touchhouse/exec"
	"github.com/touchhouse/touchhouse/merge"
	"github.com/touchhouse/touchhouse/plan"
	"github.com/touchhouse/touchhouse/scan"
	"github.com/touchhouse/touchhouse/value"
	"github.com/touchhouse/touchhouse/writer"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "touchhousectl",
		Short: "Drive a TouchHouse storage and execution engine directly, bypassing SQL",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to touchhouse.toml; defaults if absent")

	rootCmd.AddCommand(
		createDatabaseCmd(),
		createTableCmd(),
		insertCmd(),
		selectCmd(),
		mergeOnceCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// engineHandle bundles the subsystems every subcommand needs, built fresh per
// invocation from the loaded config.
type engineHandle struct {
	cat *catalog.Catalog
	exe *exec.Executor
}

func openEngine() (*engineHandle, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := log.NewLogfmtLogger(os.Stderr)
	reg := prometheus.NewRegistry()

	cat, err := catalog.Open(cfg.StorageDirectory, logger, reg)
	if err != nil {
		return nil, err
	}
	w := writer.New(logger, reg)
	s := scan.New(logger, reg)
	return &engineHandle{cat: cat, exe: exec.New(cat, w, s)}, nil
}

func createDatabaseCmd() *cobra.Command {
	var ifNotExists bool
	cmd := &cobra.Command{
		Use:   "create-db <name>",
		Short: "Create a database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			_, err = eng.exe.Execute(cmd.Context(), plan.CreateDatabase{Name: args[0], IfNotExists: ifNotExists})
			return err
		},
	}
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "do not error if the database already exists")
	return cmd
}

func createTableCmd() *cobra.Command {
	var (
		engineName  string
		columnsFlag string
		primaryKey  string
		orderBy     string
		ifNotExists bool
	)
	cmd := &cobra.Command{
		Use:   "create-table <database> <table>",
		Short: "Create a table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(columnsFlag)
			if err != nil {
				return err
			}
			eng, err := openEngine()
			if err != nil {
				return err
			}
			_, err = eng.exe.Execute(cmd.Context(), plan.CreateTable{
				IfNotExists: ifNotExists,
				Def: plan.TableDef{
					Database:   args[0],
					Name:       args[1],
					Engine:     engineName,
					Columns:    cols,
					PrimaryKey: splitNonEmpty(primaryKey),
					OrderBy:    splitNonEmpty(orderBy),
				},
			})
			return err
		},
	}
	cmd.Flags().StringVar(&engineName, "engine", "MergeTree", "MergeTree or ReplacingMergeTree")
	cmd.Flags().StringVar(&columnsFlag, "columns", "", `comma-separated "name:Type[:nullable]" (e.g. "id:UInt64,name:String:nullable")`)
	cmd.Flags().StringVar(&primaryKey, "primary-key", "", "comma-separated column names")
	cmd.Flags().StringVar(&orderBy, "order-by", "", "comma-separated column names")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "do not error if the table already exists")
	return cmd
}

func insertCmd() *cobra.Command {
	var (
		columnsFlag string
		rowsFlag    string
	)
	cmd := &cobra.Command{
		Use:   "insert <database> <table>",
		Short: "Insert rows",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			db, ok := eng.cat.Database(args[0])
			if !ok {
				return fmt.Errorf("database %s does not exist", args[0])
			}
			table, ok := db.Table(args[1])
			if !ok {
				return fmt.Errorf("table %s does not exist", args[1])
			}
			columns := splitNonEmpty(columnsFlag)

			colTypes := make([]value.Type, len(columns))
			for i, name := range columns {
				col, ok := table.Definition().Column(name)
				if !ok {
					return fmt.Errorf("unknown column %s", name)
				}
				colTypes[i] = col.Type
			}

			var rows [][]value.Value
			for _, rowStr := range strings.Split(rowsFlag, ";") {
				rowStr = strings.TrimSpace(rowStr)
				if rowStr == "" {
					continue
				}
				fields := strings.Split(rowStr, ",")
				if len(fields) != len(columns) {
					return fmt.Errorf("row %q has %d fields, expected %d", rowStr, len(fields), len(columns))
				}
				row := make([]value.Value, len(fields))
				for i, f := range fields {
					v, err := parseValue(colTypes[i], strings.TrimSpace(f))
					if err != nil {
						return err
					}
					row[i] = v
				}
				rows = append(rows, row)
			}

			_, err = eng.exe.Execute(cmd.Context(), plan.Insert{Database: args[0], Table: args[1], Columns: columns, Rows: rows})
			return err
		},
	}
	cmd.Flags().StringVar(&columnsFlag, "columns", "", "comma-separated column names, positional with --rows")
	cmd.Flags().StringVar(&rowsFlag, "rows", "", `rows separated by ";", fields separated by ","; use "null" for Null`)
	return cmd
}

func selectCmd() *cobra.Command {
	var (
		projectionFlag string
		orderByFlag    string
		limit          int64
		offset         int64
		hasLimit       bool
	)
	cmd := &cobra.Command{
		Use:   "select <database> <table>",
		Short: "Scan a table and print the result as TSV",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			req := plan.Scan{
				Database:   args[0],
				Table:      args[1],
				Projection: splitNonEmpty(projectionFlag),
				OrderBy:    splitNonEmpty(orderByFlag),
				Offset:     offset,
			}
			if hasLimit {
				req.Limit = &limit
			}
			out, err := eng.exe.Execute(cmd.Context(), req)
			if err != nil {
				return err
			}
			printTable(out)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectionFlag, "projection", "", "comma-separated column names; empty selects none")
	cmd.Flags().StringVar(&orderByFlag, "order-by", "", "comma-separated column names")
	cmd.Flags().Int64Var(&offset, "offset", 0, "rows to skip")
	cmd.Flags().Int64Var(&limit, "limit", 0, "max rows to return")
	cmd.Flags().BoolVar(&hasLimit, "has-limit", false, "apply --limit (unset means unlimited)")
	return cmd
}

func mergeOnceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge-once <database> <table>",
		Short: "Run one background-merge cycle against a single table, ignoring load",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine()
			if err != nil {
				return err
			}
			db, ok := eng.cat.Database(args[0])
			if !ok {
				return fmt.Errorf("database %s does not exist", args[0])
			}
			table, ok := db.Table(args[1])
			if !ok {
				return fmt.Errorf("table %s does not exist", args[1])
			}
			m := merge.New(log.NewLogfmtLogger(os.Stderr), prometheus.NewRegistry(), nil, 0)
			merged, err := m.MergeOnce(cmd.Context(), table)
			if err != nil {
				return err
			}
			if !merged {
				fmt.Fprintln(os.Stderr, "nothing to merge")
			}
			return nil
		},
	}
	return cmd
}

func printTable(out *plan.OutputTable) {
	names := make([]string, len(out.Columns))
	for i, c := range out.Columns {
		names[i] = c.Name
	}
	fmt.Println(strings.Join(names, "\t"))
	for row := 0; row < out.RowCount(); row++ {
		fields := make([]string, len(out.Columns))
		for col := range out.Columns {
			fields[col] = formatValue(out.Data[col][row])
		}
		fmt.Println(strings.Join(fields, "\t"))
	}
}

func formatValue(v value.Value) string {
	if v.Null {
		return "NULL"
	}
	switch v.Typ {
	case value.TypeString:
		return v.Str
	case value.TypeBool:
		return strconv.FormatBool(v.Bool)
	case value.TypeUuid:
		return fmt.Sprintf("%x", v.Uuid)
	case value.TypeInt8, value.TypeInt16, value.TypeInt32, value.TypeInt64:
		return strconv.FormatInt(v.Int, 10)
	default:
		return strconv.FormatUint(v.Uint, 10)
	}
}

func parseValue(t value.Type, s string) (value.Value, error) {
	if strings.EqualFold(s, "null") {
		return value.NullValue(t), nil
	}
	switch t {
	case value.TypeString:
		return value.String(s), nil
	case value.TypeBool:
		b, err := strconv.ParseBool(s)
		return value.Bool(b), err
	case value.TypeInt8:
		n, err := strconv.ParseInt(s, 10, 8)
		return value.Int8(int8(n)), err
	case value.TypeInt16:
		n, err := strconv.ParseInt(s, 10, 16)
		return value.Int16(int16(n)), err
	case value.TypeInt32:
		n, err := strconv.ParseInt(s, 10, 32)
		return value.Int32(int32(n)), err
	case value.TypeInt64:
		n, err := strconv.ParseInt(s, 10, 64)
		return value.Int64(n), err
	case value.TypeUint8:
		n, err := strconv.ParseUint(s, 10, 8)
		return value.Uint8(uint8(n)), err
	case value.TypeUint16:
		n, err := strconv.ParseUint(s, 10, 16)
		return value.Uint16(uint16(n)), err
	case value.TypeUint32:
		n, err := strconv.ParseUint(s, 10, 32)
		return value.Uint32(uint32(n)), err
	case value.TypeUint64:
		n, err := strconv.ParseUint(s, 10, 64)
		return value.Uint64(n), err
	default:
		return value.Value{}, fmt.Errorf("unsupported value type %v", t)
	}
}

func parseColumns(s string) ([]plan.ColumnDef, error) {
	var cols []plan.ColumnDef
	for _, part := range splitNonEmpty(s) {
		fields := strings.Split(part, ":")
		if len(fields) < 2 {
			return nil, fmt.Errorf(`invalid column spec %q, want "name:Type[:nullable]"`, part)
		}
		typ, err := parseType(fields[1])
		if err != nil {
			return nil, err
		}
		nullable := len(fields) > 2 && fields[2] == "nullable"
		cols = append(cols, plan.ColumnDef{Name: fields[0], Type: typ, Nullable: nullable})
	}
	return cols, nil
}

func parseType(s string) (value.Type, error) {
	switch s {
	case "String":
		return value.TypeString, nil
	case "Uuid":
		return value.TypeUuid, nil
	case "Bool":
		return value.TypeBool, nil
	case "Int8":
		return value.TypeInt8, nil
	case "Int16":
		return value.TypeInt16, nil
	case "Int32":
		return value.TypeInt32, nil
	case "Int64":
		return value.TypeInt64, nil
	case "UInt8":
		return value.TypeUint8, nil
	case "UInt16":
		return value.TypeUint16, nil
	case "UInt32":
		return value.TypeUint32, nil
	case "UInt64":
		return value.TypeUint64, nil
	default:
		return 0, fmt.Errorf("unknown column type %q", s)
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
