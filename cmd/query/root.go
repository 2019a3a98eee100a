package query

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/ValentinKolb/dORM/lib/store/mstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// QueryCmd runs a query against the stored objects of a type
	QueryCmd = &cobra.Command{
		Use:   "query [type]",
		Short: "Query the stored objects of a type",
		Long: `Query the stored objects of a type. Filters have the format field:OP:value
where OP is one of EQ, NE, LT, GT, IN (append ~ to ignore case, e.g. name:EQ~:sda).
Fields are paths that follow relations and backrefs, e.g. machine.name or disks.size.
Values are parsed as JSON and fall back to strings.

  dorm query disk --schema inventory.yaml --filter size:GT:100 --filter machine.name:EQ:alpha`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			return util.InitLogging()
		},
		RunE: run,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupDALFlags(QueryCmd)

	QueryCmd.Flags().StringArray("filter", nil, util.WrapString("Filter in the format field:OP:value (repeatable)"))
	QueryCmd.Flags().Bool("or", false, util.WrapString("Combine the filters with OR instead of AND"))
	QueryCmd.Flags().String("name", "", util.WrapString("Cache the result under this name instead of a key derived from the query"))
	QueryCmd.Flags().StringSlice("fields", nil, util.WrapString("Fields and dynamics to print (default: all properties)"))
	QueryCmd.Flags().String("sort", "", util.WrapString("Sort the result by this field"))
	QueryCmd.Flags().Bool("reverse", false, util.WrapString("Reverse the sort order"))
	QueryCmd.Flags().Int("limit", 0, util.WrapString("Maximum number of objects to print (0 = all)"))
	QueryCmd.Flags().Bool("guids", false, util.WrapString("Print the guids only"))
	QueryCmd.Flags().Bool("json", false, util.WrapString("Print the objects as JSON lines"))
}

func run(cmd *cobra.Command, args []string) error {
	typeName := args[0]

	// read from the flag directly, viper splits arrays at commas
	filters, err := cmd.Flags().GetStringArray("filter")
	if err != nil {
		return err
	}
	var items []hdal.Item
	for _, s := range filters {
		f, err := util.ParseFilter(s)
		if err != nil {
			return err
		}
		items = append(items, f)
	}
	q := hdal.And(items...)
	if viper.GetBool("or") {
		q = hdal.Or(items...)
	}
	var opts []hdal.QueryOption
	if name := viper.GetString("name"); name != "" {
		opts = append(opts, hdal.Named(name))
	}

	d, stores, err := util.OpenDAL()
	if err != nil {
		return err
	}
	defer stores.Close()
	ctx := cmd.Context()

	list, err := d.Query(ctx, typeName, q, opts...)
	if err != nil {
		return err
	}

	if field := viper.GetString("sort"); field != "" {
		err := list.Sort(ctx, func(o *hdal.DataObject) any {
			v, err := fieldValue(cmd, o, field)
			if err != nil {
				return nil
			}
			return v
		}, viper.GetBool("reverse"))
		if err != nil {
			return err
		}
	} else if viper.GetBool("reverse") {
		list.Reverse()
	}
	if limit := viper.GetInt("limit"); limit > 0 {
		list = list.Slice(0, limit)
	}

	if err := printList(cmd, list); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d objects (cached=%t)\n", list.Len(), list.FromCache())

	if stores.Metrics != nil {
		fmt.Println()
		mstore.WriteReport(os.Stdout, stores.Metrics)
		fmt.Println()
		hdal.WriteMetrics(os.Stdout)
	}
	return nil
}

// printList prints the objects of the list, vanished objects are skipped
func printList(cmd *cobra.Command, list *hdal.DataList) error {
	if viper.GetBool("guids") {
		for _, guid := range list.Guids() {
			fmt.Println(guid)
		}
		return nil
	}

	ctx := cmd.Context()
	fields := viper.GetStringSlice("fields")
	asJSON := viper.GetBool("json")

	cursor := list.Iterator(ctx, true)
	defer cursor.Close()
	for cursor.Next() {
		o := cursor.Object()
		row := map[string]any{}
		if len(fields) == 0 {
			row = o.Values()
		} else {
			for _, field := range fields {
				v, err := fieldValue(cmd, o, field)
				if err != nil {
					return err
				}
				row[field] = v
			}
		}
		row["guid"] = o.Guid()

		if asJSON {
			out, err := json.Marshal(row)
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			continue
		}
		fmt.Println(formatRow(o.Guid(), row, fields))
	}
	return cursor.Err()
}

// fieldValue reads a property or relation guid, and evaluates dynamics
func fieldValue(cmd *cobra.Command, o *hdal.DataObject, field string) (any, error) {
	v, err := o.Get(field)
	if err == nil {
		return v, nil
	}
	return o.Dynamic(cmd.Context(), field)
}

func formatRow(guid string, row map[string]any, fields []string) string {
	if len(fields) == 0 {
		for name := range row {
			if name != "guid" {
				fields = append(fields, name)
			}
		}
		slices.Sort(fields)
	}
	parts := []string{guid}
	for _, name := range fields {
		raw, err := json.Marshal(row[name])
		if err != nil {
			raw = []byte(fmt.Sprint(row[name]))
		}
		parts = append(parts, name+"="+string(raw))
	}
	return strings.Join(parts, " ")
}
