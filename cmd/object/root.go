package object

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/spf13/cobra"
)

var (
	dal    *hdal.DAL
	stores *util.Stores

	// ObjectCommands represents the object command group
	ObjectCommands = &cobra.Command{
		Use:   "object",
		Short: "Create, read, update and delete single objects",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := util.BindCommandFlags(cmd); err != nil {
				return err
			}
			if err := util.InitLogging(); err != nil {
				return err
			}
			var err error
			dal, stores, err = util.OpenDAL()
			return err
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if stores == nil {
				return nil
			}
			return stores.Close()
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [type] [guid]",
		Short: "Print an object with its relations and dynamics",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := dal.Load(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printObject(cmd, o)
		},
	}

	createCmd = &cobra.Command{
		Use:   "create [type] [field=value...]",
		Short: "Create an object, relations are set with relation=<guid>",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := dal.New(args[0])
			if err != nil {
				return err
			}
			return assignAndSave(cmd, o, args[1:])
		},
	}

	updateCmd = &cobra.Command{
		Use:   "update [type] [guid] [field=value...]",
		Short: "Change fields of an object",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := parsePolicy(cmd)
			if err != nil {
				return err
			}
			o, err := dal.Load(cmd.Context(), args[0], args[1], hdal.WithConflictPolicy(policy))
			if err != nil {
				return err
			}
			return assignAndSave(cmd, o, args[2:])
		},
	}

	deleteCmd = &cobra.Command{
		Use:   "delete [type] [guid]",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := dal.Load(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			var opts []hdal.DeleteOption
			if force, _ := cmd.Flags().GetBool("force"); !force {
				opts = append(opts, hdal.CheckLinks())
			}
			if err := o.Delete(cmd.Context(), opts...); err != nil {
				return err
			}
			fmt.Printf("deleted %s %s\n", o.Type(), o.Guid())
			return nil
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupDALFlags(ObjectCommands)

	updateCmd.Flags().String("policy", "caller", util.WrapString("Conflict policy if a field was changed concurrently: caller, datastore or strict"))
	deleteCmd.Flags().Bool("force", false, util.WrapString("Delete even if other objects still point to the object"))

	ObjectCommands.AddCommand(getCmd)
	ObjectCommands.AddCommand(createCmd)
	ObjectCommands.AddCommand(updateCmd)
	ObjectCommands.AddCommand(deleteCmd)
}

func parsePolicy(cmd *cobra.Command) (hdal.ConflictPolicy, error) {
	policy, _ := cmd.Flags().GetString("policy")
	switch policy {
	case "caller":
		return hdal.CallerWins, nil
	case "datastore":
		return hdal.DatastoreWins, nil
	case "strict":
		return hdal.Strict, nil
	default:
		return 0, fmt.Errorf("invalid policy %s (expected one of: caller, datastore, strict)", policy)
	}
}

// assignAndSave applies field=value assignments and saves the object
func assignAndSave(cmd *cobra.Command, o *hdal.DataObject, assignments []string) error {
	spec, err := dal.Registry().Type(o.Type())
	if err != nil {
		return err
	}
	relations := map[string]bool{}
	for _, rel := range spec.Relations {
		relations[rel.Name] = true
	}

	for _, a := range assignments {
		name, value, err := util.ParseAssignment(a)
		if err != nil {
			return err
		}
		if relations[name] {
			guid, _ := value.(string)
			if err := o.SetRelationGuid(name, guid); err != nil {
				return err
			}
			continue
		}
		if err := o.Set(name, value); err != nil {
			return err
		}
	}

	if err := o.Save(cmd.Context()); err != nil {
		return err
	}
	fmt.Printf("saved %s %s (version %d)\n", o.Type(), o.Guid(), o.Version())
	return nil
}

// printObject prints properties, relation guids, backrefs and dynamics of an object as JSON
func printObject(cmd *cobra.Command, o *hdal.DataObject) error {
	ctx := cmd.Context()
	spec, err := dal.Registry().Type(o.Type())
	if err != nil {
		return err
	}

	out := o.Values()
	out["guid"] = o.Guid()
	out["_version"] = o.Version()
	for _, rel := range spec.Relations {
		guid, err := o.RelationGuid(rel.Name)
		if err != nil {
			return err
		}
		out[rel.Name] = guid
	}
	for _, dyn := range spec.Dynamics {
		v, err := o.Dynamic(ctx, dyn.Name)
		if err != nil {
			return err
		}
		out[dyn.Name] = v
	}

	backrefs, err := dal.ForeignRelations(ctx, o.Type())
	if err != nil {
		return err
	}
	for name := range backrefs {
		list, err := o.Backref(ctx, name)
		if err != nil {
			return err
		}
		out[name] = list.Guids()
	}

	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
