package check

import (
	"fmt"
	"os"
	"sync"

	"github.com/ValentinKolb/dORM/cmd/util"
	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/ValentinKolb/dORM/lib/store/mstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var (
	// CheckCmd verifies the reverse index of all types
	CheckCmd = &cobra.Command{
		Use:   "check [type...]",
		Short: "Check the relations and the reverse index of stored objects",
		Long: `Check that every relation of a stored object has its reverse index edge and
that every edge is backed by a relation. All types of the schema are checked unless
types are given. With --repair missing edges are written and stale edges removed.`,
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
	util.SetupDALFlags(CheckCmd)

	CheckCmd.Flags().Bool("repair", false, util.WrapString("Write missing and remove stale reverse index edges"))
	CheckCmd.Flags().Bool("publish", false, util.WrapString("Publish the type descriptors of the schema before checking"))
	CheckCmd.Flags().Int("parallel", 4, util.WrapString("Number of types checked concurrently"))
}

func run(cmd *cobra.Command, args []string) error {
	d, stores, err := util.OpenDAL()
	if err != nil {
		return err
	}
	defer stores.Close()
	ctx := cmd.Context()

	if viper.GetBool("publish") {
		if err := d.PublishDescriptors(ctx); err != nil {
			return err
		}
		fmt.Println("descriptors published")
	}

	types := args
	if len(types) == 0 {
		for _, spec := range d.Registry().Types() {
			types = append(types, spec.Name)
		}
	}

	var (
		mu       sync.Mutex
		problems = map[string][]hdal.EdgeProblem{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, viper.GetInt("parallel")))
	for _, typeName := range types {
		g.Go(func() error {
			found, err := d.CheckRelations(gctx, typeName)
			if err != nil {
				return fmt.Errorf("check %s: %w", typeName, err)
			}
			mu.Lock()
			problems[typeName] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// an edge is reported by both of its types, repair it once
	seen := map[string]bool{}
	var all []hdal.EdgeProblem
	for _, typeName := range types {
		found := problems[typeName]
		fmt.Printf("%-20s %d problems\n", typeName, len(found))
		for _, p := range found {
			fmt.Printf("  %s: %s (%s %s -> %s %s)\n", p.Reason, p.Key, p.DependentType, p.DependentGuid, p.OwnerType, p.OwnerGuid)
			if !seen[p.Key] {
				seen[p.Key] = true
				all = append(all, p)
			}
		}
	}

	if viper.GetBool("repair") && len(all) > 0 {
		if err := d.RepairRelations(ctx, all); err != nil {
			return err
		}
		fmt.Printf("repaired %d edges\n", len(all))
	}

	if stores.Metrics != nil {
		fmt.Println()
		mstore.WriteReport(os.Stdout, stores.Metrics)
	}
	if len(all) > 0 && !viper.GetBool("repair") {
		return fmt.Errorf("found %d problems", len(all))
	}
	return nil
}
