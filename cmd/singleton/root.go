package singleton

import (
	"fmt"

	"github.com/ValentinKolb/dFront/cmd/util"
	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/spf13/cobra"
)

var (
	df *datafront.Client

	// SingletonCommands represents the singleton command group
	SingletonCommands = &cobra.Command{
		Use:               "singleton",
		Short:             "Read singletons of a dFront server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: func(*cobra.Command, []string) {
			if df != nil {
				_ = df.Close()
			}
		},
	}

	getCmd = &cobra.Command{
		Use:   "get [path]",
		Short: "Fetch a singleton and print it",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(SingletonCommands)

	getCmd.Flags().Bool("watch", false, util.WrapString("Keep the singleton active and print every change"))
	SingletonCommands.AddCommand(getCmd)
}

// setupClient connects the datafront client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	df, err = util.NewDatafront(cmd)
	return err
}

func runGet(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetBool("watch")

	s, err := datafront.NewSingleton(df, args[0], func(e entity.ApiEntity) entity.ApiEntity { return e })
	if err != nil {
		return err
	}

	changed, cancel := s.Subscribe()
	defer cancel()
	s.Use()

	ctx, stop := util.SignalContext()
	defer stop()

	var failure error
	util.Watch(ctx, changed, func() bool {
		if s.IsLoading() {
			return true
		}
		if apiErr := s.Err(); apiErr != nil {
			failure = apiErr
			return false
		}
		value, ok := s.Value()
		if !ok {
			return true
		}
		if err := util.PrintJSON(value); err != nil {
			failure = err
			return false
		}
		return watch
	})
	if failure != nil {
		return fmt.Errorf("fetch failed: %w", failure)
	}
	return nil
}
