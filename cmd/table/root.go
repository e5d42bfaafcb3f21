package table

import (
	"fmt"

	"github.com/ValentinKolb/dFront/cmd/util"
	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/spf13/cobra"
)

var (
	df *datafront.Client

	// TableCommands represents the table command group
	TableCommands = &cobra.Command{
		Use:               "table",
		Short:             "Query tables of a dFront server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: func(*cobra.Command, []string) {
			if df != nil {
				_ = df.Close()
			}
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query [table] [kind] [json-payload]",
		Short: "Run a query and print its result",
		Long:  "Run a query and print its result. With --watch the result is printed again after every change until interrupted.",
		Args:  cobra.RangeArgs(2, 3),
		RunE:  runQuery,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(TableCommands)

	queryCmd.Flags().Bool("watch", false, util.WrapString("Keep the query active and print every change"))
	TableCommands.AddCommand(queryCmd)
}

// setupClient connects the datafront client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	df, err = util.NewDatafront(cmd)
	return err
}

func runQuery(cmd *cobra.Command, args []string) error {
	var payload any
	if len(args) == 3 {
		var err error
		if payload, err = util.ParsePayload(args[2]); err != nil {
			return err
		}
	}
	watch, _ := cmd.Flags().GetBool("watch")
	kind := query.Kind(args[1])

	t, err := datafront.NewTable(df, args[0], func(e entity.ApiEntity) entity.ApiEntity { return e }, kind)
	if err != nil {
		return err
	}

	q := t.Use()
	defer q.Close()
	if err := q.Activate(query.New(kind, payload)); err != nil {
		return err
	}

	ctx, stop := util.SignalContext()
	defer stop()

	var failure error
	util.Watch(ctx, q.Changed(), func() bool {
		if q.IsLoading() {
			return true
		}
		if apiErr := q.Err(); apiErr != nil {
			failure = apiErr
			return false
		}
		if !q.Loaded() {
			return true
		}
		if err := util.PrintJSON(q.Result()); err != nil {
			failure = err
			return false
		}
		return watch
	})
	if failure != nil {
		return fmt.Errorf("query failed: %w", failure)
	}
	return nil
}
