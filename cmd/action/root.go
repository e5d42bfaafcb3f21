package action

import (
	"fmt"

	"github.com/ValentinKolb/dFront/cmd/util"
	"github.com/ValentinKolb/dFront/lib/action"
	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/spf13/cobra"
)

var (
	df *datafront.Client

	// ActionCommands represents the action command group
	ActionCommands = &cobra.Command{
		Use:               "action",
		Short:             "Invoke actions of a dFront server",
		PersistentPreRunE: setupClient,
		PersistentPostRun: func(*cobra.Command, []string) {
			if df != nil {
				_ = df.Close()
			}
		},
	}

	runCmd = &cobra.Command{
		Use:   "run [name] [json-payload]",
		Short: "Invoke an action once and print its result",
		Long:  "Invoke an action once and print its result. Invocations sharing a --token run at most once on the server, a new token is minted when none is given.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runAction,
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)
	util.SetupRPCClientFlags(ActionCommands)

	runCmd.Flags().String("token", "", util.WrapString("Idempotency token of the invocation"))
	ActionCommands.AddCommand(runCmd)
}

// setupClient connects the datafront client
func setupClient(cmd *cobra.Command, _ []string) (err error) {
	df, err = util.NewDatafront(cmd)
	return err
}

func runAction(cmd *cobra.Command, args []string) error {
	var payload any
	if len(args) == 2 {
		var err error
		if payload, err = util.ParsePayload(args[1]); err != nil {
			return err
		}
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = action.NewToken()
		util.Logger.Infof("using token %s", token)
	}

	a, err := datafront.NewAction(df, args[0], func(e entity.ApiEntity) entity.ApiEntity { return e })
	if err != nil {
		return err
	}

	h := a.Use(token)
	defer h.Close()
	if !h.Run(payload) {
		return fmt.Errorf("token %s was already used", token)
	}

	ctx, stop := util.SignalContext()
	defer stop()

	var failure error
	util.Watch(ctx, h.Changed(), func() bool {
		switch h.State() {
		case action.StateSucceeded:
			result, _ := h.Result()
			failure = util.PrintJSON(result)
			return false
		case action.StateFailed, action.StateRetriable:
			failure = h.Err()
			return false
		}
		return true
	})
	if failure != nil {
		return fmt.Errorf("action failed: %w", failure)
	}
	return nil
}
