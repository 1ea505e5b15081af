package cmd

import (
	"github.com/spf13/cobra"
	"github.com/vvakame/stitchway/gateway"
	"github.com/vvakame/stitchway/internal/graphql"
)

var sorted bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Builds the gateway schema and prints it",
	Long: `Loads the config, fetches the schema of every subschema that has no schema file,
builds the gateway schema and prints it as SDL.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&sorted, "sorted", false, "print types and fields in lexicographic order")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	if err := requireConfig(); err != nil {
		return err
	}
	ctx, _ := commandContext(cmd)

	gw, err := gateway.NewFromConfigFile(ctx, cfgFile)
	if err != nil {
		return err
	}

	return graphql.PrintSchema(cmd.OutOrStdout(), gw.Schema(), sorted)
}
