package commands

import (
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/parstat/pkg/pipeline"
	"github.com/Sumatoshi-tech/parstat/pkg/stats/catalog"
)

// registerEstimatorFlags adds one flag per estimator configuration option.
func registerEstimatorFlags(cobraCmd *cobra.Command) {
	registered := make(map[string]bool)

	for _, opt := range catalog.Options() {
		if registered[opt.Flag] {
			continue
		}

		registered[opt.Flag] = true
		registerConfigFlag(cobraCmd, opt)
	}
}

func registerConfigFlag(cobraCmd *cobra.Command, opt pipeline.ConfigurationOption) {
	switch opt.Type {
	case pipeline.BoolConfigurationOption:
		if v, ok := opt.Default.(bool); ok {
			cobraCmd.Flags().Bool(opt.Flag, v, opt.Description)
		}
	case pipeline.IntConfigurationOption:
		if v, ok := opt.Default.(int); ok {
			cobraCmd.Flags().Int(opt.Flag, v, opt.Description)
		}
	case pipeline.StringConfigurationOption:
		if v, ok := opt.Default.(string); ok {
			cobraCmd.Flags().String(opt.Flag, v, opt.Description)
		}
	case pipeline.FloatConfigurationOption:
		if v, ok := opt.Default.(float64); ok {
			cobraCmd.Flags().Float64(opt.Flag, v, opt.Description)
		}
	case pipeline.IntsConfigurationOption:
		if v, ok := opt.Default.([]int); ok {
			cobraCmd.Flags().IntSlice(opt.Flag, v, opt.Description)
		}
	}
}

// applyFlagFacts overrides facts with the estimator flags set on the command line.
func applyFlagFacts(cobraCmd *cobra.Command, facts pipeline.Facts) {
	flags := cobraCmd.Flags()

	for _, opt := range catalog.Options() {
		if !flags.Changed(opt.Flag) {
			continue
		}

		var (
			v   any
			err error
		)

		switch opt.Type {
		case pipeline.BoolConfigurationOption:
			v, err = flags.GetBool(opt.Flag)
		case pipeline.IntConfigurationOption:
			v, err = flags.GetInt(opt.Flag)
		case pipeline.StringConfigurationOption:
			v, err = flags.GetString(opt.Flag)
		case pipeline.FloatConfigurationOption:
			v, err = flags.GetFloat64(opt.Flag)
		case pipeline.IntsConfigurationOption:
			v, err = flags.GetIntSlice(opt.Flag)
		default:
			continue
		}

		if err == nil {
			facts[opt.Name] = v
		}
	}
}
