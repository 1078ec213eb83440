// Command wasm2ir converts WebAssembly modules to the IR interchange format
// and back, and inspects the decoded IR.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/ir"
)

type options struct {
	exceptions bool
	noValidate bool
	verbose    bool
}

func (o *options) features() ir.Features {
	if o.exceptions {
		return ir.FeaturesFull
	}
	return ir.FeaturesMinimal
}

func (o *options) logger() (*zap.Logger, error) {
	if o.verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

func (o *options) codec(l *zap.Logger) *ir.Codec {
	return ir.NewCodec(ir.WithFeatures(o.features()), ir.WithLogger(l))
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "wasm2ir",
		Short:         "Convert WebAssembly modules to and from the IR interchange format",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.exceptions, "exceptions", false, "accept exception handling instructions")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newConvertCmd(opts),
		newDumpCmd(opts),
		newInspectCmd(opts),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
