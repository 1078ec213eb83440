package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-ir/interchange"
	"github.com/wippyai/wasm-ir/validate"
)

func newConvertCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert <in.wasm> <out.pb> <out.wasm>",
		Short: "Decode a module, write its interchange bytes and the re-encoded binary",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return convert(cmd.Context(), opts, logger, cmd.OutOrStdout(), args[0], args[1], args[2])
		},
	}
	cmd.Flags().BoolVar(&opts.noValidate, "no-validate", false, "skip validation of the re-encoded binary")
	return cmd
}

// convert runs the full pipeline: binary to IR, IR to interchange bytes,
// interchange bytes back to IR, IR to binary. The re-encoded binary is
// produced from the unmarshalled module so the interchange format is part
// of the round trip.
func convert(ctx context.Context, opts *options, logger *zap.Logger, out io.Writer, inPath, pbPath, wasmPath string) error {
	in, err := os.ReadFile(inPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", inPath, err)
	}

	codec := opts.codec(logger)
	m, err := codec.Decode(in)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	pb, err := interchange.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	back, err := interchange.Unmarshal(pb)
	if err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}

	bin, err := codec.Encode(back)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	if err := os.WriteFile(pbPath, pb, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", pbPath, err)
	}
	if err := os.WriteFile(wasmPath, bin, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", wasmPath, err)
	}

	fmt.Fprintf(out, "in: %d, out: %d, proto: %d\n", len(in), len(bin), len(pb))

	if opts.noValidate {
		return nil
	}
	v := validate.New(validate.WithFeatures(opts.features()), validate.WithLogger(logger))
	if err := v.Validate(ctx, bin); err != nil {
		return fmt.Errorf("WASM validation error: %w", err)
	}
	return nil
}
