package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/pampax/pampax/internal/output"
)

// emit writes a success envelope in JSON mode.
func emit(cmd *cobra.Command, root *rootOptions, command string, payload any, start time.Time) error {
	return output.EmitJSON(cmd.OutOrStdout(), output.NewEnvelope(command, root.mode(), payload, start))
}

// emitError writes a failure envelope and returns the error unchanged
// so the process exit code still reflects its kind.
func emitError(cmd *cobra.Command, root *rootOptions, command string, err error, start time.Time) error {
	_ = output.EmitJSON(cmd.OutOrStdout(), output.NewErrorEnvelope(command, root.mode(), err, start))
	return err
}
