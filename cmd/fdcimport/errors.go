package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/yungbote/fooddata-graph/internal/pkg/importerr"
)

const (
	exitSuccess      = 0
	exitError        = 1
	exitBatchFailure = 2
	exitVerify       = 3
	exitCancelled    = 4
	exitSource       = 5
	exitConfig       = 10
)

// handleError prints err and maps it to an exit status. Batch failures also
// report the phase, the failing batch and how many batches committed.
func handleError(cmd *cobra.Command, err error) int {
	if err == nil {
		return exitSuccess
	}
	if errors.Is(err, context.Canceled) {
		cmd.PrintErrln("Operation cancelled")
		return exitCancelled
	}
	if errors.Is(err, errAborted) {
		cmd.PrintErrln("Aborted")
		return exitCancelled
	}

	var ie *importerr.Error
	if errors.As(err, &ie) && ie.Code == importerr.BatchCommitFailure && ie.Phase != "" {
		cmd.PrintErrf("Import failed in phase %s at batch %d; %d batches of that phase committed\n", ie.Phase, ie.Batch, ie.Committed)
		cmd.PrintErrln("Committed batches stay in the graph: run `fdcimport cleanup` before retrying, or retry with --merge or --resume.")
	}
	cmd.PrintErrln("Error:", err)

	switch importerr.CodeOf(err) {
	case importerr.BatchCommitFailure, importerr.PreMaterializationIncomplete:
		return exitBatchFailure
	case importerr.VerificationMismatch:
		return exitVerify
	case importerr.SourceUnavailable, importerr.MalformedDocument:
		return exitSource
	case importerr.InvalidConfig:
		return exitConfig
	default:
		return exitError
	}
}
