package cli

import (
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"
)

func newAbortCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "abort <parts-dir> <remote-key>",
		Short: "Abort the tracked multipart upload and drop its session state",
		Long: `Abort tells the service to discard the in-progress multipart upload for
s3://<bucket>/<remote-key> (freeing the storage its parts occupy) and removes
the local session record. The part files themselves are left alone.`,
		Args: cobra.ExactArgs(2),
		RunE: runAbort,
	}
}

func runAbort(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	partsDir, err := pathutil.NewPathModifier().AbsPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	return a.newRunner(partsDir).Abort(ctx, a.cfg.Bucket, args[1])
}
