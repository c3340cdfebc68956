package cli

import (
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"

	"github.com/davidjoliver86/s3multipart/upload"
)

var (
	uploadBase        string
	uploadConcurrency int
	uploadSSEMode     string
	uploadKMSKeyID    string
)

func newUploadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <parts-dir> <remote-key>",
		Short: "Upload a directory of pre-split parts, resuming any previous attempt",
		Long: `Upload the numbered part files in <parts-dir> as a single object at
s3://<bucket>/<remote-key>. Part files carry a numeric suffix, e.g.
archive.tar.1 through archive.tar.42.

Progress is recorded per part in a state file next to the parts. Rerunning
after a failure uploads only the parts that are still missing; once every part
is uploaded, only the final completion call is retried.

Examples:
  s3multipart --bucket backups upload ./parts archive.tar
  s3multipart --bucket backups upload --base archive.tar --concurrency 8 ./parts archive.tar`,
		Args: cobra.ExactArgs(2),
		RunE: runUpload,
	}

	cmd.Flags().StringVar(&uploadBase, "base", "", "Part file base name; only <base>.<N> files are picked up (default: every numbered file)")
	cmd.Flags().IntVar(&uploadConcurrency, "concurrency", 0, "Number of parts uploaded in parallel (default: based on CPU count)")
	cmd.Flags().StringVar(&uploadSSEMode, "sse", "", "Server-side encryption mode: none, AES256 or aws:kms")
	cmd.Flags().StringVar(&uploadKMSKeyID, "kms-key-id", "", "KMS key ID for sse mode aws:kms")

	return cmd
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	partsDir, err := pathutil.NewPathModifier().AbsPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	concurrency := uploadConcurrency
	if concurrency == 0 {
		concurrency = a.cfg.Concurrency
	}

	return a.newRunner(partsDir).Run(ctx, upload.Input{
		Bucket:      a.cfg.Bucket,
		RemoteKey:   args[1],
		PartsDir:    partsDir,
		BasePattern: uploadBase,
		Concurrency: concurrency,
		Encryption:  a.encryption(uploadSSEMode, uploadKMSKeyID),
	})
}
