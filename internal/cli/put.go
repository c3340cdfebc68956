package cli

import (
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"

	"github.com/davidjoliver86/s3multipart/upload/network"
)

var (
	putPartSizeMB  int64
	putConcurrency int
	putSSEMode     string
	putKMSKeyID    string
)

func newPutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <file> <remote-key>",
		Short: "Upload a single unsplit file",
		Long: `Upload one file to s3://<bucket>/<remote-key>, letting the transfer manager
split it into parts. Unlike upload, put keeps no session state: an interrupted
transfer starts over on the next run.`,
		Args: cobra.ExactArgs(2),
		RunE: runPut,
	}

	cmd.Flags().Int64Var(&putPartSizeMB, "part-size", 0, "Part size in MB (default 10)")
	cmd.Flags().IntVar(&putConcurrency, "concurrency", 0, "Number of parts uploaded in parallel")
	cmd.Flags().StringVar(&putSSEMode, "sse", "", "Server-side encryption mode: none, AES256 or aws:kms")
	cmd.Flags().StringVar(&putKMSKeyID, "kms-key-id", "", "KMS key ID for sse mode aws:kms")

	return cmd
}

func runPut(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	localPath, err := pathutil.NewPathModifier().AbsPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	err = network.UploadWholeFile(ctx, a.client, network.WholeFileParams{
		Bucket:      a.cfg.Bucket,
		RemoteKey:   args[1],
		LocalPath:   localPath,
		PartSizeMB:  putPartSizeMB,
		Concurrency: putConcurrency,
		Encryption:  a.encryption(putSSEMode, putKMSKeyID),
	}, a.logger)
	if err != nil {
		return err
	}

	a.logger.Donef("Uploaded s3://%s/%s", a.cfg.Bucket, args[1])
	return nil
}
