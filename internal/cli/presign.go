package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/spf13/cobra"

	"github.com/davidjoliver86/s3multipart/upload/network"
)

var (
	presignPart   int32
	presignExpiry time.Duration
)

func newPresignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presign <parts-dir> <remote-key>",
		Short: "Print a presigned upload URL for one part of a tracked session",
		Long: `Presign emits a signed upload-part request as JSON, so another host can PUT
the part bytes without AWS credentials. The session must already exist; run
upload (or abort it mid-flight) first.`,
		Args: cobra.ExactArgs(2),
		RunE: runPresign,
	}

	cmd.Flags().Int32Var(&presignPart, "part", 0, "Part number to sign")
	cmd.Flags().DurationVar(&presignExpiry, "expiry", 15*time.Minute, "How long the signed URL stays valid")
	_ = cmd.MarkFlagRequired("part")

	return cmd
}

func runPresign(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	partsDir, err := pathutil.NewPathModifier().AbsPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}

	sess, err := a.newStore(partsDir).Load(a.cfg.Bucket, args[1])
	if err != nil {
		return err
	}

	signed, err := network.NewPresigner(a.client, a.logger).PresignPart(ctx, sess, presignPart, presignExpiry)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(signed); err != nil {
		return fmt.Errorf("encode presigned part: %w", err)
	}

	return nil
}
