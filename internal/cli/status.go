package cli

import (
	"fmt"
	"time"

	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/davidjoliver86/s3multipart/upload/session"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <parts-dir> <remote-key>",
		Short: "Show the tracked session for a remote key",
		Args:  cobra.ExactArgs(2),
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	partsDir, err := pathutil.NewPathModifier().AbsPath(args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}

	sess, err := a.newStore(partsDir).Load(a.cfg.Bucket, args[1])
	if err != nil {
		return err
	}

	var uploaded, failed int
	var uploadedBytes, totalBytes int64
	for _, part := range sess.Parts {
		totalBytes += part.SizeBytes
		switch part.Status {
		case session.PartStatusUploaded:
			uploaded++
			uploadedBytes += part.SizeBytes
		case session.PartStatusFailed:
			failed++
		}
	}

	fmt.Printf("Target: s3://%s/%s\n", sess.Bucket, sess.RemoteKey)
	fmt.Printf("Upload ID: %s\n", sess.UploadID)
	fmt.Printf("Status: %s\n", sess.Status)
	fmt.Printf("Started: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Parts: %d/%d uploaded (%s of %s)\n",
		uploaded, len(sess.Parts),
		units.HumanSizeWithPrecision(float64(uploadedBytes), 3),
		units.HumanSizeWithPrecision(float64(totalBytes), 3))
	if failed > 0 {
		fmt.Printf("Failed parts: %d\n", failed)
	}
	if sess.Encryption.Mode != "" {
		fmt.Printf("Encryption: %s\n", sess.Encryption.Mode)
	}

	return nil
}
