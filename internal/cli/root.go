// Package cli wires the s3multipart commands together: configuration,
// logging, the S3 client and the upload runner.
package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/spf13/cobra"

	"github.com/davidjoliver86/s3multipart/config"
	"github.com/davidjoliver86/s3multipart/upload"
	"github.com/davidjoliver86/s3multipart/upload/network"
	"github.com/davidjoliver86/s3multipart/upload/session"
)

var (
	flagConfig   string
	flagVerbose  bool
	flagRegion   string
	flagEndpoint string
	flagBucket   string
)

var rootCmd = &cobra.Command{
	Use:   "s3multipart",
	Short: "Reliable, resumable multipart uploads of pre-split files to S3",
	Long: `Uploads a directory of pre-split part files (archive.tar.1, archive.tar.2, ...)
as a single S3 object via the multipart upload API. Progress is persisted per
part, so an interrupted upload resumes where it left off instead of starting
over.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with the given context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "Path to a YAML config file (default ./"+config.DefaultFileName+" when present)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagRegion, "region", "", "AWS region")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", "", "Service endpoint override, for S3-compatible stores")
	rootCmd.PersistentFlags().StringVarP(&flagBucket, "bucket", "b", "", "Target bucket")

	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newPutCmd())
	rootCmd.AddCommand(newAbortCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newPresignCmd())
}

// app bundles the pieces every subcommand needs. Flags take precedence over
// the config file, which takes precedence over the built-in defaults.
type app struct {
	cfg     config.Config
	logger  log.Logger
	client  *s3.Client
	service *network.Service
}

func newApp(ctx context.Context) (*app, error) {
	logger := log.NewLogger()
	logger.EnableDebugLog(flagVerbose)

	cfg, err := config.Load(flagConfig, env.NewRepository())
	if err != nil {
		return nil, err
	}
	if flagRegion != "" {
		cfg.Region = flagRegion
	}
	if flagEndpoint != "" {
		cfg.Endpoint = flagEndpoint
	}
	if flagBucket != "" {
		cfg.Bucket = flagBucket
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket must be set via --bucket, the config file or S3MULTIPART_BUCKET")
	}

	client, err := network.NewClient(ctx, network.ClientParams{
		Region:          cfg.Region,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
		Endpoint:        cfg.Endpoint,
	}, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		client:  client,
		service: network.NewService(client, logger),
	}, nil
}

func (a *app) newStore(partsDir string) *session.FileStore {
	return session.NewFileStore(resolveStateDir(a.cfg.StateDir, partsDir), a.service, a.logger)
}

func (a *app) newRunner(partsDir string) *upload.Runner {
	uploaderCfg := network.DefaultUploaderConfig()
	uploaderCfg.MaxAttempts = a.cfg.PartRetries
	uploaderCfg.AttemptTimeout = a.cfg.AttemptTimeout.Std()
	uploader := network.NewPartUploader(a.client, uploaderCfg, a.logger)

	return upload.NewRunner(a.newStore(partsDir), uploader, a.service, a.logger)
}

// encryption merges the per-command SSE flags over the configured defaults.
// An explicit mode flag discards the configured KMS key, since the key only
// makes sense together with its mode.
func (a *app) encryption(mode, kmsKeyID string) session.Encryption {
	enc := session.Encryption{Mode: a.cfg.SSE.Mode, KMSKeyID: a.cfg.SSE.KMSKeyID}
	if mode != "" {
		enc.Mode = mode
		enc.KMSKeyID = ""
	}
	if kmsKeyID != "" {
		enc.KMSKeyID = kmsKeyID
	}
	return enc
}

// resolveStateDir anchors a relative state dir under the parts directory, so
// session state travels with the parts it describes.
func resolveStateDir(stateDir, partsDir string) string {
	if filepath.IsAbs(stateDir) {
		return stateDir
	}
	return filepath.Join(partsDir, stateDir)
}
