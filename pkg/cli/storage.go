package cli

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jguan/retrainer/pkg/config"
	"github.com/jguan/retrainer/pkg/infra/logger"
	"github.com/jguan/retrainer/pkg/infra/objectstore"
)

func newGateway(cfg *config.Config) (*objectstore.Gateway, error) {
	return objectstore.New(objectstore.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	}, logger.Default())
}

func NewStorageCommand(root *RootCommand) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Inspect the training data bucket",
	}

	cmd.AddCommand(newStorageLsCommand(root))

	return cmd
}

func newStorageLsCommand(root *RootCommand) *cobra.Command {
	var prefix string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List the data the next cycle would pick up",
		Long: `List the objects under the new-data prefix. This is also a quick check
that the endpoint, credentials and bucket are usable.`,
		Example: `  retrainer storage ls
  retrainer storage ls --prefix production/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := root.cfg
			if err := cfg.ValidateStorage(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			gw, err := newGateway(cfg)
			if err != nil {
				return err
			}
			if err := gw.CheckBucket(cmd.Context(), cfg.Storage.Bucket); err != nil {
				return err
			}

			if prefix == "" {
				prefix = cfg.Storage.NewPrefix
			}
			location := path.Join(cfg.Storage.Bucket, strings.TrimPrefix(prefix, "/")) + "/"
			keys, err := gw.ListNewObjects(cmd.Context(), location)
			if err != nil {
				return err
			}

			if root.opts.Format != OutputTable {
				return PrintOutput(map[string]any{
					"location": "s3://" + location,
					"objects":  keys,
				}, root.opts)
			}
			if len(keys) == 0 {
				PrintSuccess("No objects under s3://"+location, root.opts)
				return nil
			}
			if root.opts.Quiet {
				return nil
			}
			for _, k := range keys {
				fmt.Fprintln(root.opts.Writer, k)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&prefix, "prefix", "", "Prefix inside the bucket (default: storage.new_prefix)")

	return cmd
}
