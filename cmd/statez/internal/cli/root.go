package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zoobzio/statez"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	*Config
}

// NewRootCommand creates the root command for the statez CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{Config: LoadConfig()}

	cmd := &cobra.Command{
		Use:   "statez",
		Short: "statez - inspect and move persisted store state",
		Long: `Read, write and watch the values statez stores persist, and move them
between a storage backend and a remote HTTP endpoint.

Connection defaults are read from STATEZ_* environment variables and a
.env file in the working directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.Validate()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.Backend, "backend", "b", opts.Backend, fmt.Sprintf("storage backend %v", Backends))
	flags.StringVar(&opts.Addr, "addr", opts.Addr, "backend address, comma-separated for clusters")
	flags.StringVar(&opts.Dir, "dir", opts.Dir, "file backend directory")
	flags.StringVar(&opts.Ext, "ext", opts.Ext, "file backend extension")
	flags.StringVar(&opts.Prefix, "prefix", opts.Prefix, "key prefix (root znode for zookeeper)")
	flags.StringVar(&opts.Table, "table", opts.Table, "postgres table")
	flags.StringVar(&opts.Bucket, "bucket", opts.Bucket, "nats KV bucket")
	flags.StringVar(&opts.Namespace, "namespace", opts.Namespace, "kubernetes namespace")
	flags.StringVar(&opts.Name, "name", opts.Name, "kubernetes ConfigMap name")
	flags.StringVar(&opts.Kubeconfig, "kubeconfig", opts.Kubeconfig, "path to kubeconfig")
	flags.StringVar(&opts.Project, "project", opts.Project, "firestore project")
	flags.StringVar(&opts.Collection, "collection", opts.Collection, "firestore collection")
	flags.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "timeout for single operations")

	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewSetCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewPushCommand(opts))
	cmd.AddCommand(NewPullCommand(opts))

	return cmd
}

// withStorage opens the configured storage for the duration of fn.
func withStorage(ctx context.Context, opts *RootOptions, fn func(statez.Storage) error) error {
	s, closeFn, err := OpenStorage(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(s)
}
