package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/appoci"
)

var errUsage = errors.New("usage")

type opener func(cmd *cobra.Command) (*appoci.Client, error)

func newPushCmd(open opener) *cobra.Command {
	var f appFlags
	var tags []string
	cmd := &cobra.Command{
		Use:   "push REF",
		Short: "Build an application and push it",
		Long: `Build an application from component binaries and assets and push it.

Components are given as ID=PATH, assets as ID=SRC:DEST with DEST relative
to the application root. Without a tag, REF is tagged with --version.`,
		Example: `  appoci push ghcr.io/acme/hello:1.0.0 \
    --name hello --version 1.0.0 \
    --component web=target/web.wasm --asset web=static:static \
    --trigger http:web:route=/...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := f.application()
			if err != nil {
				return err
			}
			c, err := open(cmd)
			if err != nil {
				return err
			}
			res, err := c.Push(cmd.Context(), app, args[0], appoci.PushWithTags(tags...))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s@%s\n", res.Ref, res.Manifest.Digest())
			fmt.Fprintf(cmd.ErrOrStderr(), "uploaded %d blobs (%d bytes), %d already present\n",
				res.Uploaded, res.BytesUploaded, res.Skipped)
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "additional tags")
	return cmd
}

func newPullCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "pull REF DIR",
		Short: "Pull an application and write it to DIR",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			res, err := c.Pull(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Dest)
			fmt.Fprintf(cmd.ErrOrStderr(), "downloaded %d blobs (%d bytes), %d cached\n",
				res.Downloaded, res.BytesDownloaded, res.Present)
			return nil
		},
	}
}

func newFetchCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch REF",
		Short: "Download an application into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			res, err := c.Fetch(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Manifest.Digest())
			return nil
		},
	}
}

func newResolveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve REF",
		Short: "Print the manifest digest a reference points at",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			desc, err := c.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), desc.Digest)
			return nil
		},
	}
}

func newTagCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "tag REF TAG",
		Short: "Point TAG at the manifest REF resolves to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			return c.Tag(cmd.Context(), args[0], args[1])
		},
	}
}

func newPruneCmd(open opener) *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Evict least recently used blobs from the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := open(cmd)
			if err != nil {
				return err
			}
			freed, err := c.Prune(target)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "freed %d bytes, %d remaining\n", freed, c.CacheSize())
			return nil
		},
	}
	cmd.Flags().Int64Var(&target, "target-bytes", -1, "size to prune down to (default: configured cache.max_bytes)")
	return cmd
}
