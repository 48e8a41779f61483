package main

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/libfs/pkg/config"
	"github.com/marmos91/libfs/pkg/lookup"
	"github.com/marmos91/libfs/pkg/plb"
	"github.com/marmos91/libfs/pkg/server"
	"github.com/spf13/cobra"
)

type lookupOptions struct {
	device    uint32
	remote    string
	timeout   time.Duration
	create    bool
	exclusive bool
	file      bool
	directory bool
	link      uint64
	unlink    bool
	parent    bool
}

// flags builds the request flags. A non-zero link index implies LINK.
func (o *lookupOptions) flags() lookup.Flags {
	var f lookup.Flags
	if o.file {
		f |= lookup.FlagFile
	}
	if o.directory {
		f |= lookup.FlagDirectory
	}
	if o.create {
		f |= lookup.FlagCreate
	}
	if o.exclusive {
		f |= lookup.FlagExclusive
	}
	if o.link != 0 {
		f |= lookup.FlagLink
	}
	if o.unlink {
		f |= lookup.FlagUnlink
	}
	if o.parent {
		f |= lookup.FlagParent
	}
	return f
}

func newLookupCmd() *cobra.Command {
	opts := &lookupOptions{}

	cmd := &cobra.Command{
		Use:   "lookup [flags] PATH",
		Short: "Resolve a path, in-process or against a running server",
		Long: `lookup resolves PATH on a device and prints the reply.

Without --remote the configured back-ends are opened in-process, so only
persistent back-ends keep what the lookup creates.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reply, err := runLookup(cmd.Context(), opts, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), reply)
			if !reply.OK() {
				return reply.Err()
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.Uint32Var(&opts.device, "device", 1, "Device handle")
	f.StringVar(&opts.remote, "remote", "", "Server address; resolve in-process when empty")
	f.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Remote call timeout")
	f.BoolVar(&opts.create, "create", false, "Create the node if it is missing")
	f.BoolVar(&opts.exclusive, "exclusive", false, "With --create, fail if the node exists")
	f.BoolVar(&opts.file, "file", false, "Require or create a file")
	f.BoolVar(&opts.directory, "directory", false, "Require or create a directory")
	f.Uint64Var(&opts.link, "link", 0, "Attach the existing node with this index at PATH")
	f.BoolVar(&opts.unlink, "unlink", false, "Remove the entry at PATH")
	f.BoolVar(&opts.parent, "parent", false, "Return the parent of PATH")
	cmd.MarkFlagsMutuallyExclusive("file", "directory")

	return cmd
}

func runLookup(ctx context.Context, opts *lookupOptions, path string) (lookup.Reply, error) {
	dev := lookup.Device(opts.device)

	if opts.remote != "" {
		ctx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()

		client, err := server.Dial(ctx, opts.remote)
		if err != nil {
			return lookup.Reply{}, err
		}
		defer client.Close()
		return client.Lookup(ctx, dev, path, opts.flags(), lookup.Index(opts.link))
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return lookup.Reply{}, err
	}
	reg, err := config.InitializeRegistry(ctx, cfg, nil)
	if err != nil {
		return lookup.Reply{}, err
	}
	defer reg.Close()

	mount, err := reg.Resolve(dev)
	if err != nil {
		return lookup.Reply{}, err
	}

	canonical, err := plb.Canonicalize(path)
	if err != nil {
		return lookup.Reply{}, err
	}
	buf, err := plb.New(cfg.PLB.Size)
	if err != nil {
		return lookup.Reply{}, err
	}
	rng, err := buf.Put(canonical)
	if err != nil {
		return lookup.Reply{}, err
	}

	engine := lookup.NewEngine(mount.Ops, mount.FSHandle, buf, lookup.WithNameMax(cfg.Lookup.NameMax))
	return engine.Resolve(lookup.Request{
		Range:  rng,
		Device: dev,
		Flags:  opts.flags(),
		Index:  lookup.Index(opts.link),
	}), nil
}
