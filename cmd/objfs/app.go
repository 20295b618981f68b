package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/input-output-hk/catalyst-forge-libs/objfs"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/objtypes"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store/miniostore"
	"github.com/input-output-hk/catalyst-forge-libs/objfs/store/s3store"
)

// storeOpener builds the backend from the global flags.
type storeOpener func(c *cli.Context, logger *slog.Logger) (store.Store, error)

func openStore(c *cli.Context, logger *slog.Logger) (store.Store, error) {
	switch backend := c.String("backend"); backend {
	case "s3":
		opts := []s3store.Option{s3store.WithLogger(logger)}
		if region := c.String("region"); region != "" {
			opts = append(opts, s3store.WithRegion(region))
		}
		if endpoint := c.String("endpoint"); endpoint != "" {
			opts = append(opts, s3store.WithEndpoint(endpoint))
		}
		if c.Bool("path-style") {
			opts = append(opts, s3store.WithForcePathStyle(true))
		}
		return s3store.New(c.Context, c.String("bucket"), opts...)
	case "minio":
		return miniostore.New(miniostore.Options{
			Endpoint:       c.String("endpoint"),
			Bucket:         c.String("bucket"),
			Region:         c.String("region"),
			AccessKey:      c.String("access-key"),
			SecretKey:      c.String("secret-key"),
			Insecure:       c.Bool("insecure"),
			ForcePathStyle: c.Bool("path-style"),
			Logger:         logger,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
}

func newApp(open storeOpener, stdout, stderr io.Writer) *cli.App {
	var fsys *objfs.FileSystem

	setup := func(c *cli.Context) error {
		logger := slog.New(slog.DiscardHandler)
		if c.Bool("verbose") {
			logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}

		s, err := open(c, logger)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}

		opts := []objtypes.Option{
			objfs.WithLogger(logger),
			objfs.WithRootPrefix(c.String("root-prefix")),
			objfs.WithAuthority(c.String("bucket")),
		}
		if dir := c.String("scratch-dir"); dir != "" {
			opts = append(opts, objfs.WithScratchDir(dir))
		}
		if n := c.Int("concurrency"); n > 0 {
			opts = append(opts, objfs.WithConcurrency(n))
		}

		fsys, err = objfs.New(s, opts...)
		return err
	}

	return &cli.App{
		Name:      "objfs",
		Usage:     "Hierarchical file operations on an object store bucket",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Store backend: s3 or minio",
				Value:   "s3",
				EnvVars: []string{"OBJFS_BACKEND"},
			},
			&cli.StringFlag{
				Name:    "bucket",
				Usage:   "Bucket holding the filesystem",
				EnvVars: []string{"OBJFS_BUCKET"},
			},
			&cli.StringFlag{
				Name:    "endpoint",
				Usage:   "Custom endpoint (required for minio)",
				EnvVars: []string{"OBJFS_ENDPOINT"},
			},
			&cli.StringFlag{
				Name:    "region",
				Usage:   "Bucket region",
				EnvVars: []string{"OBJFS_REGION", "AWS_REGION"},
			},
			&cli.BoolFlag{
				Name:    "path-style",
				Usage:   "Address the bucket in the URL path",
				EnvVars: []string{"OBJFS_PATH_STYLE"},
			},
			&cli.StringFlag{
				Name:    "access-key",
				Usage:   "Static access key (minio)",
				EnvVars: []string{"OBJFS_ACCESS_KEY"},
			},
			&cli.StringFlag{
				Name:    "secret-key",
				Usage:   "Static secret key (minio)",
				EnvVars: []string{"OBJFS_SECRET_KEY"},
			},
			&cli.BoolFlag{
				Name:    "insecure",
				Usage:   "Disable TLS (minio)",
				EnvVars: []string{"OBJFS_INSECURE"},
			},
			&cli.StringFlag{
				Name:    "root-prefix",
				Usage:   "Key prefix the filesystem root maps to",
				EnvVars: []string{"OBJFS_ROOT_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "scratch-dir",
				Usage:   "Directory writes are staged in",
				EnvVars: []string{"OBJFS_SCRATCH_DIR"},
			},
			&cli.IntFlag{
				Name:    "concurrency",
				Usage:   "Parts transferred in parallel",
				EnvVars: []string{"OBJFS_CONCURRENCY"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Log debug output to stderr",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[PATH]",
				Action: func(c *cli.Context) error {
					path := "/"
					if c.NArg() > 0 {
						path = c.Args().First()
					}
					entries, err := fsys.List(c.Context, path)
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					for _, e := range entries {
						printStatus(tw, e.Path, e.Size, e.IsDir, e.ModTime)
					}
					return tw.Flush()
				},
			},
			{
				Name:      "stat",
				Usage:     "Show one file or directory",
				ArgsUsage: "PATH",
				Action: func(c *cli.Context) error {
					if err := nargs(c, 1); err != nil {
						return err
					}
					st, err := fsys.Stat(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					printStatus(tw, st.Path, st.Size, st.IsDir, st.ModTime)
					return tw.Flush()
				},
			},
			{
				Name:      "mkdir",
				Usage:     "Create directories and their parents",
				ArgsUsage: "PATH...",
				Action: func(c *cli.Context) error {
					if c.NArg() == 0 {
						return fmt.Errorf("mkdir: at least one path is required")
					}
					for _, path := range c.Args().Slice() {
						if err := fsys.Mkdir(c.Context, path); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Name:      "put",
				Usage:     "Upload a local file (- for stdin)",
				ArgsUsage: "LOCAL PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"f"}, Usage: "Replace an existing file"},
				},
				Action: func(c *cli.Context) error {
					if err := nargs(c, 2); err != nil {
						return err
					}
					src, closeSrc, err := openLocal(c.Args().Get(0))
					if err != nil {
						return err
					}
					defer closeSrc()

					w, err := fsys.Create(c.Context, c.Args().Get(1), c.Bool("overwrite"))
					if err != nil {
						return err
					}
					if _, err := io.Copy(w, src); err != nil {
						w.Abort()
						return fmt.Errorf("failed to stage %s: %w", c.Args().Get(0), err)
					}
					if err := w.Commit(c.Context); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "%s\t%d\t%x\n", w.Path(), w.Size(), w.Digest())
					return nil
				},
			},
			{
				Name:      "get",
				Aliases:   []string{"cat"},
				Usage:     "Download a file to LOCAL or stdout",
				ArgsUsage: "PATH [LOCAL]",
				Action: func(c *cli.Context) error {
					if c.NArg() < 1 || c.NArg() > 2 {
						return fmt.Errorf("%s: expected PATH [LOCAL]", c.Command.Name)
					}
					r, err := fsys.Open(c.Context, c.Args().Get(0))
					if err != nil {
						return err
					}
					defer r.Close()

					if c.NArg() == 1 {
						_, err := io.Copy(c.App.Writer, r)
						return err
					}
					f, err := os.Create(c.Args().Get(1))
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", c.Args().Get(1), err)
					}
					if err := copyAndClose(f, r); err != nil {
						return fmt.Errorf("failed to write %s: %w", c.Args().Get(1), err)
					}
					return nil
				},
			},
			{
				Name:      "rm",
				Usage:     "Delete a file or directory",
				ArgsUsage: "PATH",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "Delete non-empty directories"},
				},
				Action: func(c *cli.Context) error {
					if err := nargs(c, 1); err != nil {
						return err
					}
					return fsys.Delete(c.Context, c.Args().First(), c.Bool("recursive"))
				},
			},
			{
				Name:      "mv",
				Usage:     "Rename a file or directory",
				ArgsUsage: "SRC DST",
				Action: func(c *cli.Context) error {
					if err := nargs(c, 2); err != nil {
						return err
					}
					return fsys.Rename(c.Context, c.Args().Get(0), c.Args().Get(1))
				},
			},
			{
				Name:      "cp",
				Usage:     "Copy a file",
				ArgsUsage: "SRC DST",
				Action: func(c *cli.Context) error {
					if err := nargs(c, 2); err != nil {
						return err
					}
					_, err := fsys.Copy(c.Context, c.Args().Get(0), c.Args().Get(1))
					return err
				},
			},
			{
				Name:      "purge",
				Usage:     "Delete every key starting with PREFIX",
				ArgsUsage: "PREFIX",
				Action: func(c *cli.Context) error {
					if err := nargs(c, 1); err != nil {
						return err
					}
					n, err := fsys.Purge(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "deleted %d objects\n", n)
					return nil
				},
			},
		},
	}
}

func nargs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

// copyAndClose copies src into dst and closes dst. A close failure is
// returned when the copy itself succeeded.
func copyAndClose(dst io.WriteCloser, src io.Reader) error {
	_, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	return err
}

func openLocal(name string) (io.Reader, func(), error) {
	if name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func printStatus(w io.Writer, path string, size int64, isDir bool, mod time.Time) {
	kind := "-"
	if isDir {
		kind = "d"
	}
	modified := "-"
	if !mod.IsZero() {
		modified = mod.UTC().Format(time.RFC3339)
	}
	fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", kind, size, modified, path)
}
