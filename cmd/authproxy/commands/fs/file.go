package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/pkg/vfs"
)

// copyChunk is the transfer size of cat and put. The proxy client splits
// larger buffers itself, so this only bounds local memory.
const copyChunk = 4 << 20

var (
	putParents  bool
	putMode     string
	checksumAlg string
	checksumFn  string
)

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Write a file's content to stdout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			f, rc := fsys.OpenFile(ctx, args[0], vfs.OpenReadOnly, 0, &einfo, id, "")
			if err := check("open", args[0], rc, &einfo); err != nil {
				return err
			}
			_, copyErr := download(ctx, f, cmd.OutOrStdout())
			return errors.Join(copyErr, closeFile(ctx, f, args[0]))
		})
	},
}

func download(ctx context.Context, f vfs.File, w io.Writer) (int64, error) {
	buf := make([]byte, copyChunk)
	var off int64
	for {
		var einfo vfs.ErrInfo
		rc := f.Read(ctx, off, buf, &einfo)
		if rc < 0 {
			return off, check("read", f.Name(), rc, &einfo)
		}
		n := int(rc)
		if n == 0 {
			return off, nil
		}
		if _, err := w.Write(buf[:n]); err != nil {
			return off, err
		}
		off += int64(n)
	}
}

var putCmd = &cobra.Command{
	Use:   "put <local-file|-> <path>",
	Short: "Upload a local file, or stdin with -",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(putMode)
		if err != nil {
			return err
		}

		var src io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			local, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer local.Close()
			src = local
		}

		flags := vfs.OpenWriteOnly | vfs.OpenCreate | vfs.OpenTruncate
		if putParents {
			flags |= vfs.OpenMakePath
		}

		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			f, rc := fsys.OpenFile(ctx, args[1], flags, mode, &einfo, id, "")
			if err := check("open", args[1], rc, &einfo); err != nil {
				return err
			}
			n, copyErr := upload(ctx, f, src)
			if err := errors.Join(copyErr, closeFile(ctx, f, args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s written\n", args[1], humanize.IBytes(uint64(n)))
			return nil
		})
	},
}

func upload(ctx context.Context, f vfs.File, r io.Reader) (int64, error) {
	buf := make([]byte, copyChunk)
	var off int64
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			var einfo vfs.ErrInfo
			rc := f.Write(ctx, off, buf[:n], &einfo)
			if rc < 0 {
				return off, check("write", f.Name(), rc, &einfo)
			}
			if int(rc) != n {
				return off, fmt.Errorf("write %s: short write (%d of %d bytes)", f.Name(), rc, n)
			}
			off += int64(n)
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return off, nil
		default:
			return off, err
		}
	}
}

func closeFile(ctx context.Context, f vfs.File, path string) error {
	var einfo vfs.ErrInfo
	return check("close", path, f.Close(ctx, &einfo), &einfo)
}

var truncateCmd = &cobra.Command{
	Use:   "truncate <path> <size>",
	Short: "Set a file's size, for example 0 or 10MiB",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := humanize.ParseBytes(args[1])
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", args[1], err)
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("truncate", args[0], fsys.Truncate(ctx, args[0], int64(size), &einfo, id, ""), &einfo)
		})
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("rm", args[0], fsys.Remove(ctx, args[0], &einfo, id, ""), &einfo)
		})
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <old-path> <new-path>",
	Short: "Rename a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("mv", args[0], fsys.Rename(ctx, args[0], args[1], &einfo, id, "", ""), &einfo)
		})
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <path>",
	Short: "Compute a file checksum on the manager",
	Long: `Compute a checksum of a file's content on the manager.

Supported algorithms: adler32, crc32, crc32c, md5, sha1, sha256, xxhash64.
With --fn size the digest length in bytes is printed instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fn, ok := map[string]vfs.ChecksumFunc{
			"calc": vfs.ChecksumCalc,
			"get":  vfs.ChecksumGet,
			"size": vfs.ChecksumSize,
		}[checksumFn]
		if !ok {
			return fmt.Errorf("invalid --fn %q (valid: calc, get, size)", checksumFn)
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			rc := fsys.Checksum(ctx, fn, checksumAlg, args[0], &einfo, id, "")
			if err := check("checksum", args[0], rc, &einfo); err != nil {
				return err
			}
			if fn == vfs.ChecksumSize {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", checksumAlg, einfo.Code)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", checksumAlg, einfo.Message, args[0])
			return nil
		})
	},
}

func init() {
	putCmd.Flags().BoolVarP(&putParents, "parents", "p", false, "Create missing parent directories")
	putCmd.Flags().StringVarP(&putMode, "mode", "m", "644", "Permission bits of a new file in octal")
	checksumCmd.Flags().StringVar(&checksumAlg, "algo", "adler32", "Checksum algorithm")
	checksumCmd.Flags().StringVar(&checksumFn, "fn", "calc", "Function: calc, get or size")
}
