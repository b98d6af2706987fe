package fs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/internal/cli/output"
	"github.com/marmos91/authproxy/pkg/vfs"
)

var (
	lsLong     bool
	mkdirPath  bool
	mkdirMode  string
)

// entryList is a long directory listing.
type entryList []statView

func (l entryList) Headers() []string {
	return []string{"Mode", "Size", "Modified", "Name"}
}

func (l entryList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		mode, _ := strconv.ParseUint(e.Mode, 8, 32)
		if e.Type == "directory" {
			mode |= uint64(vfs.ModeDir)
		}
		rows = append(rows, []string{
			modeString(uint32(mode)),
			humanize.IBytes(uint64(max(e.Size, 0))),
			e.Mtime.Format(time.DateTime),
			path.Base(e.Path),
		})
	}
	return rows
}

// listDir reads every entry name of dir.
func listDir(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity, dir string) ([]string, error) {
	var einfo vfs.ErrInfo
	d, rc := fsys.OpenDir(ctx, dir, &einfo, id, "")
	if err := check("ls", dir, rc, &einfo); err != nil {
		return nil, err
	}

	var names []string
	for {
		einfo.Reset()
		name, rc := d.Next(ctx, &einfo)
		if rc != vfs.OK {
			if einfo.IsSet() {
				d.Close(ctx, &vfs.ErrInfo{})
				return nil, check("ls", dir, rc, &einfo)
			}
			break
		}
		names = append(names, name)
	}

	einfo.Reset()
	if err := check("ls", dir, d.Close(ctx, &einfo), &einfo); err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

var lsCmd = &cobra.Command{
	Use:   "ls <dir>",
	Short: "List a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			names, err := listDir(ctx, fsys, id, args[0])
			if err != nil {
				return err
			}
			if !lsLong && f == output.FormatTable {
				for _, n := range names {
					fmt.Fprintln(cmd.OutOrStdout(), n)
				}
				return nil
			}
			if !lsLong {
				return output.Print(cmd.OutOrStdout(), f, names)
			}

			entries := make(entryList, 0, len(names))
			for _, n := range names {
				p := path.Join(args[0], n)
				var einfo vfs.ErrInfo
				st, rc := fsys.Stat(ctx, p, &einfo, id, "")
				if err := check("stat", p, rc, &einfo); err != nil {
					return err
				}
				entries = append(entries, newStatView(p, st))
			}
			return output.Print(cmd.OutOrStdout(), f, entries)
		})
	},
}

func parseMode(s string) (uint32, error) {
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil || uint32(m)&^vfs.ModePerm != 0 {
		return 0, fmt.Errorf("invalid mode %q: expected octal permission bits", s)
	}
	return uint32(m), nil
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <dir>",
	Short: "Create a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(mkdirMode)
		if err != nil {
			return err
		}
		if mkdirPath {
			mode |= vfs.MkdirMakePath
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("mkdir", args[0], fsys.Mkdir(ctx, args[0], mode, &einfo, id, ""), &einfo)
		})
	},
}

var rmdirCmd = &cobra.Command{
	Use:   "rmdir <dir>",
	Short: "Remove an empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("rmdir", args[0], fsys.Rmdir(ctx, args[0], &einfo, id, ""), &einfo)
		})
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod <mode> <path>",
	Short: "Change permission bits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := parseMode(args[0])
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			return check("chmod", args[1], fsys.Chmod(ctx, args[1], mode, &einfo, id, ""), &einfo)
		})
	},
}

func init() {
	lsCmd.Flags().BoolVarP(&lsLong, "long", "l", false, "Show mode, size and modification time")
	mkdirCmd.Flags().BoolVarP(&mkdirPath, "parents", "p", false, "Create missing parent directories")
	mkdirCmd.Flags().StringVarP(&mkdirMode, "mode", "m", "755", "Permission bits in octal")
}
