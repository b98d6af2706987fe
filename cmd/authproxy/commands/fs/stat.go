package fs

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/internal/cli/output"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// statView is the printable form of vfs.StatInfo.
type statView struct {
	Path  string    `json:"path" yaml:"path"`
	Type  string    `json:"type" yaml:"type"`
	Mode  string    `json:"mode" yaml:"mode"`
	Size  int64     `json:"size" yaml:"size"`
	Ino   uint64    `json:"ino" yaml:"ino"`
	Nlink uint32    `json:"nlink" yaml:"nlink"`
	UID   uint32    `json:"uid" yaml:"uid"`
	GID   uint32    `json:"gid" yaml:"gid"`
	Atime time.Time `json:"atime" yaml:"atime"`
	Mtime time.Time `json:"mtime" yaml:"mtime"`
	Ctime time.Time `json:"ctime" yaml:"ctime"`
}

func newStatView(path string, st vfs.StatInfo) statView {
	kind := "file"
	if st.IsDir() {
		kind = "directory"
	}
	return statView{
		Path:  path,
		Type:  kind,
		Mode:  fmt.Sprintf("%04o", st.Mode&vfs.ModePerm),
		Size:  st.Size,
		Ino:   st.Ino,
		Nlink: st.Nlink,
		UID:   st.UID,
		GID:   st.GID,
		Atime: time.Unix(0, st.Atime),
		Mtime: time.Unix(0, st.Mtime),
		Ctime: time.Unix(0, st.Ctime),
	}
}

func (s statView) pairs() [][2]string {
	return [][2]string{
		{"Path", s.Path},
		{"Type", s.Type},
		{"Mode", s.Mode},
		{"Size", fmt.Sprintf("%d (%s)", s.Size, humanize.IBytes(uint64(max(s.Size, 0))))},
		{"Inode", fmt.Sprint(s.Ino)},
		{"Links", fmt.Sprint(s.Nlink)},
		{"Owner", fmt.Sprintf("%d:%d", s.UID, s.GID)},
		{"Accessed", s.Atime.Format(time.RFC3339)},
		{"Modified", s.Mtime.Format(time.RFC3339)},
		{"Changed", s.Ctime.Format(time.RFC3339)},
	}
}

// modeString renders a mode the way ls does.
func modeString(mode uint32) string {
	kind := "-"
	if mode&vfs.ModeTypeMask == vfs.ModeDir {
		kind = "d"
	}
	return kind + os.FileMode(mode&0o777).String()[1:]
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show file or directory attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := format()
		if err != nil {
			return err
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			st, rc := fsys.Stat(ctx, args[0], &einfo, id, "")
			if err := check("stat", args[0], rc, &einfo); err != nil {
				return err
			}
			view := newStatView(args[0], st)
			if f == output.FormatTable {
				return output.PrintPairs(cmd.OutOrStdout(), view.pairs())
			}
			return output.Print(cmd.OutOrStdout(), f, view)
		})
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <path>",
	Short: "Report whether a path exists and what it is",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			ex, rc := fsys.Exists(ctx, args[0], &einfo, id, "")
			if err := check("exists", args[0], rc, &einfo); err != nil {
				return err
			}
			answer := map[vfs.Existence]string{
				vfs.ExistsNo:        "no",
				vfs.ExistsFile:      "file",
				vfs.ExistsDirectory: "directory",
				vfs.ExistsOther:     "other",
			}[ex]
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], answer)
			return nil
		})
	},
}

var locateCmd = &cobra.Command{
	Use:   "locate [path]",
	Short: "Show the address clients are sent to for a path",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := ""
		if len(args) == 1 {
			target = args[0]
		}
		return run(cmd, func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error {
			var einfo vfs.ErrInfo
			rc := fsys.FSctl(ctx, vfs.FSctlLocate, target, &einfo, id)
			if err := check("locate", target, rc, &einfo); err != nil {
				return err
			}
			// The answer is "<type>\0<address list>".
			msg := einfo.Message
			if i := strings.IndexByte(msg, 0); i >= 0 {
				msg = msg[i+1:]
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(msg))
			return nil
		})
	},
}
