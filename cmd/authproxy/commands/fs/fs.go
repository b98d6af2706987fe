// Package fs implements filesystem subcommands that run against a manager
// through the proxy client.
package fs

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/internal/cli/output"
	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/client"
	"github.com/marmos91/authproxy/pkg/config"
	"github.com/marmos91/authproxy/pkg/pool"
	"github.com/marmos91/authproxy/pkg/vfs"
)

// ConfigFile returns the --config flag of the root command.
var ConfigFile = func() string { return "" }

// Connect returns the filesystem the subcommands run against and a function
// releasing it. Tests replace it.
var Connect = connectManager

var (
	outputFormat string
	callTimeout  time.Duration
	asUser       string
)

// Cmd is the fs subcommand.
var Cmd = &cobra.Command{
	Use:   "fs",
	Short: "Run filesystem operations against a manager",
	Long: `Run filesystem operations against a running manager.

The edge section of the configuration selects the manager address, the pool
size and the timeouts. The integrity section must hold the same key as the
manager's.

Examples:
  authproxy fs mkdir -p /data/run1
  authproxy fs put ./events.root /data/run1/events.root
  authproxy fs ls -l /data/run1
  authproxy fs checksum --algo adler32 /data/run1/events.root`,
}

func init() {
	Cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table|json|yaml)")
	Cmd.PersistentFlags().DurationVar(&callTimeout, "timeout", time.Minute, "Deadline for the whole command")
	Cmd.PersistentFlags().StringVar(&asUser, "user", "", "User name sent with every request (default: current user)")

	Cmd.AddCommand(statCmd, lsCmd, mkdirCmd, rmCmd, rmdirCmd, mvCmd, chmodCmd,
		catCmd, putCmd, truncateCmd, checksumCmd, existsCmd, locateCmd)
}

func connectManager(ctx context.Context) (vfs.FileSystem, func(), error) {
	cfg, err := config.Load(ConfigFile())
	if err != nil {
		return nil, nil, err
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: "stderr"}); err != nil {
		return nil, nil, err
	}

	signer, err := config.CreateSigner(&cfg.Integrity)
	if err != nil {
		return nil, nil, err
	}

	p, err := pool.New(ctx, cfg.PoolOptions(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to manager at %s: %w", cfg.Edge.ManagerAddress, err)
	}

	c, err := client.New(p, signer, cfg.ClientOptions(), nil)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	return c, p.Close, nil
}

// run connects, applies the command deadline and calls fn.
func run(cmd *cobra.Command, fn func(ctx context.Context, fsys vfs.FileSystem, id vfs.Identity) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
	defer cancel()

	fsys, release, err := Connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx, fsys, identity())
}

func identity() vfs.Identity {
	name := asUser
	if name == "" {
		if u, err := user.Current(); err == nil {
			name = u.Username
		} else {
			name = "nobody"
		}
	}
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return vfs.Identity{
		Protocol: "cli",
		Name:     name,
		Host:     host,
		Tident:   fmt.Sprintf("%s.%d:0@%s", name, os.Getpid(), host),
	}
}

func format() (output.Format, error) {
	return output.ParseFormat(outputFormat)
}

// check turns a failed, redirected or stalled call into an error. It is not
// used for reads and writes, whose positive return codes are byte counts.
func check(op, path string, rc vfs.ReturnCode, einfo *vfs.ErrInfo) error {
	switch {
	case rc == vfs.Error:
		if einfo.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", op, path, einfo.Message, vfs.ErrnoText(einfo.Code))
		}
		return fmt.Errorf("%s %s: %s", op, path, vfs.ErrnoText(einfo.Code))
	case rc == vfs.Redirect:
		if einfo.Code == vfs.CollapseRedirectCode {
			return fmt.Errorf("%s %s: redirected to %s", op, path, einfo.Message)
		}
		return fmt.Errorf("%s %s: redirected to %s:%d", op, path, einfo.Message, einfo.Code)
	case rc == vfs.Started:
		return fmt.Errorf("%s %s: operation started asynchronously", op, path)
	case rc > 0:
		return fmt.Errorf("%s %s: manager asked to retry in %d seconds", op, path, int64(rc))
	}
	return nil
}
