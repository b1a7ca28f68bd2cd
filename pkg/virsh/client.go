package virsh

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/virtqa/pool-create-check/pkg/errors"
)

// CommandError reports a virsh invocation that exited non-zero.
type CommandError struct {
	Args       []string
	ExitStatus int
	Stderr     string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("virsh %s: exit status %d: %s", strings.Join(e.Args, " "), e.ExitStatus, e.Stderr)
}

// PoolInfo is the parsed output of pool-info.
type PoolInfo struct {
	Name       string
	UUID       string
	State      string
	Persistent bool
	Autostart  bool
}

// Active reports whether the pool is running.
func (p *PoolInfo) Active() bool {
	return p != nil && p.State == "running"
}

// CreateAsOptions are the pool-create-as source/target arguments.
type CreateAsOptions struct {
	SourceHost   string
	SourcePath   string
	SourceDev    string
	SourceName   string
	SourceFormat string
	Target       string
	Build        bool
}

// Client issues virsh commands against one connection URI.
type Client struct {
	runner Runner
	binary string
	uri    string
}

// NewClient creates a client. An empty uri uses the virsh default.
func NewClient(binary, uri string, runner Runner) *Client {
	if binary == "" {
		binary = "virsh"
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Client{runner: runner, binary: binary, uri: uri}
}

func (c *Client) invoke(ctx context.Context, readonly bool, args ...string) (*Result, error) {
	full := make([]string, 0, len(args)+3)
	if c.uri != "" {
		full = append(full, "-c", c.uri)
	}
	if readonly {
		full = append(full, "-r")
	}
	full = append(full, args...)
	return c.runner.Run(ctx, c.binary, full...)
}

// call runs a command whose failure is an error.
func (c *Client) call(ctx context.Context, args ...string) (*Result, error) {
	res, err := c.invoke(ctx, false, args...)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return res, &CommandError{Args: args, ExitStatus: res.ExitStatus, Stderr: res.Stderr}
	}
	return res, nil
}

// PoolExists reports whether a pool, active or not, is known by name.
func (c *Client) PoolExists(ctx context.Context, name string) (bool, error) {
	res, err := c.call(ctx, "pool-list", "--all", "--name")
	if err != nil {
		return false, errors.Wrap(err, "failed to list pools")
	}
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == name {
			return true, nil
		}
	}
	return false, nil
}

// PoolCreate creates a transient pool from a descriptor file. The exit
// status and stderr are returned as data.
func (c *Client) PoolCreate(ctx context.Context, file string, extra []string, readonly bool) (*Result, error) {
	args := append([]string{"pool-create", file}, extra...)
	slog.Info("virsh_pool_create", "file", file, "extra", strings.Join(extra, " "), "readonly", readonly)

	res, err := c.invoke(ctx, readonly, args...)
	if err != nil {
		return nil, err
	}
	slog.Info("virsh_pool_create_done", "file", file, "exit_status", res.ExitStatus, "stderr", res.Stderr)
	return res, nil
}

// PoolCreateAs creates a transient pool from arguments.
func (c *Client) PoolCreateAs(ctx context.Context, name, poolType string, opts CreateAsOptions) error {
	args := []string{"pool-create-as", name, poolType}
	add := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}
	add("--source-host", opts.SourceHost)
	add("--source-path", opts.SourcePath)
	add("--source-dev", opts.SourceDev)
	add("--source-name", opts.SourceName)
	add("--source-format", opts.SourceFormat)
	add("--target", opts.Target)
	if opts.Build {
		args = append(args, "--build")
	}

	slog.Info("virsh_pool_create_as", "pool", name, "type", poolType)
	if _, err := c.call(ctx, args...); err != nil {
		slog.Error("virsh_pool_create_as_failed", "pool", name, "error", err)
		return err
	}
	return nil
}

// PoolDumpXML returns the live descriptor of a pool.
func (c *Client) PoolDumpXML(ctx context.Context, name string) (string, error) {
	res, err := c.call(ctx, "pool-dumpxml", name)
	if err != nil {
		return "", errors.Wrap(err, "failed to dump pool xml")
	}
	return res.Stdout, nil
}

// PoolUUID returns the pool UUID.
func (c *Client) PoolUUID(ctx context.Context, name string) (string, error) {
	res, err := c.call(ctx, "pool-uuid", name)
	if err != nil {
		return "", errors.Wrap(err, "failed to get pool uuid")
	}
	id, err := uuid.Parse(res.Stdout)
	if err != nil {
		return "", errors.Wrapf(err, "pool-uuid returned %q", res.Stdout)
	}
	return id.String(), nil
}

// PoolInfo returns the parsed pool-info output.
func (c *Client) PoolInfo(ctx context.Context, name string) (*PoolInfo, error) {
	res, err := c.call(ctx, "pool-info", name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pool info")
	}
	return ParsePoolInfo(res.Stdout), nil
}

// PoolDestroy stops a pool. Transient pools disappear.
func (c *Client) PoolDestroy(ctx context.Context, name string) error {
	slog.Info("virsh_pool_destroy", "pool", name)
	_, err := c.call(ctx, "pool-destroy", name)
	return err
}

// PoolUndefine removes a persistent pool definition.
func (c *Client) PoolUndefine(ctx context.Context, name string) error {
	slog.Info("virsh_pool_undefine", "pool", name)
	_, err := c.call(ctx, "pool-undefine", name)
	return err
}

// ParsePoolInfo parses "Key: value" lines of pool-info.
func ParsePoolInfo(out string) *PoolInfo {
	info := &PoolInfo{}
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Name":
			info.Name = value
		case "UUID":
			info.UUID = value
		case "State":
			info.State = value
		case "Persistent":
			info.Persistent = value == "yes"
		case "Autostart":
			info.Autostart = value == "yes"
		}
	}
	return info
}
