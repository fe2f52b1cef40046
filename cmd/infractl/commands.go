package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"infractl/client/internal/command"
	"infractl/client/internal/config"
	"infractl/client/internal/policy/engine"
	"infractl/client/internal/resource"
)

const usage = `usage: infractl <command> [flags] [args]

commands:
  status                        probe the service without credentials
  login [--user U] [--password P | --credential BLOB]
  logout                        drop the session and clear the token store
  run <command> [json-params]   send a command and print its data
  task <command> [json-params]  start a task-returning command and wait for it
  wait <task-id>                wait for a task started earlier
  vms                           list virtual machines
  pools                         list storage pools
  create-vm --name N [--pool P] [--image I] [--cpus N] [--memory-mb N]
  delete-vm <vm-id>
`

// run loads config, wires the client and executes one subcommand.
func run(ctx context.Context, args []string, out, errOut io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(errOut, usage)
		return errUsage
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, out, errOut)
	if err != nil {
		return err
	}
	defer a.close()

	name, rest := args[0], args[1:]
	switch name {
	case "status":
		return a.status(ctx)
	case "login":
		return a.login(ctx, rest, errOut)
	case "logout":
		return a.logout(ctx)
	case "run":
		return a.runCommand(ctx, rest, errOut)
	case "task":
		return a.runTask(ctx, rest, errOut)
	case "wait":
		return a.wait(ctx, rest, errOut)
	case "vms":
		return a.listVMs(ctx)
	case "pools":
		return a.listPools(ctx)
	case "create-vm":
		return a.createVM(ctx, rest, errOut)
	case "delete-vm":
		return a.deleteVM(ctx, rest, errOut)
	default:
		fmt.Fprintf(errOut, "infractl: unknown command %q\n\n%s", name, usage)
		return errUsage
	}
}

func newFlagSet(name string, errOut io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	return fs
}

type statusReport struct {
	Service *resource.SystemStatus `json:"service"`
	Policy  string                 `json:"policy,omitempty"`
}

// status probes the service and, when the command policy is enabled, checks the policy engine.
func (a *app) status(ctx context.Context) error {
	st, err := a.resources.SystemStatus(ctx)
	if err != nil {
		return err
	}
	report := statusReport{Service: st}
	if a.cfg.CommandPolicyEnabled {
		report.Policy = "ok"
		if err := engine.HealthCheck(ctx); err != nil {
			report.Policy = err.Error()
		}
	}
	return a.printJSON(report)
}

func (a *app) login(ctx context.Context, args []string, errOut io.Writer) error {
	fs := newFlagSet("login", errOut)
	user := fs.String("user", a.cfg.User, "login user (default INFRA_USER)")
	password := fs.String("password", "", "password (default INFRA_PASSWORD)")
	credential := fs.String("credential", "", "encoded token credential (default INFRA_CREDENTIAL)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *credential == "" {
		*credential = os.Getenv("INFRA_CREDENTIAL")
	}
	if *password == "" {
		*password = os.Getenv("INFRA_PASSWORD")
	}

	var err error
	switch {
	case *credential != "":
		err = a.session.AuthenticateByToken(ctx, *credential)
	case *user != "" && *password != "":
		err = a.session.AuthenticateByPassword(ctx, *user, *password)
	default:
		fmt.Fprintln(errOut, "login: --credential or --user with --password is required")
		return errUsage
	}
	if err != nil {
		return err
	}
	ts := a.session.Tokens()
	fmt.Fprintf(a.out, "authenticated as %s (roles %s); access token expires %s\n",
		ts.UserID, strings.Join(ts.Roles, ","), ts.AccessExpiresAt.UTC().Format(time.RFC3339))
	return nil
}

func (a *app) logout(ctx context.Context) error {
	if err := a.resume(ctx); err != nil {
		a.logger.Warn("logout: could not read stored tokens", "error", err)
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func (a *app) runCommand(ctx context.Context, args []string, errOut io.Writer) error {
	cmd, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(errOut, "run: %v\n", err)
		return errUsage
	}
	if err := a.resume(ctx); err != nil {
		return err
	}
	data, err := a.dispatcher.RequestCommandResponse(ctx, cmd)
	if err != nil {
		return err
	}
	return a.printRaw(data)
}

func (a *app) runTask(ctx context.Context, args []string, errOut io.Writer) error {
	fs := newFlagSet("task", errOut)
	timeout := fs.Duration("timeout", a.cfg.TaskTimeout(), "maximum time to wait for completion")
	interval := fs.Duration("interval", a.cfg.TaskInterval(), "minimum time between polls")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	cmd, err := parseCommand(fs.Args())
	if err != nil {
		fmt.Fprintf(errOut, "task: %v\n", err)
		return errUsage
	}
	if err := a.resume(ctx); err != nil {
		return err
	}
	payload, err := a.poller.ExecuteTask(ctx, cmd, *timeout, *interval)
	if err != nil {
		return err
	}
	return a.printRaw(payload)
}

func (a *app) wait(ctx context.Context, args []string, errOut io.Writer) error {
	fs := newFlagSet("wait", errOut)
	timeout := fs.Duration("timeout", a.cfg.TaskTimeout(), "maximum time to wait for completion")
	interval := fs.Duration("interval", a.cfg.TaskInterval(), "minimum time between polls")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "wait: exactly one task id is required")
		return errUsage
	}
	if err := a.resume(ctx); err != nil {
		return err
	}
	payload, err := a.poller.WaitTask(ctx, fs.Arg(0), *timeout, *interval)
	if err != nil {
		return err
	}
	return a.printRaw(payload)
}

func (a *app) listVMs(ctx context.Context) error {
	if err := a.resume(ctx); err != nil {
		return err
	}
	vms, err := a.resources.ListVMs(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(vms)
}

func (a *app) listPools(ctx context.Context) error {
	if err := a.resume(ctx); err != nil {
		return err
	}
	pools, err := a.resources.ListStoragePools(ctx)
	if err != nil {
		return err
	}
	return a.printJSON(pools)
}

func (a *app) createVM(ctx context.Context, args []string, errOut io.Writer) error {
	fs := newFlagSet("create-vm", errOut)
	var p resource.CreateVMParams
	fs.StringVar(&p.Name, "name", "", "VM name")
	fs.StringVar(&p.Pool, "pool", "", "compute pool")
	fs.StringVar(&p.Image, "image", "", "boot image")
	fs.IntVar(&p.CPUs, "cpus", 0, "virtual CPUs")
	fs.IntVar(&p.MemoryMB, "memory-mb", 0, "memory in MiB")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if p.Name == "" {
		fmt.Fprintln(errOut, "create-vm: --name is required")
		return errUsage
	}
	if err := a.resume(ctx); err != nil {
		return err
	}
	res, err := a.resources.CreateVM(ctx, p)
	if err != nil {
		return err
	}
	return a.printJSON(res)
}

func (a *app) deleteVM(ctx context.Context, args []string, errOut io.Writer) error {
	if len(args) != 1 {
		fmt.Fprintln(errOut, "delete-vm: exactly one VM id is required")
		return errUsage
	}
	if err := a.resume(ctx); err != nil {
		return err
	}
	if err := a.resources.DeleteVM(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", args[0])
	return nil
}

// parseCommand builds a command from a name and an optional JSON params object.
func parseCommand(args []string) (command.Command, error) {
	if len(args) == 0 || len(args) > 2 || args[0] == "" {
		return command.Command{}, fmt.Errorf("expected <command> [json-params]")
	}
	cmd := command.Command{Type: args[0]}
	if len(args) == 2 {
		raw := json.RawMessage(args[1])
		if !json.Valid(raw) {
			return command.Command{}, fmt.Errorf("params are not valid JSON: %s", args[1])
		}
		cmd.Params = raw
	}
	return cmd, nil
}

func (a *app) printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func (a *app) printRaw(data json.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(a.out, "ok")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = fmt.Fprintln(a.out, string(data))
		return err
	}
	_, err := fmt.Fprintln(a.out, buf.String())
	return err
}
