package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/cronrun/pkg/app"
)

// program adapts serve to the service manager's start/stop callbacks.
type program struct {
	g      *globalFlags
	cmd    *cobra.Command
	opts   app.ServeOptions
	cancel context.CancelFunc
	done   chan error
}

// Start implements service.Interface. It must not block.
func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- serve(ctx, p.g, p.cmd, p.opts) }()
	return nil
}

// Stop implements service.Interface.
func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceCmd(g *globalFlags) *cobra.Command {
	opts := app.ServeOptions{Tick: true, Gateway: true}
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Install and control cronrun as a system service",
		Long: "The service runs \"cronrun service run\", which serves the gateway and the\n" +
			"per-minute scheduler loop. Install it instead of a crontab entry, not next to one.",
	}
	cmd.PersistentFlags().BoolVar(&opts.Gateway, "gateway", true, "Serve the HTTP gateway from the service")

	newService := func(c *cobra.Command) (service.Service, error) {
		args := []string{"service", "run"}
		if g.config != "" {
			abs, err := filepath.Abs(g.config)
			if err != nil {
				return nil, err
			}
			args = append(args, "--config", abs)
		}
		if !opts.Gateway {
			args = append(args, "--gateway=false")
		}
		return service.New(&program{g: g, cmd: c, opts: opts}, &service.Config{
			Name:        "cronrun",
			DisplayName: "cronrun scheduler",
			Description: "Runs due cron jobs every minute under cross-process locks.",
			Arguments:   args,
		})
	}

	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the cronrun service", capitalize(action)),
			Args:  cobra.NoArgs,
			RunE: func(c *cobra.Command, _ []string) error {
				s, err := newService(c)
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.OutOrStdout(), "Service %s: ok\n", action)
				return nil
			},
		})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the service status",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := newService(c)
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil && !errors.Is(err, service.ErrNotInstalled) {
				return err
			}
			_, _ = fmt.Fprintln(c.OutOrStdout(), statusText(st, err))
			return nil
		},
	}, &cobra.Command{
		Use:    "run",
		Short:  "Run under the service manager (used by the installed service)",
		Args:   cobra.NoArgs,
		Hidden: true,
		RunE: func(c *cobra.Command, _ []string) error {
			s, err := newService(c)
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
	return cmd
}

func statusText(st service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch st {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}
