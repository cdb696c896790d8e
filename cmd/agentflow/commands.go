package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"agentflow/internal/app"
	"agentflow/internal/domain"
	"agentflow/internal/infra/graph"
	"agentflow/internal/infra/rpc"
)

func newRunCmd(opts *cliOptions) *cobra.Command {
	var (
		prompt  string
		flow    string
		approve string
	)
	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Execute one turn through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := prompt
			if text == "" {
				text = strings.Join(args, " ")
			}
			if strings.TrimSpace(text) == "" {
				return errors.New("a prompt is required (--prompt or positional argument)")
			}
			mode, err := app.ParseApproveMode(approve)
			if err != nil {
				return err
			}

			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()

			cfg := app.RunConfig{
				ConfigPath: opts.configPath,
				Prompt:     text,
				Flow:       flow,
				Approve:    mode,
				Ask:        newStdinApprover(os.Stdin),
			}
			if !opts.jsonOutput {
				cfg.OnEvent = printEvent
			}
			snapshot, runErr := app.New(opts.logger).Run(ctx, cfg)
			if snapshot.RunID == "" {
				return runErr
			}
			if err := printSnapshot(snapshot, opts.jsonOutput); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "user text for the turn")
	cmd.Flags().StringVar(&flow, "flow", "", "pipeline flow (chat or voice); defaults to runner.flow")
	cmd.Flags().StringVar(&approve, "approve", string(app.ApproveAsk), "gated tool calls: ask, all or none")
	return cmd
}

func newServeCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run metrics, health, server probing and config reload until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalAwareContext(cmd.Context())
			defer cancel()
			return app.New(opts.logger).Serve(ctx, app.ServeConfig{ConfigPath: opts.configPath})
		},
	}
}

func newValidateCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.New(opts.logger).ValidateConfig(cmd.Context(), app.ValidateConfig{ConfigPath: opts.configPath})
			if err != nil {
				return err
			}
			return printValidation(opts.configPath, cfg, opts.jsonOutput)
		},
	}
}

func newServersCmd(opts *cliOptions) *cobra.Command {
	var probe bool
	cmd := &cobra.Command{
		Use:   "servers",
		Short: "List configured tool servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers, err := app.New(opts.logger).Servers(cmd.Context(), app.ServersConfig{
				ConfigPath: opts.configPath,
				Probe:      probe,
			})
			if err != nil {
				return err
			}
			return printServers(servers, opts.jsonOutput)
		},
	}
	cmd.Flags().BoolVar(&probe, "probe", false, "ping enabled servers before listing")
	return cmd
}

func newGraphCmd(opts *cliOptions) *cobra.Command {
	var flow string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print the stages and edges of a pipeline flow",
		RunE: func(_ *cobra.Command, _ []string) error {
			if flow == "" {
				return printFlowNames(graph.Names(), opts.jsonOutput)
			}
			g, err := graph.Lookup(flow)
			if err != nil {
				return err
			}
			return printGraph(g, opts.jsonOutput)
		},
	}
	cmd.Flags().StringVar(&flow, "flow", graph.FlowChat, "flow to print; empty lists the flow names")
	return cmd
}

func newRunsCmd(opts *cliOptions) *cobra.Command {
	var (
		limit int
		id    string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show recorded run summaries, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			records, err := app.New(opts.logger).Runs(cmd.Context(), app.RunsConfig{
				ConfigPath: opts.configPath,
				Limit:      limit,
				ID:         id,
			})
			if err != nil {
				return err
			}
			return printRuns(records, opts.jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs; 0 lists all")
	cmd.Flags().StringVar(&id, "id", "", "show a single run")
	return cmd
}

func newHealthCmd(opts *cliOptions) *cobra.Command {
	var (
		address string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Query the gRPC health service of a running serve",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			status, err := rpc.CheckHealth(ctx, address, service)
			if err != nil {
				return err
			}
			return printHealth(service, status.String(), opts.jsonOutput)
		},
	}
	cmd.Flags().StringVar(&address, "address", domain.DefaultRPCListenAddress, "rpc address (host:port or unix:///path)")
	cmd.Flags().StringVar(&service, "service", "", "service name (agentflow.credential, agentflow.registry); empty for overall")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}

// newStdinApprover prompts on stdout and reads y/n answers from in.
func newStdinApprover(in *os.File) app.AskFunc {
	reader := bufio.NewReader(in)
	return func(ctx context.Context, req domain.ApprovalRequest) domain.ApprovalVerdict {
		fmt.Printf("approve tool %q on server %q", req.ToolName, req.Server)
		if len(req.Arguments) > 0 {
			fmt.Printf(" with %s", string(req.Arguments))
		}
		fmt.Print("? [y/N] ")

		answer := make(chan string, 1)
		go func() {
			line, _ := reader.ReadString('\n')
			answer <- strings.ToLower(strings.TrimSpace(line))
		}()
		select {
		case <-ctx.Done():
			fmt.Println()
			return domain.VerdictDeny
		case line := <-answer:
			if line == "y" || line == "yes" {
				return domain.VerdictApprove
			}
			return domain.VerdictDeny
		}
	}
}
