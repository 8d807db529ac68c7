// Package cli wires the helpdesk commands on top of cobra.
//
//	helpdesk
//	├── serve [--with-worker]     HTTP API, optionally with an in-process worker
//	├── worker                    task worker only
//	├── submit <job> <ticket_id>  enqueue a job and print its task id
//	├── status <task_id>          print a task's status as JSON
//	└── queues                    broker queue statistics
//
// Every command takes --config/-c (default configs/helpdesk.yaml).
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mohans/helpdesk/internal/api"
	"github.com/mohans/helpdesk/internal/config"
	"github.com/mohans/helpdesk/internal/jobs"
)

const shutdownTimeout = 10 * time.Second

func BuildCLI() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "helpdesk",
		Short: "Helpdesk ticket API with background AI replies and summaries",
		Long: `helpdesk serves tickets and conversations over HTTP and runs
AI reply generation and conversation summaries as background tasks.
Clients submit a task, receive its id immediately, and poll for the result.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "config file path")

	load := func(cmd *cobra.Command) (*app, error) {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return newApp(cmd.Context(), cfg)
	}

	rootCmd.AddCommand(buildServeCommand(load))
	rootCmd.AddCommand(buildWorkerCommand(load))
	rootCmd.AddCommand(buildSubmitCommand(load))
	rootCmd.AddCommand(buildStatusCommand(load))
	rootCmd.AddCommand(buildQueuesCommand(load))

	return rootCmd
}

type loader func(cmd *cobra.Command) (*app, error)

func buildServeCommand(load loader) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API. With --with-worker the task worker runs in the same
process, which is required when stores.backend is memory.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServe(cmd.Context(), a, withWorker)
		},
	}

	cmd.Flags().BoolVar(&withWorker, "with-worker", false, "also run the task worker in this process")
	return cmd
}

func runServe(ctx context.Context, a *app, withWorker bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !withWorker && a.cfg.Stores.Backend == "memory" {
		a.log.Warn("memory stores are not shared with separate worker processes; use --with-worker or stores.backend=redis")
	}

	if withWorker {
		stopWorker, err := startWorker(a)
		if err != nil {
			return err
		}
		defer stopWorker()
	}

	router := api.NewRouter(api.NewHandler(a.store, a.facade, a.log), a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.WithField("addr", srv.Addr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("received shutdown signal, stopping gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// startWorker starts the processor and the janitor.
func startWorker(a *app) (stop func(), err error) {
	p := a.newProcessor()
	janitor, err := a.newJanitor()
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		janitor.Stop()
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	janitor.Start()
	a.log.WithFields(logrus.Fields{
		"queue":       a.cfg.Queue.Name,
		"concurrency": a.cfg.Queue.Concurrency,
	}).Info("worker started")

	return func() {
		janitor.Stop()
		p.Shutdown()
		a.log.Info("worker stopped")
	}, nil
}

func buildWorkerCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the task worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stopWorker, err := startWorker(a)
			if err != nil {
				return err
			}
			<-ctx.Done()
			a.log.Info("received shutdown signal, stopping gracefully")
			stopWorker()
			return nil
		},
	}
}

func buildSubmitCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "submit <job> <ticket_id>",
		Short: "Enqueue a background job for a ticket",
		Long: fmt.Sprintf("Enqueue a background job for a ticket and print the task id.\nJobs: %s, %s.",
			jobs.GenerateReply, jobs.SummarizeConversation),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ticketID := args[0], args[1]
			var submit func(context.Context, string) (string, error)

			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			switch job {
			case jobs.GenerateReply:
				submit = a.facade.SubmitGenerateReply
			case jobs.SummarizeConversation:
				submit = a.facade.SubmitSummarize
			default:
				return fmt.Errorf("unknown job %q", job)
			}

			taskID, err := submit(cmd.Context(), ticketID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), taskID)
			return nil
		},
	}
}

func buildStatusCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task_id>",
		Short: "Print the status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.facade.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}
}

func buildQueuesCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show broker queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			inspector := asynq.NewInspector(a.redisOpt)
			defer inspector.Close()

			names, err := inspector.Queues()
			if err != nil {
				return fmt.Errorf("list queues: %w", err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "QUEUE\tSIZE\tPENDING\tACTIVE\tRETRY\tARCHIVED\tPROCESSED\tFAILED\tPAUSED")
			for _, name := range names {
				info, err := inspector.GetQueueInfo(name)
				if err != nil {
					return fmt.Errorf("queue %s: %w", name, err)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%t\n",
					info.Queue, info.Size, info.Pending, info.Active, info.Retry,
					info.Archived, info.Processed, info.Failed, info.Paused)
			}
			return w.Flush()
		},
	}
}
