package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/efebarandurmaz/kbadmin/internal/explorer"
	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/lifecycle"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/report"
	"github.com/efebarandurmaz/kbadmin/internal/store"
	temporalmod "github.com/efebarandurmaz/kbadmin/internal/temporal"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "kbadmin",
		Short:         "Knowledge base administration: browse collections and reconcile metadata",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/kbadmin.yaml", "Config file path")

	collectionsCmd := &cobra.Command{
		Use:   "collections",
		Short: "List collections with document counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, false, func(ctx context.Context, a *app) error {
				infos, err := store.Describe(ctx, a.store)
				if err != nil {
					return err
				}
				fmt.Println(report.Collections(infos))
				return nil
			})
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump <collection>",
		Short: "Dump the raw contents of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, false, func(ctx context.Context, a *app) error {
				docs, err := a.store.ListDocuments(ctx, args[0])
				if err != nil {
					return err
				}
				return report.Dump(os.Stdout, args[0], docs)
			})
		},
	}

	var (
		req        metasync.Request
		jsonOutput bool
	)
	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Copy metadata fields from a source collection onto matching destination records",
		RunE: func(cmd *cobra.Command, args []string) error {
			if req.CopyAll && len(req.Copy) > 0 {
				return errors.New("--copy and --copy-all are mutually exclusive")
			}
			return withApp(cmd.Context(), configPath, false, func(ctx context.Context, a *app) error {
				return runReconcile(ctx, a, req, jsonOutput)
			})
		},
	}
	addRequestFlags(reconcileCmd, &req)
	reconcileCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the report as JSON")

	var addr string
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the explorer dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, true, func(ctx context.Context, a *app) error {
				if addr == "" {
					addr = a.cfg.Explorer.ListenAddr
				}
				return serve(ctx, a, addr)
			})
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to explorer.listen_addr)")

	kbCmd := &cobra.Command{
		Use:   "kb",
		Short: "Knowledge base operations",
	}
	kbListCmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, true, func(ctx context.Context, a *app) error {
				if a.kb == nil {
					return errors.New("sqlite.path is not configured")
				}
				kbs, err := a.kb.List(ctx)
				if err != nil {
					return err
				}
				fmt.Println(report.KnowledgeBases(kbs))
				return nil
			})
		},
	}
	kbShowCmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a knowledge base and its related collections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), configPath, true, func(ctx context.Context, a *app) error {
				return showKnowledgeBase(ctx, a, args[0])
			})
		},
	}
	kbCmd.AddCommand(kbListCmd, kbShowCmd)

	var (
		submitReq  metasync.Request
		submitWait bool
	)
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Start a reconciliation workflow on Temporal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if submitReq.CopyAll && len(submitReq.Copy) > 0 {
				return errors.New("--copy and --copy-all are mutually exclusive")
			}
			return submitWorkflow(cmd.Context(), configPath, submitReq, submitWait)
		},
	}
	addRequestFlags(submitCmd, &submitReq)
	submitCmd.Flags().BoolVar(&submitWait, "wait", true, "Wait for the workflow result")

	rootCmd.AddCommand(collectionsCmd, dumpCmd, reconcileCmd, serveCmd, kbCmd, submitCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func addRequestFlags(cmd *cobra.Command, req *metasync.Request) {
	cmd.Flags().StringVar(&req.Source, "source", "", "Source collection")
	cmd.Flags().StringVar(&req.Destination, "dest", "", "Destination collection")
	cmd.Flags().StringSliceVar(&req.Key, "key", nil, "Key fields (default from reconcile.key)")
	cmd.Flags().StringSliceVar(&req.Copy, "copy", nil, "Fields to copy (default from reconcile.copy)")
	cmd.Flags().BoolVar(&req.CopyAll, "copy-all", false, "Copy every metadata field found on the source")
	cmd.Flags().BoolVar(&req.DryRun, "dry-run", false, "Plan only; write nothing")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")
}

func runReconcile(ctx context.Context, a *app, req metasync.Request, jsonOutput bool) error {
	rep, err := a.svc.Run(ctx, req)
	if rep == nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(rep); encErr != nil {
			return encErr
		}
	} else {
		report.Run(os.Stdout, rep)
	}
	return err
}

func showKnowledgeBase(ctx context.Context, a *app, id string) error {
	if a.kb == nil {
		return errors.New("sqlite.path is not configured")
	}
	kb, err := a.kb.Get(ctx, id)
	if err != nil {
		return err
	}

	infos, err := store.Describe(ctx, a.store)
	if err != nil {
		return err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	wanted := make(map[string]bool)
	for _, name := range knowledge.RelatedCollections(id, names) {
		wanted[name] = true
	}
	var related []store.CollectionInfo
	for _, info := range infos {
		if wanted[info.Name] {
			related = append(related, info)
		}
	}

	fmt.Println(report.KnowledgeBase(kb, related))
	return nil
}

func serve(ctx context.Context, a *app, addr string) error {
	srv := explorer.New(&explorer.Config{ListenAddr: addr, KeepAlive: 30 * time.Second},
		a.svc, a.kb, observability.Metrics())

	shutdown := lifecycle.NewShutdownHandler(&lifecycle.ShutdownConfig{Timeout: 10 * time.Second})
	shutdown.RegisterHook("explorer", lifecycle.PriorityHTTP, srv.Stop)
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdown.Shutdown()
	shutdown.Wait()
	return nil
}

func submitWorkflow(ctx context.Context, configPath string, req metasync.Request, wait bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)
	report.SetASCII(!report.IsTerminal(os.Stdout))

	audit, err := openAudit(cfg)
	if err != nil {
		return err
	}
	defer audit.Close()

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	workflowID := "kbadmin-reconcile-" + uuid.NewString()
	start := time.Now()
	run, err := c.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: cfg.Temporal.TaskQueue,
	}, temporalmod.ReconcileWorkflow, temporalmod.ReconcileInput{Request: req})
	if err != nil {
		return fmt.Errorf("starting workflow: %w", err)
	}
	audit.LogWorkflowStart(workflowID, req.Source, req.Destination)
	fmt.Printf("Workflow started: %s (run %s)\n", run.GetID(), run.GetRunID())

	if !wait {
		return nil
	}

	var rep metasync.Report
	if err := run.Get(ctx, &rep); err != nil {
		audit.LogWorkflowEnd(workflowID, false, time.Since(start), 0)
		return fmt.Errorf("workflow %s: %w", workflowID, err)
	}
	audit.LogWorkflowEnd(workflowID, true, time.Since(start), rep.Written)
	report.Run(os.Stdout, &rep)
	return nil
}
