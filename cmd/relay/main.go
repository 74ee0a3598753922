package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relay/internal/app"
	"relay/internal/tui"

	"github.com/spf13/cobra"
)

const repoURL = "https://github.com/jaivial/relay"

func loadApplication(cmd *cobra.Command) (*app.Application, bool, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = app.DefaultConfigPath()
	}
	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return nil, false, err
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("RELAY_API_KEY")
	}
	if v := os.Getenv("RELAY_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}

	mockMode, _ := cmd.Flags().GetBool("mock")
	if cfg.APIKey == "" {
		// No key means no model access; run against the mock client.
		mockMode = true
	}

	application, err := app.NewApplication(cfg, mockMode)
	if err != nil {
		return nil, mockMode, err
	}

	if watch, _ := cmd.Flags().GetBool("watch-config"); watch {
		go func() {
			if err := app.WatchConfig(cmd.Context(), configPath, application.Store, application.Logger); err != nil && err != context.Canceled {
				application.Logger.Error("config watcher stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}
	return application, mockMode, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func main() {
	root := &cobra.Command{
		Use:     "relay",
		Short:   "Relay - classify and route free-form input to handlers",
		Long:    "Relay classifies each input as a command, prompt, or workflow and routes it to the matching handler.\n\nRun without arguments for the interactive session, or use 'route' for one-shot requests.\n\nFor more information, visit: " + repoURL,
		Version: app.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			cmd.SetContext(ctx)

			application, mockMode, err := loadApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close(context.Background())

			userID, _ := cmd.Flags().GetString("user")
			return tui.Run(application, userID, mockMode)
		},
	}

	root.PersistentFlags().String("config", "", "Path to the config file")
	root.PersistentFlags().String("user", "", "User id to tag sessions with")
	root.PersistentFlags().Bool("mock", false, "Use the mock model client")
	root.PersistentFlags().Bool("watch-config", false, "Reload the config file when it changes")

	routeCmd := &cobra.Command{
		Use:   "route [input]",
		Short: "Classify and execute one input, then exit",
		Long:  "Classify a single input, dispatch it to its handler, print the result, and exit.\n\nExamples:\n  relay route \"/help\"\n  relay route \"what is a goroutine?\"\n  relay route --mock \"create a project with tests, then deploy it\"",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			application, _, err := loadApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close(context.Background())

			userID, _ := cmd.Flags().GetString("user")
			application.Store.CreateSession(userID)

			resp := application.Orchestrator.Process(ctx, args[0])
			fmt.Printf("[%s %.2f via %s in %s]\n", resp.Type, resp.Confidence, resp.Method, resp.ExecutionTime.Round(time.Millisecond))
			fmt.Println(resp.Content)
			if !resp.Success {
				return fmt.Errorf("request failed: %s", resp.Error)
			}
			return nil
		},
	}
	root.AddCommand(routeCmd)

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			application, _, err := loadApplication(cmd)
			if err != nil {
				return err
			}
			defer application.Close(context.Background())

			userID, _ := cmd.Flags().GetString("user")
			summaries, err := application.Store.ListSessions(ctx, userID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No saved sessions.")
				return nil
			}
			for _, sum := range summaries {
				title := sum.Title
				if title == "" {
					title = "(untitled)"
				}
				fmt.Printf("%s  %s  (%d messages, last active %s)\n",
					sum.ID, title, sum.MessageCount, sum.LastActiveAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}
	root.AddCommand(sessionsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
