package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/vmfltlwms/rollout/internal/api"
)

// Exit codes of the control surface: 0 success, 1 usage or config problem,
// 2 build failure, 3 runtime failure, 4 timeout.
const (
	exitOK      = 0
	exitUsage   = 1
	exitBuild   = 2
	exitRuntime = 3
	exitTimeout = 4
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:           "rollout",
	Short:         "Operate a rolloutd deployment orchestrator",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringP("server", "s", "http://127.0.0.1:9321", "Base URL of the rolloutd control API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON responses")
	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.SetEnvPrefix("ROLLOUT")
	viper.BindEnv("server")

	rootCmd.AddCommand(deployCmd, abortCmd, statusCmd, restartCmd, startCmd, stopCmd)
}

func client() *api.Client {
	return api.NewClient(viper.GetString("server"))
}

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Build the application and roll every worker to the new version",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Deploy(); err != nil {
			return err
		}
		fmt.Println("deployment completed")
		return nil
	},
}

var abortCmd = &cobra.Command{
	Use:   "abort",
	Short: "Halt the active rolling restart between instance steps",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().AbortDeploy(); err != nil {
			return err
		}
		fmt.Println("abort requested")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workers, upstreams, and deployment state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := client().Status()
		if err != nil {
			return err
		}
		if jsonOutput {
			b, err := json.MarshalIndent(status, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(b))
			return nil
		}
		printStatus(status)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <instance>",
	Short: "Restart a single worker instance in place",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("instance must be an integer, got %q", args[0])
		}
		if err := client().RestartWorker(index); err != nil {
			return err
		}
		fmt.Printf("worker %d restarted\n", index)
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Start(); err != nil {
			return err
		}
		fmt.Println("worker pool started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Drain and stop the whole worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client().Stop(); err != nil {
			return err
		}
		fmt.Println("worker pool stopped")
		return nil
	},
}

func printStatus(status *api.StatusResponse) {
	fmt.Printf("app:          %s\n", status.App)
	fmt.Printf("version:      %d\n", status.Version)
	fmt.Printf("deploy state: %s\n", status.DeployState)
	if status.Plan != nil {
		fmt.Printf("plan:         %s (%d/%d)\n", status.Plan.ID, status.Plan.Position, len(status.Plan.Indices))
	}
	fmt.Println("workers:")
	for _, w := range status.Workers {
		fmt.Printf("  #%d  port=%d  pid=%d  state=%-8s  version=%d  restarts=%d\n",
			w.Index, w.Port, w.PID, w.State, w.Version, w.RestartCount)
	}
	fmt.Printf("upstreams:    %v\n", status.Upstreams)
	if len(status.Events) > 0 {
		fmt.Println("recent events:")
		for _, e := range status.Events {
			fmt.Printf("  %s  %-18s %s\n", e.Time.Format("15:04:05"), e.Type, e.Message)
		}
	}
}

// exitCode maps an error to the control surface's exit-code contract.
func exitCode(err error) int {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Class {
		case api.ClassBuild:
			return exitBuild
		case api.ClassTimeout:
			return exitTimeout
		case api.ClassConfig:
			return exitUsage
		default:
			return exitRuntime
		}
	}
	return exitRuntime
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rollout: %v\n", err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitOK)
}
