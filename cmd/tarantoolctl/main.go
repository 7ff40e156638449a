package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cuemby/tarantoolctl/pkg/lifecycle"
	"github.com/cuemby/tarantoolctl/pkg/log"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tarantoolctl",
	Short: "Control plane for tarantool replica groups",
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to YAML configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(reconfigureCmd)
	rootCmd.AddCommand(upgradeCmd)
	rootCmd.AddCommand(setPasswordCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func loadConfigFromFlags(cmd *cobra.Command) (Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return loadConfig(path)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane's sensor, metrics endpoint, and coordination store",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags(cmd)
		if err != nil {
			return err
		}

		cp, err := newControlPlane(cfg)
		if err != nil {
			return err
		}
		defer cp.store.Close()
		defer cp.sensor.Stop()

		if err := cp.sensor.Update(context.Background()); err != nil {
			return fmt.Errorf("initial snapshot refresh: %w", err)
		}

		http.Handle("/metrics", metrics.Handler())
		fmt.Printf("listening for metrics on %s\n", cfg.MetricsAddr)
		return http.ListenAndServe(cfg.MetricsAddr, nil)
	},
}

func printTask(task *types.Task) error {
	for _, m := range task.Messages {
		fmt.Printf("[%s] %s\n", m.At.Format("15:04:05"), m.Message)
	}
	fmt.Printf("status: %s\n", task.Status)
	if task.Status == types.TaskCritical {
		return fmt.Errorf("%s", task.Error)
	}
	return nil
}

var createCmd = &cobra.Command{
	Use:   "create <group-id> <name>",
	Short: "Create a new tarantool replica group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfigFromFlags(cmd)
		if err != nil {
			return err
		}
		memsize, _ := cmd.Flags().GetFloat64("memsize")
		checkPeriod, _ := cmd.Flags().GetInt("check-period")
		password, _ := cmd.Flags().GetString("password")

		cp, err := newControlPlane(cfg)
		if err != nil {
			return err
		}
		defer cp.store.Close()
		defer cp.sensor.Stop()

		task := cp.engine.Create(context.Background(), lifecycle.CreateInput{
			GroupID:     args[0],
			Name:        args[1],
			MemsizeGiB:  memsize,
			CheckPeriod: checkPeriod,
			Password:    password,
		})
		return printTask(task)
	},
}

func init() {
	createCmd.Flags().Float64("memsize", 0.5, "Memory size in GiB per instance")
	createCmd.Flags().Int("check-period", 10, "Health check period in seconds")
	createCmd.Flags().String("password", "", "Initial tarantool user password")
}

var deleteCmd = &cobra.Command{
	Use:   "delete <group-id>",
	Short: "Delete a tarantool replica group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Delete(context.Background(), args[0]))
		})
	},
}

var healCmd = &cobra.Command{
	Use:   "heal <group-id>",
	Short: "Recreate a missing instance of a replica group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Heal(context.Background(), args[0]))
		})
	},
}

var renameCmd = &cobra.Command{
	Use:   "rename <group-id> <new-name>",
	Short: "Rename a replica group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Rename(context.Background(), args[0], args[1]))
		})
	},
}

var resizeCmd = &cobra.Command{
	Use:   "resize <group-id> <memsize-gib>",
	Short: "Resize a replica group's memory allocation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		memsize, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid memsize %q: %w", args[1], err)
		}
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Resize(context.Background(), args[0], memsize))
		})
	},
}

var reconfigureCmd = &cobra.Command{
	Use:   "reconfigure <group-id> <file>",
	Short: "Deploy a new configuration bundle to a replica group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		if filepath.Ext(args[1]) == ".lua" {
			var buf bytes.Buffer
			gz := gzip.NewWriter(&buf)
			tw := tar.NewWriter(gz)
			_ = tw.WriteHeader(&tar.Header{Name: filepath.Base(args[1]), Mode: 0644, Size: int64(len(data))})
			_, _ = tw.Write(data)
			_ = tw.Close()
			_ = gz.Close()
			data = buf.Bytes()
		}
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Reconfigure(context.Background(), args[0], args[1], data))
		})
	},
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <group-id>",
	Short: "Recreate a replica group's containers against the current image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.Upgrade(context.Background(), args[0]))
		})
	},
}

var setPasswordCmd = &cobra.Command{
	Use:   "set-password <group-id> <password>",
	Short: "Set the tarantool user's password on every instance",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(cp *controlPlane) error {
			return printTask(cp.engine.SetPassword(context.Background(), args[0], args[1]))
		})
	},
}

func withEngine(cmd *cobra.Command, fn func(cp *controlPlane) error) error {
	cfg, err := loadConfigFromFlags(cmd)
	if err != nil {
		return err
	}
	cp, err := newControlPlane(cfg)
	if err != nil {
		return err
	}
	defer cp.store.Close()
	defer cp.sensor.Stop()
	return fn(cp)
}
