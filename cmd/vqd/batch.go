package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"vqd/internal/scheduler"
)

var (
	batchKind      string
	batchPattern   string
	batchRecursive bool
	batchOutput    string
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Diagnose every image (or video) under a directory and write a report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		registry, err := newRegistry()
		if err != nil {
			return err
		}
		store, err := scheduler.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		sched, err := scheduler.NewService(store, registry, cfg.Storage.ReportDir, log)
		if err != nil {
			return err
		}

		kind := scheduler.TaskKind(batchKind)
		switch kind {
		case scheduler.KindBatch, scheduler.KindSample, scheduler.KindVideo:
		default:
			return fmt.Errorf("unknown kind %q", batchKind)
		}

		task, err := sched.CreateTask(&scheduler.Task{
			Name:     "cli batch",
			Kind:     kind,
			CronExpr: "0 0 * * *", // placeholder; the task never runs scheduled
			Enabled:  false,
			Config: scheduler.TaskConfig{
				InputPath: args[0],
				Pattern:   batchPattern,
				Recursive: batchRecursive,
				Profile:   cfg.Profile,
				Level:     cfg.DetectionLevel,
			},
			Output: scheduler.OutputConfig{Path: batchOutput},
		})
		if err != nil {
			return err
		}
		defer func() { _ = sched.DeleteTask(task.ID) }()

		execID, err := sched.RunTaskNow(task.ID)
		if err != nil {
			return err
		}

		for {
			time.Sleep(200 * time.Millisecond)
			exec, err := sched.GetExecution(execID)
			if err != nil {
				return err
			}
			switch exec.Status {
			case scheduler.ExecCompleted:
				log.Info().Str("report", exec.ReportPath).Msg("batch finished")
				return printJSON(exec)
			case scheduler.ExecFailed:
				return fmt.Errorf("batch failed: %s", exec.ErrorMessage)
			}
		}
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchKind, "kind", "batch", "job kind: batch, sample or video")
	batchCmd.Flags().StringVar(&batchPattern, "pattern", "", "file name glob filter")
	batchCmd.Flags().BoolVar(&batchRecursive, "recursive", false, "walk subdirectories")
	batchCmd.Flags().StringVar(&batchOutput, "output", "", "report directory (default: configured report dir)")
}
