package main

import (
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/coordex/internal/config"
	"github.com/ShayCichocki/coordex/internal/sandbox"
)

var (
	sandboxRemotePath  string
	sandboxLocalPath   string
	sandboxBudgetLimit float64
)

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Create and drive remote sandboxes",
}

func init() {
	sandboxCreateCmd.Flags().Float64Var(&sandboxBudgetLimit, "budget-limit", 0, "sandbox spend ceiling in dollars (0 = disabled)")
	sandboxUploadCmd.Flags().StringVar(&sandboxLocalPath, "local", "", "local workspace path (required)")
	sandboxUploadCmd.Flags().StringVar(&sandboxRemotePath, "remote", "", "remote destination path (required)")
	sandboxUploadCmd.MarkFlagRequired("local")
	sandboxUploadCmd.MarkFlagRequired("remote")
	sandboxDownloadCmd.Flags().StringVar(&sandboxRemotePath, "remote", "", "remote source path (required)")
	sandboxDownloadCmd.Flags().StringVar(&sandboxLocalPath, "local", "", "local destination path (required)")
	sandboxDownloadCmd.MarkFlagRequired("remote")
	sandboxDownloadCmd.MarkFlagRequired("local")

	sandboxCmd.AddCommand(sandboxCreateCmd)
	sandboxCmd.AddCommand(sandboxUploadCmd)
	sandboxCmd.AddCommand(sandboxDownloadCmd)
	sandboxCmd.AddCommand(sandboxStatusCmd)
	sandboxCmd.AddCommand(sandboxScanCmd)
}

var sandboxCreateCmd = &cobra.Command{
	Use:   "create <session-id>",
	Short: "Create a remote sandbox for a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		cfg, err := config.Load()
		if err != nil {
			return fail(err)
		}
		apiKey, err := config.GetSandboxAPIKey(cfg)
		if err != nil {
			return fail(err)
		}

		ctrl := newSandboxController(cfg, log)

		var limit *float64
		if sandboxBudgetLimit > 0 {
			limit = &sandboxBudgetLimit
		}

		sb, err := ctrl.CreateSandbox(cmd.Context(), args[0], apiKey, limit)
		if err != nil {
			return fail(err)
		}
		ok("sandbox %s created (status=%s)", sb.SandboxID, sb.Status)
		return nil
	},
}

var sandboxUploadCmd = &cobra.Command{
	Use:   "upload <sandbox-id>",
	Short: "Upload a local workspace to a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		cfg, err := config.Load()
		if err != nil {
			return fail(err)
		}
		ctrl := newSandboxController(cfg, log)

		if err := ctrl.UploadWorkspace(cmd.Context(), args[0], sandboxLocalPath, sandboxRemotePath); err != nil {
			return fail(err)
		}
		ok("uploaded %s -> sandbox %s:%s", sandboxLocalPath, args[0], sandboxRemotePath)
		return nil
	},
}

var sandboxDownloadCmd = &cobra.Command{
	Use:   "download <sandbox-id>",
	Short: "Download changed files from a sandbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		cfg, err := config.Load()
		if err != nil {
			return fail(err)
		}
		ctrl := newSandboxController(cfg, log)

		if err := ctrl.DownloadChanges(cmd.Context(), args[0], sandboxRemotePath, sandboxLocalPath); err != nil {
			return fail(err)
		}
		ok("downloaded sandbox %s:%s -> %s", args[0], sandboxRemotePath, sandboxLocalPath)
		return nil
	},
}

var sandboxStatusCmd = &cobra.Command{
	Use:   "status <sandbox-id>",
	Short: "Show a sandbox's timeout and budget state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger()
		if err != nil {
			return fail(err)
		}
		cfg, err := config.Load()
		if err != nil {
			return fail(err)
		}
		ctrl := newSandboxController(cfg, log)

		sb := ctrl.GetSandbox(args[0])
		if sb == nil {
			warn("sandbox %s not tracked (never created, or already terminated)", args[0])
			return nil
		}
		info("sandbox %s status=%s created=%s", sb.SandboxID, sb.Status, sb.CreatedAt.Format("2006-01-02T15:04:05Z"))

		if warning, err := ctrl.EnforceTimeout(cmd.Context(), args[0]); err == nil && warning != nil {
			if warning.Hard {
				warn("hard timeout reached at %.1f minutes (cost ~$%.4f)", warning.ElapsedMinutes, warning.EstimatedCost)
			} else {
				warn("soft timeout warning at %.0f minutes (cost ~$%.4f)", warning.ThresholdHit, warning.EstimatedCost)
			}
		}
		return nil
	},
}

var sandboxScanCmd = &cobra.Command{
	Use:   "scan <path>",
	Short: "Scan a path for credential material before uploading it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		report, err := sandbox.CredentialScan(args[0])
		if err != nil {
			return fail(err)
		}
		if !report.Flagged() {
			ok("scanned %d files, no credential material found", report.FilesScanned)
			return nil
		}
		warn("scanned %d files, flagged %d", report.FilesScanned, len(report.Findings))
		for _, f := range report.Findings {
			info("  %s: %s", f.Path, f.Reason)
		}
		return nil
	},
}
