package app

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// defaultAddress はADDRESS未設定時のリッスンアドレス。
const defaultAddress = "127.0.0.1:4243"

// NewRootCommand はidentityのコマンドツリーを構築する。
// サブコマンドを省略した場合はserveとして動作する。
// ログはwに出力し、mintしたCookie値などのコマンド出力はcmd.OutOrStdoutに書く。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "identity",
		Short:         "Identity and session service for the events platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}

	root.AddCommand(
		newServeCommand(w),
		newMigrateCommand(w),
		newHealthcheckCommand(),
		newSessionCommand(w),
	)
	return root
}

func newServeCommand(w io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(w)
		},
	}
}

func serve(w io.Writer) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	return runServe(cfg)
}

func newMigrateCommand(w io.Writer) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative: %d", down)
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMigrate(cfg, down)
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back the given number of migrations instead of applying")
	return cmd
}

// newHealthcheckCommand はフル初期化をスキップする軽量サブコマンド。
// distroless環境でのDockerヘルスチェック用。
func newHealthcheckCommand() *cobra.Command {
	address := os.Getenv("ADDRESS")
	if address == "" {
		address = defaultAddress
	}

	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the /health endpoint of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(address)
		},
	}
	cmd.Flags().StringVar(&address, "address", address, "address of the running server (env ADDRESS)")
	return cmd
}

func newSessionCommand(w io.Writer) *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Session utilities for local development",
	}

	var userID int64
	mintCmd := &cobra.Command{
		Use:   "mint",
		Short: "Issue an authenticated session for a user and print the cookie",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID <= 0 {
				return fmt.Errorf("--user must be a positive user id")
			}
			cfg, err := Init(w)
			if err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
			return runMintSession(cfg, userID, cmd.OutOrStdout())
		},
	}
	mintCmd.Flags().Int64Var(&userID, "user", 0, "id of the user to issue the session for")
	_ = mintCmd.MarkFlagRequired("user")

	sessionCmd.AddCommand(mintCmd)
	return sessionCmd
}
