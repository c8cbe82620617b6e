package app

import (
	"io"

	"github.com/spf13/cobra"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は孤立画像スイーパーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// NewRootCommand はpostfeedのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// wはログとコマンド出力の書き込み先。
func NewRootCommand(w io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "postfeed",
		Short:         "投稿フィードAPIサーバー",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), w, CommandServe)
		},
	}
	root.SetOut(w)
	root.SetErr(w)

	root.AddCommand(
		newSubcommand(w, CommandServe, "APIサーバーを起動する"),
		newSubcommand(w, CommandWorker, "孤立画像スイーパーを起動する"),
		newSubcommand(w, CommandMigrate, "未適用のマイグレーションをすべて適用する"),
		newSubcommand(w, CommandHealthcheck, "稼働中のAPIサーバーの /health を確認する"),
	)

	return root
}

func newSubcommand(w io.Writer, c Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(c),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd.Context(), w, c)
		},
	}
}
