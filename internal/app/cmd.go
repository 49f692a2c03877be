package app

import (
	"slices"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe は認証APIサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンの定期クリーンアップを行うワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate は埋め込みマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandCleanup はクリーンアップを1回だけ実行して終了する。
	CommandCleanup Command = "cleanup"
	// CommandHealthcheck は稼働中のAPIサーバーの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// commands はParseCommandが受け付けるサブコマンド。
var commands = []Command{
	CommandServe,
	CommandWorker,
	CommandMigrate,
	CommandCleanup,
	CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 大文字小文字は区別しない。引数が空またはサポート外の場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	cmd := Command(strings.ToLower(strings.TrimSpace(args[0])))
	if slices.Contains(commands, cmd) {
		return cmd
	}
	return CommandServe
}
