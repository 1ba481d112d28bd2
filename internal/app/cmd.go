package app

// Command はulibバイナリのサブコマンド。
type Command string

const (
	// CommandServe はREST APIを提供する。
	CommandServe Command = "serve"
	// CommandWorker は書籍の評価集計値を定期的に修復する。
	CommandWorker Command = "worker"
	// CommandMigrate はスキーマを最新版まで移行して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIの/healthを叩いて終了する。シェルのないイメージ用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なしや未知の名前はserveとして扱う。
func ParseCommand(args []string) Command {
	if len(args) > 0 {
		if cmd, ok := commands[args[0]]; ok {
			return cmd
		}
	}
	return CommandServe
}
