// flarumimport migrates a Flarum forum into the discussion platform.
//
// Usage:
//
//	flarumimport run [--config path] [--from-checkpoint] [--report out.xlsx]
//	flarumimport users|categories|posts|permalinks
//	flarumimport migrate
//	flarumimport status [--json]
//	flarumimport report --out run.xlsx
//	flarumimport init-config [path]
//
// Environment (override the config file):
//
//	FLARUM_HOST, FLARUM_DB, FLARUM_USER, FLARUM_PW  source connection
//	AVATARS_DIR, BATCH_SIZE                         import settings
//	TARGET_DIALECT, TARGET_DSN                      target database
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
