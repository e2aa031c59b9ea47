// Command presto-page runs statements against a Presto coordinator and parses
// saved result pages.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Error("presto-page failed")
		stop()
		os.Exit(1)
	}
}
