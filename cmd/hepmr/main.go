package main

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/hepmr/hepmr/cmd/hepmr/cmd"
	"github.com/hepmr/hepmr/internal/common"
	"github.com/hepmr/hepmr/internal/common/logging"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
)

func main() {
	common.ConfigureCommandLineLogging()
	if err := cmd.RootCmd().Execute(); err != nil {
		logging.WithStacktrace(log.NewEntry(log.StandardLogger()), err).Errorf("Error: %v", err)
		os.Exit(mrerrors.ExitCode(err))
	}
}
