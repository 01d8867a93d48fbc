// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"strings"

	corelogger "github.com/distro-tracker/tracker/core/logger"
	"github.com/distro-tracker/tracker/internal/worker/dispatcher"
)

// logTransport records outbound messages in the log. It stands in
// until the process is wired to the external mail relay; delivery
// through it never fails.
type logTransport struct {
	logger corelogger.Logger
}

func newLogTransport(logger corelogger.Logger) dispatcher.Transport {
	return logTransport{logger: logger}
}

// Send implements dispatcher.Transport.
func (t logTransport) Send(ctx context.Context, msg dispatcher.Message) error {
	t.logger.Infof(ctx, "to %s [%s] %s: %s",
		msg.Recipient, strings.Join(msg.Keywords, ","), msg.Subject, msg.Body)
	return nil
}
