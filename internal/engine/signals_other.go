//go:build !unix

package engine

import (
	"os"

	"github.com/MrSnakeDoc/chiron/internal/coordinator"
)

func NotifySignals() (<-chan os.Signal, func()) { return nil, func() {} }

func signalReason(os.Signal) (coordinator.Reason, bool) { return "", false }
