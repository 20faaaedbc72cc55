// Package cli дерево команд cobra для visitor-gate.
package cli

import (
	"fmt"

	"github.com/Freeeeeet/visitor_gate/internal/app"
	"github.com/Freeeeeet/visitor_gate/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewRootCmd создаёт корневую команду
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gate",
		Short:         "Visitor access lifecycle engine",
		Long:          "Visitor access control for a residential complex: visits, resident approval sessions and background expiry sweeps.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSweepCmd(),
	)

	return root
}

// bootstrap загружает конфиг и создаёт логгер
func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := app.NewLogger(cfg.Environment)
	return cfg, logger, nil
}
