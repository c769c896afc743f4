// Conveyor CLI — локальный запуск pipeline и работа с conveyor-server.
//
// Использование:
//
//	conveyor [--api-url URL] [--json] <command> [flags]
//
// Команды:
//
//	run        Выполнить pipeline локально (код 1, если pipeline упал)
//	validate   Проверить pipeline
//	cache-key  Показать ключи кэша для workspace
//	pipeline   Показать действующий pipeline
//	runs       История runs на сервере
//	trigger    Запустить pipeline на сервере
//	event      Отправить событие (HTTP или RabbitMQ), следить за run.finished
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/cli"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	// Логи в stderr: stdout остаётся для результата команды
	telemetry.SetupLoggerTo(os.Stderr)

	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "conveyor",
		Short:         "Conveyor — sequential build-and-audit pipeline runner",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "API server URL (default: config api_url)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	cfgFn := sync.OnceValues(func() (*config.Config, error) {
		return config.Load(config.Options{})
	})
	clientFn := func() *cli.Client {
		url, secret := apiURL, ""
		if cfg, err := cfgFn(); err == nil {
			if url == "" {
				url = cfg.APIURL
			}
			secret = cfg.WebhookSecret
		}
		return cli.NewClient(url).WithWebhookSecret(secret)
	}
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewRunCmd(cfgFn, outputFn),
		cli.NewValidateCmd(cfgFn, outputFn),
		cli.NewCacheKeyCmd(cfgFn, outputFn),
		cli.NewPipelineCmd(cfgFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
		cli.NewEventCmd(clientFn, cfgFn, outputFn),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)

		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
