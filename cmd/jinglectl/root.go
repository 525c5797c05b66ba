package main

import (
	"context"
	"os"

	"github.com/arzzra/jingle/pkg/config"
	"github.com/arzzra/jingle/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Глобальные флаги
var configFile string

var rootCmd = &cobra.Command{
	Use:   "jinglectl",
	Short: "Jingle session negotiation toolkit",
	Long: `jinglectl работает с сессиями Jingle (XEP-0166) и Muji (XEP-0272).

Команды:
  sdp2jingle  преобразует SDP в элемент <jingle/>
  jingle2sdp  преобразует <jingle/> или <iq/> в SDP
  relay       запускает WebSocket relay станз с HTTP API
  serve       подключается к relay и принимает или совершает звонки`,
	SilenceUsage: true,
}

// Execute запускает корневую команду
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML)")

	rootCmd.AddCommand(sdp2jingleCmd)
	rootCmd.AddCommand(jingle2sdpCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig читает конфигурацию и строит логгер
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log, err := logger.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	return cfg, log, nil
}
