package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/jingle/pkg/httpapi"
	"github.com/arzzra/jingle/pkg/transport/wsxmpp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var relayListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the development WebSocket stanza relay",
	Long: `Запускает relay станз: клиенты подключаются к /ws?jid=<полный JID>,
станзы пересылаются по атрибуту to. Комнаты MUC relay не эмулирует.

Пример:
  jinglectl relay --listen :8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		listen := cfg.HTTP.Listen
		if relayListen != "" {
			listen = relayListen
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		relay := wsxmpp.NewRelay(log)
		defer relay.Close()

		api := httpapi.New(httpapi.Options{Gatherer: reg, Relay: relay, Logger: log})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveHTTP(ctx, listen, api.Router(), log)
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "listen address (overrides http.listen)")
}
