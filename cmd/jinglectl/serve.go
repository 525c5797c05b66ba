package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arzzra/jingle/pkg/config"
	"github.com/arzzra/jingle/pkg/httpapi"
	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/arzzra/jingle/pkg/jingle/session"
	"github.com/arzzra/jingle/pkg/media/pionrtc"
	"github.com/arzzra/jingle/pkg/metrics"
	"github.com/arzzra/jingle/pkg/transport/wsxmpp"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"mellium.im/xmpp/jid"
)

var (
	serveListen string
	serveCall   string
	serveRoom   string
	serveNick   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the stanza relay and handle Jingle calls",
	Long: `Подключается к relay от имени identity.jid, автоматически принимает
входящие сессии и публикует HTTP API со списком сессий.

Примеры:
  JINGLE_IDENTITY_JID=alice@example.com/phone JINGLE_TRANSPORT_URL=ws://localhost:8080/ws jinglectl serve --listen :8081
  jinglectl serve -c alice.yaml --call bob@example.com/desk
  jinglectl serve -c alice.yaml --room conf@muc.example.com --nick alice`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig()
		if err != nil {
			return err
		}
		if serveListen != "" {
			cfg.HTTP.Listen = serveListen
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg, log)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP API listen address (overrides http.listen)")
	serveCmd.Flags().StringVar(&serveCall, "call", "", "full JID to call after start")
	serveCmd.Flags().StringVar(&serveRoom, "room", "", "Muji room JID to join after start")
	serveCmd.Flags().StringVar(&serveNick, "nick", "", "room nickname (defaults to the local JID node)")
}

// iceServers переводит серверы из конфигурации в формат сессий
func iceServers(list []config.ICEServer) []session.ICEServer {
	out := make([]session.ICEServer, 0, len(list))
	for _, s := range list {
		out = append(out, session.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return out
}

// sessionConfig переводит протокольные параметры из конфигурации
func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Timeout:           cfg.Jingle.StanzaTimeout,
		Grace:             cfg.Jingle.MujiGrace,
		IDPrefix:          cfg.Jingle.IDPrefix,
		Constraints:       session.Constraints{Audio: cfg.Media.Audio, Video: cfg.Media.Video},
		RequireEncryption: true,
	}
}

func runServe(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	local, err := jid.Parse(cfg.Identity.JID)
	if err != nil || local.Resourcepart() == "" {
		return errors.Errorf("identity.jid must be a full JID, got %q", cfg.Identity.JID)
	}
	if cfg.Transport.URL == "" {
		return errors.New("transport.url is required")
	}

	client, err := wsxmpp.Dial(ctx, cfg.Transport.URL, local, log)
	if err != nil {
		return err
	}
	defer client.Close()

	engine, err := pionrtc.New(log)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	env := &session.Env{
		Transport: client,
		Media:     engine,
		Renderer:  pionrtc.NewSink(log),
		Metrics:   metrics.New(reg, metrics.DefaultConfig()),
		Logger:    log,
		Config:    sessionConfig(cfg),
	}

	handlers := session.Handlers{
		OnStatus: func(s *session.Single, st jingle.Status) {
			log.Info().Str("sid", s.SID()).Str("peer", s.Peer().String()).Str("status", string(st)).Msg("Статус сессии")
		},
		OnTerminated: func(s *session.Single, reason jingle.Reason) {
			log.Info().Str("sid", s.SID()).Str("reason", string(reason)).Msg("Сессия завершена")
		},
		OnError: func(s *session.Single, err error) {
			log.Warn().Err(err).Str("sid", s.SID()).Msg("Ошибка сессии")
		},
	}
	router := session.NewRouter(env, session.NewRegistry(), handlers, func(s *session.Single) {
		go func() {
			if err := s.Accept(ctx); err != nil {
				log.Error().Err(err).Str("sid", s.SID()).Msg("Не удалось принять сессию")
			}
		}()
	})
	router.Start()
	_ = router.Ready(ctx, session.StaticDiscoverer(iceServers(cfg.Media.ICEServers)))

	if err := startCalls(ctx, router, local, handlers, log); err != nil {
		return err
	}

	api := httpapi.New(httpapi.Options{Registry: router.Registry(), Gatherer: reg, Logger: log})

	// Разрыв соединения с relay завершает процесс
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-client.Done():
			log.Warn().Msg("Соединение с relay потеряно")
			cancel()
		case <-ctx.Done():
		}
	}()

	err = serveHTTP(ctx, cfg.HTTP.Listen, api.Router(), log)
	hangup(router.Registry(), log)
	return err
}

// startCalls запускает исходящий звонок и вход в комнату из флагов
func startCalls(ctx context.Context, router *session.Router, local jid.JID, h session.Handlers, log zerolog.Logger) error {
	if serveCall != "" {
		peer, err := jid.Parse(serveCall)
		if err != nil {
			return errors.Wrapf(err, "parse --call %q", serveCall)
		}
		router.NewSingle(peer, h, func(s *session.Single) {
			go func() {
				if err := s.Initiate(ctx); err != nil {
					log.Error().Err(err).Str("peer", peer.String()).Msg("Не удалось начать сессию")
				}
			}()
		})
	}

	if serveRoom != "" {
		room, err := jid.Parse(serveRoom)
		if err != nil {
			return errors.Wrapf(err, "parse --room %q", serveRoom)
		}
		nick := serveNick
		if nick == "" {
			nick = local.Localpart()
		}
		rh := session.RoomHandlers{
			OnStatus: func(r *session.Room, st jingle.RoomStatus) {
				log.Info().Str("room", r.JID().String()).Str("status", string(st)).Msg("Статус комнаты")
			},
			OnParticipant: func(r *session.Room, p session.ParticipantInfo) {
				log.Info().Str("room", r.JID().String()).Str("nick", p.Nick).Str("status", string(p.Status)).Msg("Участник комнаты")
			},
			OnError: func(r *session.Room, err error) {
				log.Warn().Err(err).Str("room", r.JID().String()).Msg("Ошибка комнаты")
			},
		}
		router.NewRoom(room, nick, rh, func(r *session.Room) {
			go func() {
				if err := r.Join(ctx); err != nil {
					log.Error().Err(err).Str("room", r.JID().String()).Msg("Не удалось войти в комнату")
				}
			}()
		})
	}
	return nil
}

// hangup завершает активные сессии и покидает комнаты перед выходом
func hangup(registry *session.Registry, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, room := range registry.Rooms() {
		if err := room.Leave(ctx); err != nil {
			log.Debug().Err(err).Str("room", room.JID().String()).Msg("Выход из комнаты")
		}
	}
	for _, s := range registry.Singles() {
		if err := s.Terminate(ctx, jingle.ReasonSuccess); err != nil {
			log.Debug().Err(err).Str("sid", s.SID()).Msg("Завершение сессии")
		}
	}
}
