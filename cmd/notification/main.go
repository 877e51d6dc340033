// 通知サービスのエントリポイント。
// ドメインイベントを購読してRead Modelを更新し、ケースの関係者への通知を作成する。
// 受信者ごとの既読・却下状態と未読数、メール配信設定をHTTP APIで提供する。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	"go.uber.org/multierr"

	"github.com/nao1215/caseflow/internal/casedata"
	"github.com/nao1215/caseflow/internal/config"
	"github.com/nao1215/caseflow/internal/database"
	"github.com/nao1215/caseflow/internal/dispatch"
	"github.com/nao1215/caseflow/internal/eventfeed"
	"github.com/nao1215/caseflow/internal/notification"
	"github.com/nao1215/caseflow/pkg/event"
	"github.com/nao1215/caseflow/pkg/httpclient"
	"github.com/nao1215/caseflow/pkg/logger"
	"github.com/nao1215/caseflow/pkg/metrics"
	"github.com/nao1215/caseflow/pkg/mq"
)

// pollerCursorName はEvent Storeのポーリング位置を保存するカーソル名。
const pollerCursorName = "notification-eventstore"

func main() {
	configPath := flag.String("config", "", "設定ファイル（YAML）のパス")
	rebuild := flag.Bool("rebuild", false, "起動時にイベントストアの全イベントからRead Modelを再構築する")
	flag.Parse()

	if err := run(*configPath, *rebuild); err != nil {
		log.Fatalf("通知サービスの実行に失敗: %v", err)
	}
}

// run は設定を読み込んで通知サービスを起動し、シグナルを受けるまで待つ。
func run(configPath string, rebuild bool) (err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCloser, err := logger.Init(cfg.Log)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { err = multierr.Append(err, logCloser.Close()) }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	if err := casedata.Migrate(ctx, db); err != nil {
		return err
	}
	if err := notification.Migrate(ctx, db); err != nil {
		return err
	}
	if err := eventfeed.Migrate(ctx, db); err != nil {
		return err
	}

	m := metrics.New("notification")
	reader := casedata.NewReader(db)
	projector := casedata.NewProjector(db)

	dispatcher, err := dispatch.New(dispatch.Config{
		Driver:        cfg.Email.Driver,
		ServiceURL:    cfg.Email.ServiceURL,
		ServiceAPIKey: cfg.Email.ServiceAPIKey,
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Email.Topic,
		SMTP: dispatch.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
			From:     cfg.Email.From,
		},
	}, reader, slog.Default())
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, dispatcher.Close()) }()

	svc := notification.NewService(db, reader,
		notification.WithDispatcher(dispatcher),
		notification.WithMetrics(m),
		notification.WithLogger(slog.Default()),
		notification.WithDispatchTimeout(cfg.Email.Timeout),
	)
	// 送信中のメールを待ってから接続を閉じる
	defer svc.Wait()

	events := eventfeed.NewChain(projector, notification.NewTrigger(svc)).
		OnResult(func(eventType event.Type, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.EventsHandled.WithLabelValues(string(eventType), result).Inc()
		})

	stopFeed, err := startEventFeed(ctx, cfg, db, events, projector, rebuild)
	if err != nil {
		return err
	}
	defer stopFeed()

	if cfg.Auth.ServiceToken == "" {
		slog.Warn("auth.service_tokenが未設定のため内部APIを公開しません")
	}

	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	server := notification.NewServer(notification.ServerConfig{
		Port:           cfg.HTTP.Port,
		JWTSecret:      cfg.Auth.JWTSecret,
		ServiceToken:   cfg.Auth.ServiceToken,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		MetricsPath:    metricsPath,
	}, svc, events, m, slog.Default()).HTTPServer()

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("通知サービスを起動します", "addr", server.Addr, "eventfeed", cfg.EventFeed.Source, "email", cfg.Email.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("通知サービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// startEventFeed は設定された取得元からのイベント購読を開始し、停止関数を返す。
// rebuildが指定された場合は、購読の開始前にイベントストアの全イベントでRead Modelを再構築する。
// ポーリングの読み取り位置はDBに保存し、再起動後は保存した位置から再開する。
func startEventFeed(ctx context.Context, cfg *config.Config, db *sqlx.DB, handler eventfeed.Handler, projector *casedata.Projector, rebuild bool) (func(), error) {
	var poller *eventfeed.Poller
	if cfg.EventFeed.Source == "http" || rebuild {
		poller = eventfeed.NewPoller(httpclient.New(cfg.EventFeed.EventStoreURL), handler, cfg.EventFeed.PollInterval,
			eventfeed.WithCursor(eventfeed.NewSQLCursor(db, pollerCursorName)))
		if err := poller.Resume(ctx); err != nil {
			return nil, err
		}
	}

	if rebuild {
		events, err := poller.FetchAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("再構築用イベントの取得に失敗: %w", err)
		}
		if _, err := projector.Rebuild(ctx, events); err != nil {
			return nil, err
		}
	}

	switch cfg.EventFeed.Source {
	case "http":
		poller.Start(ctx)
		return poller.Stop, nil
	case "kafka":
		consumer := eventfeed.NewKafkaConsumer(
			mq.NewReader(cfg.Kafka.Brokers, cfg.EventFeed.Topic, cfg.Kafka.GroupID), handler)
		consumeCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := consumer.Run(consumeCtx); err != nil {
				slog.Error("Kafkaからのイベント購読が停止しました", "error", err)
			}
		}()
		return func() {
			cancel()
			<-done
			if err := consumer.Close(); err != nil {
				slog.Warn("Kafkaリーダーのクローズに失敗しました", "error", err)
			}
		}, nil
	default:
		return func() {}, nil
	}
}
