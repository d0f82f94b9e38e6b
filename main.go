package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailtrader/api"
	"mailtrader/config"
	"mailtrader/pkg/logger"
	"mailtrader/signal"
	"mailtrader/signal/mailbox"
	"mailtrader/trader"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ 启动失败: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := logger.InitLogger(cfg.LogDir, cfg.Debug); err != nil {
		return err
	}
	defer logger.Sync()

	log := logger.NewModuleLogger("main")
	log.Info("🚀 邮件告警交易机器人启动",
		zap.Bool("testnet", cfg.Binance.Testnet),
		zap.String("sender", cfg.Alert.TrustedSender))

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exchange := trader.NewBinanceTrader(cfg.Binance.APIKey, cfg.Binance.SecretKey,
		cfg.Binance.Testnet, cfg.Binance.RecvWindowMs, logger.NewModuleLogger("binance"))
	if err := exchange.SyncServerTime(ctx); err != nil {
		// 时间偏差只影响签名请求，启动不中断
		log.Warn("⚠️ 同步币安服务器时间失败", zap.Error(err))
	}

	var (
		db       *config.Database
		store    signal.AlertStore
		recorder trader.OrderRecorder
		journal  api.Journal
	)
	if cfg.JournalPath != "" {
		db, err = config.NewDatabase(cfg.JournalPath)
		if err != nil {
			return err
		}
		defer db.Close()
		store, recorder, journal = db, db, db
		log.Info("🗄️ 交易流水已开启", zap.String("path", cfg.JournalPath))
	}

	ledger := trader.NewLedger()
	watcher := trader.NewFillWatcher(exchange, trader.FillWatcherConfig{
		PollInterval: cfg.Fill.PollInterval,
		Timeout:      cfg.Fill.Timeout,
		MaxAttempts:  cfg.Fill.MaxAttempts,
	}, logger.NewModuleLogger("fill"))
	executor := trader.NewExecutor(exchange, ledger, watcher, recorder, logger.NewModuleLogger("executor"))

	dispatcher, err := signal.NewDispatcher(signal.DispatcherConfig{
		TrustedSender: cfg.Alert.TrustedSender,
		MaxAge:        cfg.Alert.MaxAge,
		QueueSize:     cfg.Alert.QueueSize,
		DedupSize:     cfg.Alert.DedupSize,
	}, executor, store, logger.NewModuleLogger("dispatcher"))
	if err != nil {
		return err
	}
	dispatcher.Start(ctx)

	monitor := mailbox.NewMonitor(mailbox.Config{
		Addr:           cfg.MailAddr(),
		User:           cfg.Mail.User,
		Password:       cfg.Mail.Password,
		Mailbox:        cfg.Mail.Mailbox,
		ReconnectDelay: cfg.Mail.ReconnectDelay,
	}, dispatcher.OnMailEvent, logger.NewModuleLogger("mailbox"))

	var server *api.Server
	if cfg.APIPort > 0 {
		server = api.NewServer(ledger, journal, cfg.APIPort, logger.NewModuleLogger("api"))
		go func() {
			if err := server.Start(); err != nil {
				log.Error("❌ 状态接口异常退出", zap.Error(err))
			}
		}()
	}

	monitorDone := make(chan struct{})
	go func() {
		monitor.Run(ctx)
		close(monitorDone)
	}()

	<-ctx.Done()
	log.Info("🛑 收到退出信号，正在关闭...")

	<-monitorDone
	dispatcher.Wait()
	watcher.Wait()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("⚠️ 状态接口关闭失败", zap.Error(err))
		}
	}

	log.Info("✅ 已安全退出")
	return nil
}
