package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proxycore/admin"
	"proxycore/auth"
	"proxycore/config"
	"proxycore/coremodule"
	"proxycore/logger"
	"proxycore/module"
	"proxycore/proxycore"
	"proxycore/stats"
	"proxycore/transport"
)

const banner = `
╔═══════════════════════════════════════════════════════════════╗
║                       PROXYCORE                               ║
║        Minecraft protocol man-in-the-middle proxy core        ║
╚═══════════════════════════════════════════════════════════════╝
`

func main() {
	configFile := flag.String("config", "", "Configuration file path (JSON)")
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()

	if *showVersion {
		fmt.Println("proxycore v0.1.0")
		return
	}

	if *configFile == "" {
		log.Fatal("Usage: proxycore -config <config.json>")
	}

	fmt.Print(banner)
	log.Printf("Loading configuration from: %s", *configFile)

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logger.INFO
	}
	lg := logger.New(level, os.Stdout, "proxycore")

	st := stats.NewStats()
	registry := transport.DefaultRegistry()
	authProvider := auth.NewStaticProvider(cfg.Username)
	dialer := proxycore.NewNetDialer(10 * time.Second)

	core := proxycore.New(registry, cfg.UpstreamAddr(), dialer, authProvider, lg, st)
	core.Commands().SetPrefix(cfg.CommandPrefix)

	factories := module.NewFactoryRegistry()
	factories.Register("builtin/core", func(_ module.Proxy, _, modulePath string, moduleConfig any) (module.Module, error) {
		cm := coremodule.New(core)
		cm.Init(core, coremodule.Name, modulePath, moduleConfig)
		return cm, nil
	})

	modules := module.New(core, factories)
	core.SetModules(modules)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coreMod, err := modules.Import("builtin/core", nil)
	if err != nil {
		log.Fatalf("Failed to import core module: %v", err)
	}
	if err := modules.Load(ctx, coreMod.Name()); err != nil {
		log.Fatalf("Failed to load core module: %v", err)
	}

	if len(cfg.Modules) > 0 {
		lg.Warn("modules_dir/modules are resolved through statically-registered factories; %d requested module(s) have no factory and were skipped", len(cfg.Modules))
	}

	if cfg.AdminListen != "" {
		httpSrv := admin.NewHTTPServer(cfg.AdminListen, core)
		go func() {
			lg.Info("admin HTTP listening on %s", cfg.AdminListen)
			if err := httpSrv.ListenAndServe(); err != nil {
				lg.Error("admin HTTP server exited: %v", err)
			}
		}()
	}

	listener, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", cfg.ListenAddr(), err)
	}
	lg.Info("proxy listening on %s, upstream %s", cfg.ListenAddr(), cfg.UpstreamDestination())

	go acceptLoop(ctx, listener, core, lg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	cancel()
	listener.Close()
}

func acceptLoop(ctx context.Context, listener net.Listener, core *proxycore.Core, lg *logger.Logger) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			lg.Error("accept failed: %v", err)
			return
		}

		go func() {
			if err := core.Accept(ctx, conn); err != nil {
				lg.Error("connection ended: %v", err)
			}
		}()
	}
}
