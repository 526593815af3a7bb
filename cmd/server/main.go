package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxelstore/internal/api"
	"github.com/annel0/voxelstore/internal/auth"
	"github.com/annel0/voxelstore/internal/config"
	"github.com/annel0/voxelstore/internal/eventbus"
	"github.com/annel0/voxelstore/internal/logging"
	"github.com/annel0/voxelstore/internal/observability"
	"github.com/annel0/voxelstore/internal/storage_adapter"
	"github.com/annel0/voxelstore/internal/storage_interface"
	"github.com/annel0/voxelstore/internal/vec"
	"github.com/annel0/voxelstore/internal/world"
	"github.com/annel0/voxelstore/internal/world/block"
	"github.com/annel0/voxelstore/internal/world/block/sign"
	"github.com/annel0/voxelstore/internal/worldgen"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var (
		configPath = flag.String("config", "", "Путь к YAML конфигурации (или VOXEL_CONFIG)")
		radius     = flag.Int("radius", -1, "Радиус генерации в колонках (-1: из конфигурации)")
		seed       = flag.Int64("seed", 0, "Сид генератора (0: из конфигурации)")
		serve      = flag.Bool("serve", false, "После генерации обслуживать REST API и метрики до SIGINT")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	if *radius >= 0 {
		cfg.Gen.Radius = *radius
	}
	if *seed != 0 {
		cfg.Gen.Seed = *seed
	}

	if err := setupLogging(cfg.Logging); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	if err := run(cfg, *serve); err != nil {
		logging.Error("❌ %v", err)
		logging.CloseDefaultLogger()
		os.Exit(1)
	}
}

func setupLogging(lc config.LoggingConfig) error {
	consoleLevel, err := logging.ParseLevel(lc.ConsoleLevel)
	if err != nil {
		return err
	}
	fileLevel, err := logging.ParseLevel(lc.FileLevel)
	if err != nil {
		return err
	}
	logging.Configure(logging.Settings{Dir: lc.Dir, ConsoleLevel: consoleLevel, FileLevel: fileLevel})
	return logging.InitDefaultLogger("server")
}

func run(cfg *config.Config, serve bool) error {
	ctx := context.Background()

	worldID := cfg.World.ID
	if worldID == "" {
		worldID = "default"
	}

	if cfg.Tracing.Enabled {
		telemetry, err := observability.InitTelemetry(ctx, cfg.Tracing, worldID)
		if err != nil {
			logging.Warn("Трассировка недоступна: %v", err)
		} else {
			// Отложенный вызов срабатывает после финального Flush, его спаны тоже уходят
			defer func() {
				if err := telemetry.Shutdown(ctx); err != nil {
					logging.Warn("Ошибка остановки трассировки: %v", err)
				}
			}()
		}
	}

	reg := block.NewRegistry(block.State(cfg.World.RegistryBase))
	if err := reg.LoadPalette(cfg.Palette()); err != nil {
		return fmt.Errorf("палитра: %w", err)
	}

	store, err := storage_adapter.Open(cfg.Storage, worldID)
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	if store != nil {
		defer closeStore(store)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []world.Option{
		world.WithID(worldID),
		world.WithMetrics(world.NewMetrics(promReg)),
		world.WithLogger(logging.GetWorldLogger()),
	}
	if store != nil {
		opts = append(opts, world.WithStore(store))
	}

	bus, err := openEventBus(cfg.Events)
	if err != nil {
		return fmt.Errorf("события: %w", err)
	}
	if bus != nil {
		defer bus.Close()
		if err := eventbus.RegisterMetrics(promReg, bus); err != nil {
			return err
		}
		if _, err := eventbus.StartLoggingListener(bus, logging.GetComponentLogger("events")); err != nil {
			return err
		}
		opts = append(opts, world.WithFlushHook(eventbus.FlushHook(bus, worldID, func(err error) {
			logging.Warn("Не удалось опубликовать событие Flush: %v", err)
		})))
	}

	w := world.NewWorld(reg, opts...)

	logging.Info("🌍 Мир %s: backend=%s, палитра=%d, radius=%d, seed=%d",
		w.ID(), cfg.Storage.Backend, reg.Len(), cfg.Gen.Radius, cfg.Gen.Seed)

	if err := generate(cfg.Gen, w); err != nil {
		return err
	}
	if err := placeSign(w); err != nil {
		return err
	}

	start := time.Now()
	if err := w.FlushContext(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	st := w.Stats()
	logging.Info("💾 Flush за %s: chunks=%d overflow=%d buffers=%d dirty=%d",
		time.Since(start), st.Chunks, st.OverflowEntries, st.Buffers, st.DirtyColumns)

	if !serve {
		return nil
	}
	return serveUntilSignal(cfg, w, promReg)
}

// generate заполняет квадрат колонок вокруг начала координат
func generate(gc config.GenConfig, w *world.World) error {
	palette, err := worldgen.ResolvePalette(w.BlockIDSystem())
	if err != nil {
		return fmt.Errorf("генератор: %w", err)
	}
	gen := worldgen.NewGenerator(gc.Seed, gc.SeaLevel, palette)
	cur := world.NewCursor(w)

	start := time.Now()
	total := 0
	for cx := -gc.Radius; cx <= gc.Radius; cx++ {
		for cz := -gc.Radius; cz <= gc.Radius; cz++ {
			n, err := worldgen.Fill(gen, cur, vec.Vec2{X: int32(cx), Z: int32(cz)})
			if err != nil {
				return fmt.Errorf("генерация колонки %d,%d: %w", cx, cz, err)
			}
			total += n
		}
	}
	logging.Info("⛰️  Сгенерировано %d блоков за %s", total, time.Since(start))
	return nil
}

// placeSign ставит табличку у точки появления и проверяет её содержимое
func placeSign(w *world.World) error {
	cur := world.NewCursor(w)
	if _, ok := w.Registry().IDToState("sign"); !ok {
		logging.Debug("Блок sign отсутствует в палитре, табличка пропущена")
		return nil
	}

	pos := vec.Pack(0, 255, 0)
	if err := cur.SetBlockID(pos, "sign"); err != nil {
		return err
	}
	buf, err := cur.BlockBuffer(pos)
	if err != nil {
		return err
	}
	lines := [sign.LineCount]string{"voxelstore", w.ID(), time.Now().Format(time.RFC3339), ""}
	if err := sign.NewCursor(buf).WriteLines(lines); err != nil {
		return err
	}
	got, err := sign.NewCursor(w.MustBlockBuffer(pos)).ReadLines()
	if err != nil {
		return err
	}
	logging.Debug("Табличка %s: %q", pos, got)
	return nil
}

func serveUntilSignal(cfg *config.Config, w *world.World, promReg *prometheus.Registry) error {
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.GetPort()),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info("📈 Метрики: http://localhost%s/metrics", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("Ошибка сервера метрик: %v", err)
			}
		}()
	}

	var restServer *api.RestServer
	if cfg.API.Enabled {
		var authenticator *auth.Authenticator
		if secret := cfg.API.GetSecret(); secret != "" {
			a, err := auth.NewAuthenticator(secret, "voxelstore")
			if err != nil {
				return fmt.Errorf("api: %w", err)
			}
			authenticator = a
		} else {
			logging.Warn("🔐 Секрет API не задан, изменяющие запросы отключены")
		}

		rs, err := api.NewRestServer(api.Config{
			Port:       fmt.Sprintf(":%d", cfg.API.GetPort()),
			World:      w,
			Auth:       authenticator,
			Registerer: promReg,
			Gatherer:   promReg,
		})
		if err != nil {
			return err
		}
		restServer = rs
		go func() {
			if err := rs.Start(); err != nil {
				logging.Error("❌ Ошибка REST API: %v", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if restServer != nil {
		if err := restServer.Stop(ctx); err != nil {
			logging.Error("Ошибка остановки REST API: %v", err)
		}
		// Сохраняем то, что успели изменить через API
		if err := restServer.Update(func(w *world.World) error { return w.FlushContext(ctx) }); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Error("Ошибка остановки сервера метрик: %v", err)
		}
	}

	logging.Info("👋 Сервер остановлен")
	return nil
}

// openEventBus создаёт ленту событий; для backend "none" возвращает nil
func openEventBus(ec config.EventsConfig) (eventbus.EventBus, error) {
	switch ec.Backend {
	case "memory":
		return eventbus.NewMemoryBus(ec.BufferSize), nil
	case "jetstream":
		url := ec.NATSURL
		if url == "" {
			url = "nats://127.0.0.1:4222"
		}
		bus, err := eventbus.NewJetStreamBus(url, ec.Stream, ec.Retention())
		if err != nil {
			return nil, err
		}
		return bus, nil
	default:
		return nil, nil
	}
}

func closeStore(store storage_interface.ChunkStore) {
	if err := store.Close(); err != nil {
		logging.Error("Ошибка закрытия хранилища: %v", err)
	}
}
