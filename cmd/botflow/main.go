package main

import (
	"flag"
	"log"

	"botflow/conf"
	"botflow/pkg/cache"
	"botflow/pkg/db"
	"botflow/pkg/logger"

	goexv2 "github.com/nntaoli-project/goex/v2"
)

func main() {
	configPath := flag.String("c", "config.yaml", "配置文件路径")
	flag.Parse()

	if err := conf.LoadConfig(*configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	appCfg := &conf.AppConfig

	logger.Init(logger.Options{
		Level:      appCfg.Log.Level,
		FileName:   appCfg.Log.FileName,
		TimeFormat: appCfg.Log.TimeFormat,
		MaxSize:    appCfg.Log.MaxSize,
		MaxBackups: appCfg.Log.MaxBackups,
		MaxAge:     appCfg.Log.MaxAge,
		Compress:   appCfg.Log.Compress,
		LocalTime:  appCfg.Log.LocalTime,
		Console:    appCfg.Log.Console,
	})
	defer logger.Sync()

	if appCfg.Okx.Simulated {
		// okx模拟盘环境
		goexv2.DefaultHttpCli.SetHeaders("x-simulated-trading", "1")
	}

	gdb := db.Init(db.NewConfig(
		appCfg.Db.Username,
		appCfg.Db.Password,
		appCfg.Db.Host,
		appCfg.Db.Port,
		appCfg.Db.DbName,
	))

	if err := cache.InitRedis(cache.RedisConfig{
		Addr:         appCfg.Redis.Addr,
		Password:     appCfg.Redis.Password,
		Db:           appCfg.Redis.Db,
		PoolSize:     appCfg.Redis.PoolSize,
		MinIdleConns: appCfg.Redis.MinIdleConns,
		IdleTimeout:  appCfg.Redis.IdleTimeout,
	}); err != nil {
		logger.Fatal("redis init failed", logger.Pair("err", err.Error()))
	}
	defer cache.CloseRedis()

	app, err := InitApp(appCfg, gdb)
	if err != nil {
		logger.Fatal("app init failed", logger.Pair("err", err.Error()))
	}

	server := NewServer(appCfg)
	server.OnShutdown(app.Close)
	server.Run(app.Router)
}
