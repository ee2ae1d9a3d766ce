package main

import (
	"fmt"
	"log"

	"AdForge-server/config"
	"AdForge-server/models"
	"AdForge-server/providers"
	"AdForge-server/routers"
	"AdForge-server/routers/api"
	"AdForge-server/service"

	"github.com/joho/godotenv"
)

func main() {
	// .env 仅本地开发使用，线上走真实环境变量
	_ = godotenv.Load()

	config.InitConfig()
	cfg := config.AppConfig
	fmt.Println("Server starting on port", cfg.Server.Port)

	// dsn 为空走内存存储（本地联调）
	var store models.Store
	if cfg.MySQL.DSN != "" {
		models.InitDB()
		store = models.NewGormStore(models.GormDB)
		fmt.Println("Database initialized")
	} else {
		store = models.NewMemoryStore()
		fmt.Println("Using in-memory store (no mysql dsn)")
	}

	service.InitQueue()
	fmt.Println("Queue initialized")

	var blob service.BlobStore
	if cfg.MinIO.Endpoint != "" && cfg.MinIO.Endpoint != config.MockSentinel {
		mb, err := service.NewMinioBlob()
		if err != nil {
			log.Fatalf("MinIO 初始化失败: %v", err)
		}
		blob = mb
		fmt.Println("MinIO initialized")
	} else {
		blob = service.NewMemoryBlob()
		fmt.Println("Using in-memory blob store")
	}

	p := cfg.Providers
	background := &service.BackgroundOrchestrator{
		Store:    store,
		Blob:     blob,
		Scene:    providers.NewSceneClient(p.SceneAPI, p.SceneKey, cfg.FetchTimeout(), cfg.CallTimeout()),
		Upscaler: providers.NewUpscaleClient(p.UpscaleAPI, p.UpscaleKey, cfg.CallTimeout()),
		TTS:      providers.NewTTSClient(p.TTSAPI, p.TTSKey, cfg.CallTimeout()),
	}
	animation := &service.AnimationOrchestrator{
		Store:           store,
		Blob:            blob,
		Animator:        providers.NewAnimateClient(p.AnimateAPI, p.AnimateKey, cfg.CallTimeout()),
		Compositor:      providers.NewFFmpegCompositor(p.FFmpegBin, ""),
		PollMaxAttempts: cfg.Pipeline.PollMaxAttempts,
		PollInterval:    cfg.PollInterval(),
	}

	processor := service.NewProcessor(store, background, animation)
	processor.StartProcessor(5)

	api.Init(store, blob)
	r := routers.InitRouter()
	r.Run(cfg.Server.Port)
}
