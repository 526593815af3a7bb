package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/annel0/voxelstore/internal/auth"
	"github.com/annel0/voxelstore/internal/config"
)

// token-cli выпускает токены для REST API voxelstore.
//
//	token-cli -secret-gen
//	token-cli -subject builder -write -ttl 24h
func main() {
	var (
		configPath = flag.String("config", "", "Путь к YAML конфигурации (секрет берётся из api.secret)")
		secretGen  = flag.Bool("secret-gen", false, "Сгенерировать новый секрет и выйти")
		subject    = flag.String("subject", "operator", "Субъект токена")
		canWrite   = flag.Bool("write", false, "Разрешить изменяющие запросы")
		ttl        = flag.Duration("ttl", 24*time.Hour, "Время жизни токена")
		verify     = flag.String("verify", "", "Проверить токен вместо выпуска")
	)
	flag.Parse()

	if *secretGen {
		secret, err := auth.GenerateSecureSecret()
		if err != nil {
			log.Fatalf("❌ Ошибка генерации секрета: %v", err)
		}
		fmt.Println(secret)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}
	secret := cfg.API.GetSecret()
	if secret == "" {
		fmt.Fprintln(os.Stderr, "Секрет не задан: api.secret или VOXEL_API_SECRET")
		os.Exit(2)
	}

	a, err := auth.NewAuthenticator(secret, "voxelstore")
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	if *verify != "" {
		claims, err := a.Validate(*verify)
		if err != nil {
			log.Fatalf("❌ %v", err)
		}
		fmt.Printf("subject=%s write=%t expires=%s\n", claims.Subject, claims.CanWrite, claims.ExpiresAt.Time.Format(time.RFC3339))
		return
	}

	token, err := a.IssueToken(*subject, *canWrite, *ttl)
	if err != nil {
		log.Fatalf("❌ Ошибка выпуска токена: %v", err)
	}
	fmt.Println(token)
}
