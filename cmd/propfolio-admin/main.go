// propfolio-admin — операторская утилита propfolio.
// Команды очистки тестовых пользователей, подготовки dev-окружения,
// диагностики входа и портфеля, назначения ролей. Результат — JSON в stdout.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
