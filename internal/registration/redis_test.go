package registration

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// redisURL запускает Redis в контейнере.
func redisURL(t *testing.T) string {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Не удалось запустить Redis контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestMachine_RedisStore(t *testing.T) {
	store, err := NewRedisStore(redisURL(t), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()

	if status, msg := store.CheckReady(); status != "ok" {
		t.Fatalf("CheckReady: %s %s", status, msg)
	}
	runFlow(t, store)
}

func TestRedisStore_TTL(t *testing.T) {
	store, err := NewRedisStore(redisURL(t), time.Second)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	_ = store.Save(ctx, 9, &State{Step: StepWaitingPhone})
	time.Sleep(1500 * time.Millisecond)
	if st, _ := store.Get(ctx, 9); st != nil {
		t.Errorf("состояние должно истечь: %+v", st)
	}
}
