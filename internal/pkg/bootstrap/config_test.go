package bootstrap

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "seckill-service", cfg.App.Name)
	assert.True(t, cfg.Seckill.ReleasePolicy.OnTransientFailure)
	assert.False(t, cfg.Seckill.ReleasePolicy.OnBusinessFailure)
	assert.Equal(t, 50*time.Millisecond, cfg.Seckill.Pipeline.EnqueueTimeout)
}

func TestLoadConfigFileAndEnvOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seckill.yaml")
	content := `
app:
  port: 9000
seckill:
  limiter:
    capacity: 50
    refill_per_second: 25
  pipeline:
    queue_size: 8
    workers: 2
    enqueue_timeout: 10ms
    materialize_timeout: 1s
  maintenance:
    warm_up: ["p-1", "p-2"]
infra:
  store:
    driver: memory
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.App.Port)
	assert.Equal(t, 50, cfg.Seckill.Limiter.Capacity)
	assert.Equal(t, 25.0, cfg.Seckill.Limiter.RefillPerSecond)
	assert.Equal(t, 8, cfg.Seckill.Pipeline.QueueSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Seckill.Pipeline.EnqueueTimeout)
	assert.Equal(t, []string{"p-1", "p-2"}, cfg.Seckill.Maintenance.WarmUp)
	assert.Equal(t, "memory", cfg.Infra.Store.Driver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Infra.Kafka.BrokerList())
	// 未在文件中出现的字段保持默认值
	assert.Equal(t, time.Hour, cfg.Seckill.Eligibility.TTL)
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "etcd")
	_, err := LoadConfig("")
	assert.Error(t, err)
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLConfig{Host: "db", Port: 3307, User: "u", Password: "p@ss", Database: "seckill"}.DSN()
	assert.Contains(t, dsn, "u:p@ss@tcp(db:3307)/seckill")
	assert.Contains(t, dsn, "parseTime=true")
}

func TestKafkaInstanceGroupIDIsPerInstance(t *testing.T) {
	k := KafkaConfig{GroupID: "seckill-service"}

	a := k.InstanceGroupID("host-a", 1)
	b := k.InstanceGroupID("host-b", 1)
	assert.Equal(t, "seckill-service-host-a-1", a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, k.InstanceGroupID("host-a", 2), "two nodes on one host")
	assert.Equal(t, "seckill-service-unknown-3", k.InstanceGroupID("", 3))
}

func TestLoadConfigPaymentDiscovery(t *testing.T) {
	t.Setenv("PAYMENT_BASE_URL", "")
	_, err := LoadConfig("")
	assert.Error(t, err, "no base_url and nacos disabled")

	t.Setenv("NACOS_ENABLED", "true")
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Infra.Payment.BaseURL)
	assert.Equal(t, "payment-service", cfg.Infra.Payment.ServiceName)
	assert.Equal(t, 2*time.Second, cfg.Seckill.Eligibility.SoldOutTTL)
}
