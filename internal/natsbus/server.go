package natsbus

import (
	"fmt"
	"os"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/config"
	natsserver "github.com/nats-io/nats-server/v2/server"
)

// Bus is an embedded NATS server with JetStream enabled. It backs the
// `swarmvote broker` command and the broker tests; robots only ever talk to
// it through a Client.
type Bus struct {
	server *natsserver.Server
	cfg    config.NATSConfig
}

func New(cfg config.NATSConfig) (*Bus, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create nats data dir: %w", err)
	}

	opts := &natsserver.Options{
		Port:      cfg.Port,
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  cfg.DataDir,
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("nats server not ready")
	}

	return &Bus{
		server: ns,
		cfg:    cfg,
	}, nil
}

func (b *Bus) ClientURL() string {
	return b.server.ClientURL()
}

// Config returns the bus settings with URL pointing at this server, suitable
// for handing to NewClient.
func (b *Bus) Config() config.NATSConfig {
	cfg := b.cfg
	cfg.URL = b.ClientURL()
	return cfg
}

func (b *Bus) NumClients() int {
	return b.server.NumClients()
}

func (b *Bus) Close() {
	b.server.Shutdown()
	b.server.WaitForShutdown()
}
