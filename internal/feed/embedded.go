package feed

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"

	"github.com/fyrsmithlabs/mindpalace/internal/config"
)

// EmbeddedOptions configures an in-process NATS server.
type EmbeddedOptions struct {
	Host string
	// Port -1 picks a random free port.
	Port  int
	Token config.Secret
}

// StartEmbedded runs a NATS server inside this process and waits until it
// accepts connections. Callers must Shutdown the returned server.
func StartEmbedded(opts EmbeddedOptions) (*natsserver.Server, error) {
	sopts := &natsserver.Options{
		Host:           opts.Host,
		Port:           opts.Port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}
	if opts.Token.IsSet() {
		sopts.Authorization = opts.Token.Value()
	}

	srv, err := natsserver.NewServer(sopts)
	if err != nil {
		return nil, fmt.Errorf("create embedded change feed: %w", err)
	}
	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		return nil, fmt.Errorf("embedded change feed not ready on %s:%d", opts.Host, opts.Port)
	}
	return srv, nil
}
