package api

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn is an admin connection to a running daemon.
type Conn struct {
	conn  *grpc.ClientConn
	Admin *AdminClient
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Conn, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Conn{conn: conn, Admin: NewAdminClient(conn)}, nil
}

// Close closes the gRPC connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}
