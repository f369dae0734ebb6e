package qtls

import (
	"testing"

	"github.com/bassosimone/qcore/internal/wire"
)

type secretInstall struct {
	direction Direction
	epoch     wire.Epoch
	secret    []byte
}

func TestDriverFullHandshake(t *testing.T) {
	var clientSecrets, serverSecrets []secretInstall

	client, err := NewDriver(DriverConfig{
		IsClient:          true,
		ServerName:        "example.test",
		ALPNProtocols:     []string{"h3"},
		SupportedVersions: []uint16{0x0304},
		OnSecret: func(dir Direction, epoch wire.Epoch, suite CipherSuite, secret []byte) {
			clientSecrets = append(clientSecrets, secretInstall{dir, epoch, secret})
		},
	})
	if err != nil {
		t.Fatalf("NewDriver(client): %v", err)
	}

	server, err := NewDriver(DriverConfig{
		IsClient:      false,
		ALPNProtocols: []string{"h3"},
		OnSecret: func(dir Direction, epoch wire.Epoch, suite CipherSuite, secret []byte) {
			serverSecrets = append(serverSecrets, secretInstall{dir, epoch, secret})
		},
	})
	if err != nil {
		t.Fatalf("NewDriver(server): %v", err)
	}

	clientHello := client.Drain()
	if len(clientHello) == 0 {
		t.Fatal("client did not produce a ClientHello")
	}

	if err := server.Feed(clientHello); err != nil {
		t.Fatalf("server.Feed(ClientHello): %v", err)
	}
	serverFlight := server.Drain()
	if len(serverFlight) == 0 {
		t.Fatal("server did not produce a flight after ClientHello")
	}
	if server.State() != StateExpectFinished {
		t.Fatalf("server state = %s, want EXPECT_FINISHED", server.State())
	}

	if err := client.Feed(serverFlight); err != nil {
		t.Fatalf("client.Feed(serverFlight): %v", err)
	}
	if client.State() != StatePostHandshake {
		t.Fatalf("client state = %s, want POST_HANDSHAKE", client.State())
	}
	if !client.Done {
		t.Fatal("client handshake did not complete")
	}
	if client.ALPNProtocol() != "h3" {
		t.Errorf("client ALPN = %q, want h3", client.ALPNProtocol())
	}

	clientFinished := client.Drain()
	if len(clientFinished) == 0 {
		t.Fatal("client did not produce a Finished message")
	}
	if err := server.Feed(clientFinished); err != nil {
		t.Fatalf("server.Feed(Finished): %v", err)
	}
	if server.State() != StatePostHandshake {
		t.Fatalf("server state = %s, want POST_HANDSHAKE", server.State())
	}
	if !server.Done {
		t.Fatal("server handshake did not complete")
	}

	if len(clientSecrets) == 0 || len(serverSecrets) == 0 {
		t.Fatal("expected traffic secrets to be installed on both sides")
	}
}

func TestDriverRejectsUnsupportedVersion(t *testing.T) {
	server, err := NewDriver(DriverConfig{IsClient: false})
	if err != nil {
		t.Fatalf("NewDriver(server): %v", err)
	}
	client, err := NewDriver(DriverConfig{IsClient: true, SupportedVersions: []uint16{0xfefe}})
	if err != nil {
		t.Fatalf("NewDriver(client): %v", err)
	}
	clientHello := client.Drain()

	err = server.Feed(clientHello)
	if err == nil {
		t.Fatal("expected an alert error for an unsupported version list")
	}
	if _, ok := err.(*AlertError); !ok {
		t.Fatalf("expected *AlertError, got %T: %v", err, err)
	}
}
