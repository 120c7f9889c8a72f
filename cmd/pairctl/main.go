package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"os"

	"golang.org/x/term"

	"github.com/barnettlynn/atvpair/cmd/pairctl/internal/config"
	"github.com/barnettlynn/atvpair/credentials"
	"github.com/barnettlynn/atvpair/pairing"
	"github.com/barnettlynn/atvpair/storage"
	"github.com/barnettlynn/atvpair/transport"
)

func main() {
	configPath := flag.String("config", "pairctl.yaml", "path to pairctl's YAML config")
	pin := flag.String("pin", "", "pairing PIN; prompted on the terminal if omitted")
	transient := flag.Bool("transient", false, "request an ephemeral (non-persisted) pairing")
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pinValue := *pin
	if pinValue == "" {
		pinValue, err = promptPIN()
		if err != nil {
			log.Fatalf("read PIN failed: %v", err)
		}
	}

	store, err := storage.Open(cfg.StorePath)
	if err != nil {
		log.Fatalf("open settings store failed: %v", err)
	}

	creds, err := runPairSetup(cfg, pinValue, *transient)
	if err != nil {
		log.Fatalf("pair-setup failed: %v", err)
	}
	slog.Info("pair-setup complete", "variant", creds.Variant())

	protocol := storageProtocol(cfg.Transport)
	store.SetCredentials(cfg.DeviceID, protocol, creds)
	if changed, err := store.Save(); err != nil {
		log.Fatalf("save credentials failed: %v", err)
	} else if changed {
		fmt.Printf("Saved credentials for %s (%s)\n", cfg.DeviceID, protocol)
	}
}

func promptPIN() (string, error) {
	fmt.Fprint(os.Stderr, "Enter PIN: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func storageProtocol(t config.Transport) storage.Protocol {
	switch t {
	case config.TransportMRP:
		return storage.MRP
	case config.TransportCompanion:
		return storage.Companion
	default:
		return storage.AirPlay
	}
}

func runPairSetup(cfg *config.Config, pin string, transientOnly bool) (credentials.Credentials, error) {
	client, err := pairing.NewSetupClient(pin, pairing.SetupOptions{
		Transient:   transientOnly,
		DisplayName: cfg.DisplayName,
	})
	if err != nil {
		return credentials.Credentials{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), transport.DefaultTimeout*3)
	defer cancel()

	switch cfg.Transport {
	case config.TransportAirPlay:
		carrier := transport.NewAirPlayCarrier(cfg.Address, nil)
		return driveAirPlaySetup(ctx, carrier, client)
	case config.TransportMRP:
		conn, err := net.DialTimeout("tcp", cfg.Address, transport.DefaultTimeout)
		if err != nil {
			return credentials.Credentials{}, err
		}
		defer conn.Close()
		carrier := transport.NewMRPCarrier(conn)
		return driveMRPSetup(ctx, carrier, client)
	default:
		conn, err := net.DialTimeout("tcp", cfg.Address, transport.DefaultTimeout)
		if err != nil {
			return credentials.Credentials{}, err
		}
		defer conn.Close()
		carrier := transport.NewCompanionCarrier(conn)
		return driveCompanionSetup(ctx, carrier, client)
	}
}

func driveAirPlaySetup(ctx context.Context, carrier *transport.AirPlayCarrier, client *pairing.SetupClient) (credentials.Credentials, error) {
	m2, err := carrier.PairSetup(ctx, client.M1())
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4, err := client.M3(m2)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4reply, err := carrier.PairSetup(ctx, m4)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6, err := client.M5(m4reply)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6reply, err := carrier.PairSetup(ctx, m6)
	if err != nil {
		return credentials.Credentials{}, err
	}
	return client.Finish(m6reply)
}

func driveMRPSetup(ctx context.Context, carrier *transport.MRPCarrier, client *pairing.SetupClient) (credentials.Credentials, error) {
	m2, err := carrier.PairSetup(ctx, client.M1())
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4, err := client.M3(m2)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4reply, err := carrier.PairSetup(ctx, m4)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6, err := client.M5(m4reply)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6reply, err := carrier.PairSetup(ctx, m6)
	if err != nil {
		return credentials.Credentials{}, err
	}
	return client.Finish(m6reply)
}

func driveCompanionSetup(ctx context.Context, carrier *transport.CompanionCarrier, client *pairing.SetupClient) (credentials.Credentials, error) {
	m2, err := carrier.PairSetupStart(ctx, client.M1())
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4, err := client.M3(m2)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m4reply, err := carrier.PairSetupNext(ctx, m4)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6, err := client.M5(m4reply)
	if err != nil {
		return credentials.Credentials{}, err
	}
	m6reply, err := carrier.PairSetupNext(ctx, m6)
	if err != nil {
		return credentials.Credentials{}, err
	}
	return client.Finish(m6reply)
}
