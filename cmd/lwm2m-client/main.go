// Command lwm2m-client runs a minimal LWM2M endpoint exposing a single
// read-only Device object (id=3), wiring client.Client to a real UDP
// socket the way the teacher's cmd/proxy wires lb.CoAPHTTP to one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-lwm2m/lwm2m/client"
	"github.com/go-lwm2m/lwm2m"
	"github.com/go-lwm2m/lwm2m/object"
	"github.com/go-lwm2m/lwm2m/tlv"
)

var (
	flagEndpoint = flag.String("ep", "go-lwm2m-client", "endpoint name to register as")
	flagServer   = flag.String("server", "coap://127.0.0.1:5683", "LWM2M server URI")
	flagListen   = flag.String("listen", ":56830", "local UDP address to serve the management interface on")
	flagLifetime = flag.Uint("lifetime", 300, "registration lifetime in seconds")
)

const (
	deviceObjectID         = 3
	resourceManufacturer   = 0
	resourceModelNumber    = 1
	resourceSerialNumber   = 2
	resourceCurrentTime    = 13
	deviceInstanceID       = 0
	deviceObjectResourceCt = 14
)

func deviceDescriptor(startedAt time.Time) *object.Descriptor {
	return &object.Descriptor{
		ID:            deviceObjectID,
		ResourceCount: deviceObjectResourceCt,
		Capabilities:  object.CapRead,
		Read: func(inst *object.Instance, resourceID uint16) (*tlv.Resource, error) {
			switch resourceID {
			case resourceManufacturer:
				return tlv.NewSingleString(resourceID, "go-lwm2m"), nil
			case resourceModelNumber:
				return tlv.NewSingleString(resourceID, "core-demo"), nil
			case resourceSerialNumber:
				return tlv.NewSingleString(resourceID, "0001"), nil
			case resourceCurrentTime:
				return tlv.NewSingleInt(resourceID, int64(time.Since(startedAt).Seconds()), true), nil
			default:
				return nil, lwm2m.New(lwm2m.KindNotFound, "device resource %d not implemented", resourceID)
			}
		},
	}
}

func main() {
	flag.Parse()

	log := client.NewLogger()
	startedAt := time.Now()

	cfg := client.Config{
		Name:        *flagEndpoint,
		Descriptors: []*object.Descriptor{deviceDescriptor(startedAt)},
	}
	c := client.New(cfg, log)
	if _, err := c.Registry.AddInstance(deviceObjectID, deviceInstanceID, nil); err != nil {
		fmt.Fprintf(os.Stderr, "add device instance: %s\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := c.AddServer(ctx, client.ServerConfig{
		URI:             *flagServer,
		LifetimeSeconds: uint32(*flagLifetime),
		Binding:         lwm2m.BindingU,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %s\n", *flagServer, err)
		os.Exit(1)
	}
	c.StartAll()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := c.Serve(ctx, "udp", *flagListen); err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "serve: %s\n", err)
		}
	}()

	<-sigCh
	c.StopAll()
	cancel()
}
