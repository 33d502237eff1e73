// Command lwm2m-server runs a minimal LWM2M registration directory and
// management issuer, logging every registration event to stdout. It does
// not issue management requests on its own; it exists to exercise the
// registration interface end to end the way the teacher's cmd/coap
// exercises lb's CoAP bridging in isolation.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/go-lwm2m/lwm2m/server"
)

var flagListen = flag.String("listen", fmt.Sprintf(":%d", server.DefaultPort), "UDP address to bind the registration interface on")

type logrusAdapter struct{ *logrus.Logger }

func (l logrusAdapter) Printf(format string, v ...interface{}) { l.Infof(format, v...) }

func main() {
	flag.Parse()

	log := logrusAdapter{logrus.StandardLogger()}
	srv := server.New(server.Config{Addr: *flagListen}, log)
	srv.Directory.AddMonitor(func(info server.ClientInfo, event server.Event, userData interface{}) {
		log.Printf("registration event %s for %q at %s (objects=%v)", event, info.Name, info.Location, info.Objects)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		cancel()
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			fmt.Fprintf(os.Stderr, "serve: %s\n", err)
			os.Exit(1)
		}
	}
}
