// fakeyun emulates Yun IoT runtime on serial port or stdin/stdout,
// for development without hardware.
package main

import (
	"context"
	"expvar"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/yunbridge/helpers"
	"github.com/temoto/yunbridge/log2"
	"github.com/temoto/yunbridge/tools/fakeyun"
	"go.bug.st/serial"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	devicePath := cmdline.String("device", "", "serial port, empty = stdin/stdout")
	baud := cmdline.Int("baud", 250000, "")
	broker := cmdline.String("broker", "", "MQTT broker URL, empty = in-process loopback with shadow service")
	chunk := cmdline.Int("chunk", fakeyun.DefaultChunkSize, "yield chunk size")
	listen := cmdline.String("listen", "", "expose loopback broker over MQTT TCP at host:port")
	launch := cmdline.String("launch", fakeyun.DefaultLaunch, "command entering protocol mode")
	debug := cmdline.Bool("debug", false, "")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	if *debug {
		log.SetLevel(log2.LDebug)
	}

	if *broker != "" && *listen != "" {
		log.Fatal("-listen requires loopback broker, remove -broker")
	}
	var backend fakeyun.Backend
	if *broker != "" {
		backend = fakeyun.NewPaho(*broker, log)
	} else {
		b := fakeyun.NewBroker()
		shadow := fakeyun.NewShadowService(b)
		defer shadow.Close()
		backend = fakeyun.NewLoopback(b)
		if *listen != "" {
			l, err := fakeyun.Listen(b, *listen, log)
			if err != nil {
				log.Fatal(errors.ErrorStack(err))
			}
			defer l.Close()
		}
	}
	rt := fakeyun.NewRuntime(backend, fakeyun.Options{Launch: *launch, ChunkSize: *chunk}, log)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var r io.Reader = os.Stdin
	var w io.Writer = os.Stdout
	echo := false
	if *devicePath != "" {
		port, err := serial.Open(*devicePath, &serial.Mode{BaudRate: *baud})
		if err != nil {
			log.Fatal(errors.ErrorStack(errors.Annotatef(err, "serial open device=%s", *devicePath)))
		}
		defer port.Close()
		if err = port.SetReadTimeout(100 * time.Millisecond); err != nil {
			log.Fatal(errors.ErrorStack(err))
		}
		r, w, echo = port, port, true
	}
	r = helpers.NewStatReader(r, expvar.NewInt("fakeyun_read_bytes"), 0)
	w = helpers.NewStatWriter(w, expvar.NewInt("fakeyun_write_bytes"), 0)
	defer func() { log.Infof("fakeyun exit traffic %s", expvarTraffic()) }()
	log.Infof("fakeyun serving device='%s' broker='%s'", *devicePath, *broker)
	if err := rt.Serve(ctx, r, w, echo); err != nil && errors.Cause(err) != context.Canceled {
		log.Error(errors.ErrorStack(err))
	}
}

func expvarTraffic() string {
	return "read=" + expvar.Get("fakeyun_read_bytes").String() +
		" write=" + expvar.Get("fakeyun_write_bytes").String()
}
