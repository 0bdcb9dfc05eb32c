// yun-bridge keeps MQTT session on Arduino Yun runtime.
// Inbound messages are printed to stdout as JSON lines,
// JSON lines read from stdin are published through persistent outbox.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/yunbridge/bridge"
	"github.com/temoto/yunbridge/config"
	"github.com/temoto/yunbridge/hardware/uart"
	"github.com/temoto/yunbridge/log2"
)

type wireMessage struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Qos     int    `json:"qos,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
}

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "yunbridge.hcl", "")
	flag.Parse()

	if sdnotify("start") {
		// we're under systemd, assume systemd journal logging, remove timestamp
		log.SetFlags(log2.LServiceFlags)
	} else {
		log.SetFlags(log2.LInteractiveFlags)
	}

	cfg := config.MustRead(log, config.NewOsFullReader(), *flagConfig)
	if cfg.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	u, err := uart.New(cfg.Driver())
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	b, err := bridge.New(cfg, u, log)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	var outMu sync.Mutex
	out := json.NewEncoder(os.Stdout)
	b.OnMessage = func(topic string, payload []byte) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := out.Encode(wireMessage{Topic: topic, Payload: string(payload)}); err != nil {
			log.Errorf("stdout err=%v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		log.Infof("signal=%v stopping", s)
		cancel()
	}()

	if err = b.StartRetry(ctx); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	go readStdin(b)
	sdnotify(daemon.SdNotifyReady)

	err = b.Run(ctx)
	sdnotify(daemon.SdNotifyStopping)
	b.Stop()
	if err != nil && errors.Cause(err) != context.Canceled {
		log.Fatal(errors.ErrorStack(err))
	}
}

func readStdin(b *bridge.Bridge) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		var m wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			log.Errorf("stdin line='%s' err=%v", scanner.Text(), err)
			continue
		}
		if err := b.Publish(m.Topic, []byte(m.Payload), m.Qos, m.Retain); err != nil {
			log.Errorf("publish topic=%s err=%v", m.Topic, err)
		}
	}
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
