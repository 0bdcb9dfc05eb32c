package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/temoto/yunbridge/config"
	"github.com/temoto/yunbridge/hardware/uart"
	yun "github.com/temoto/yunbridge/hardware/yun-client"
	"github.com/temoto/yunbridge/helpers/cli"
	"github.com/temoto/yunbridge/log2"
)

const usage = `syntax: command arguments separated by whitespace
- setup ID [clean=1] [version=4]
- config HOST PORT [CA KEY CERT]
- connect [keepalive_sec]
- pub TOPIC QOS PAYLOAD...        payload is rest of line
- sub TOPIC [QOS]
- unsub TOPIC
- yield                           deliver queued messages
- disconnect
- shadow-init THING
- shadow-get THING [timeout_sec]
- shadow-update THING JSON...
- shadow-delete THING [timeout_sec]
- delta THING / undelta THING
- draining SECONDS
- queueing SIZE [drop=1]          drop: 0=oldest 1=newest
- raw LINE...                     send one line, show reply
- stat
- log=yes / log=no
`

var log = log2.NewStderr(log2.LDebug)

type command struct {
	help    string
	minArgs int
	run     func(c *yun.Client, args []string, rest string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"setup": {"setup session", 1, func(c *yun.Client, a []string, _ string) error {
			clean := argDefault(a, 1, "1") == "1"
			version, err := strconv.Atoi(argDefault(a, 2, "4"))
			if err != nil {
				return errors.Annotate(err, "version")
			}
			return c.Setup(a[0], clean, yun.MQTTVersion(version))
		}},
		"config": {"broker endpoint", 2, func(c *yun.Client, a []string, _ string) error {
			port, err := strconv.Atoi(a[1])
			if err != nil {
				return errors.Annotate(err, "port")
			}
			return c.Configure(a[0], port, argDefault(a, 2, ""), argDefault(a, 3, ""), argDefault(a, 4, ""))
		}},
		"connect": {"connect to broker", 0, func(c *yun.Client, a []string, _ string) error {
			sec, err := strconv.Atoi(argDefault(a, 0, "0"))
			if err != nil {
				return errors.Annotate(err, "keepalive")
			}
			return c.Connect(time.Duration(sec) * time.Second)
		}},
		"pub": {"publish", 2, func(c *yun.Client, a []string, rest string) error {
			qos, err := strconv.Atoi(a[1])
			if err != nil {
				return errors.Annotate(err, "qos")
			}
			return c.Publish(a[0], restAfter(rest, 2), qos, false)
		}},
		"sub": {"subscribe", 1, func(c *yun.Client, a []string, _ string) error {
			qos, err := strconv.Atoi(argDefault(a, 1, "0"))
			if err != nil {
				return errors.Annotate(err, "qos")
			}
			return c.Subscribe(a[0], qos, printer(a[0]))
		}},
		"unsub": {"unsubscribe", 1, func(c *yun.Client, a []string, _ string) error {
			return c.Unsubscribe(a[0])
		}},
		"yield": {"deliver queued messages", 0, func(c *yun.Client, _ []string, _ string) error {
			return c.Yield()
		}},
		"disconnect": {"disconnect from broker", 0, func(c *yun.Client, _ []string, _ string) error {
			return c.Disconnect()
		}},
		"shadow-init": {"init thing shadow", 1, func(c *yun.Client, a []string, _ string) error {
			return c.ShadowInit(a[0])
		}},
		"shadow-get": {"request shadow document", 1, func(c *yun.Client, a []string, _ string) error {
			timeout, err := secondsArg(a, 1)
			if err != nil {
				return err
			}
			return c.ShadowGet(a[0], printer("shadow-get "+a[0]), timeout)
		}},
		"shadow-update": {"update shadow document", 2, func(c *yun.Client, a []string, rest string) error {
			return c.ShadowUpdate(a[0], restAfter(rest, 1), printer("shadow-update "+a[0]), 5*time.Second)
		}},
		"shadow-delete": {"delete shadow document", 1, func(c *yun.Client, a []string, _ string) error {
			timeout, err := secondsArg(a, 1)
			if err != nil {
				return err
			}
			return c.ShadowDelete(a[0], printer("shadow-delete "+a[0]), timeout)
		}},
		"delta": {"register shadow delta", 1, func(c *yun.Client, a []string, _ string) error {
			return c.ShadowRegisterDelta(a[0], printer("delta "+a[0]))
		}},
		"undelta": {"unregister shadow delta", 1, func(c *yun.Client, a []string, _ string) error {
			return c.ShadowUnregisterDelta(a[0])
		}},
		"draining": {"offline queue draining interval", 1, func(c *yun.Client, a []string, _ string) error {
			sec, err := strconv.ParseFloat(a[0], 64)
			if err != nil {
				return errors.Annotate(err, "seconds")
			}
			return c.SetDrainingInterval(time.Duration(sec * float64(time.Second)))
		}},
		"queueing": {"offline publish queue", 1, func(c *yun.Client, a []string, _ string) error {
			size, err := strconv.Atoi(a[0])
			if err != nil {
				return errors.Annotate(err, "size")
			}
			drop, err := strconv.Atoi(argDefault(a, 1, "1"))
			if err != nil {
				return errors.Annotate(err, "drop")
			}
			return c.ConfigOfflineQueueing(size, yun.DropBehavior(drop))
		}},
		"raw": {"send raw line", 1, func(c *yun.Client, _ []string, rest string) error {
			fmt.Printf("reply='%s'\n", c.Exec(restAfter(rest, 0)))
			return nil
		}},
		"stat": {"exchange counters", 0, func(c *yun.Client, _ []string, _ string) error {
			fmt.Printf("baud=%s subscriptions=%d %s\n", c.BaudType(), c.Subscriptions(), c.Stat())
			return nil
		}},
		"log=yes": {"log serial exchange", 0, func(c *yun.Client, _ []string, _ string) error {
			c.SetLog(log.Clone(log2.LDebug))
			return nil
		}},
		"log=no": {"stop logging serial exchange", 0, func(c *yun.Client, _ []string, _ string) error {
			c.SetLog(log)
			return nil
		}},
	}
}

func main() {
	cmdline := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := cmdline.String("config", "", "HCL config, flags override it")
	devicePath := cmdline.String("device", "", "serial port, default "+config.DefaultDevice)
	driver := cmdline.String("driver", "", "serial|file")
	debug := cmdline.Bool("debug", false, "log serial exchange")
	_ = cmdline.Parse(os.Args[1:])

	log.SetFlags(log2.LInteractiveFlags)
	if !*debug {
		log.SetLevel(log2.LInfo)
	}

	cfg := &config.Config{}
	if *configPath != "" {
		cfg = config.MustRead(log, config.NewOsFullReader(), *configPath)
	}
	if *devicePath != "" {
		cfg.Uart.Device = *devicePath
	}
	if *driver != "" {
		cfg.Uart.Driver = *driver
	}
	u, err := uart.New(cfg.Driver())
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	client := yun.NewClient(cfg.ClientConfig(), u, log)
	defer client.Close()

	if err = cli.MainLoop("yun-cli", newExecutor(client), newCompleter(), func() { _ = client.Close() }); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
}

func newCompleter() func(d prompt.Document) []prompt.Suggest {
	suggests := make([]prompt.Suggest, 0, len(commands)+1)
	for name, cmd := range commands {
		suggests = append(suggests, prompt.Suggest{Text: name, Description: cmd.help})
	}
	suggests = append(suggests, prompt.Suggest{Text: "help", Description: "show usage"})
	sort.Slice(suggests, func(i, j int) bool { return suggests[i].Text < suggests[j].Text })

	return func(d prompt.Document) []prompt.Suggest {
		if strings.ContainsRune(d.TextBeforeCursor(), ' ') {
			return nil
		}
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

func newExecutor(c *yun.Client) func(string) {
	return func(line string) {
		line = strings.TrimSpace(line)
		words := strings.Fields(line)
		if len(words) == 0 {
			return
		}
		if words[0] == "help" {
			log.Infof(usage)
			return
		}
		cmd, ok := commands[words[0]]
		if !ok {
			log.Errorf("unknown command=%s, try help", words[0])
			return
		}
		args := words[1:]
		if len(args) < cmd.minArgs {
			log.Errorf("%s requires %d arguments, try help", words[0], cmd.minArgs)
			return
		}
		rest := strings.TrimSpace(line[len(words[0]):])
		if err := cmd.run(c, args, rest); err != nil {
			log.Errorf("%s kind=%s err=%v", words[0], yun.KindOf(err), err)
			return
		}
		log.Infof("%s ok", words[0])
	}
}

// printer is yun.Handler writing message to stdout.
func printer(tag string) yun.Handler {
	return yun.HandlerFunc(func(payload []byte) {
		fmt.Printf("message %s payload='%s'\n", tag, payload)
	})
}

func argDefault(a []string, i int, def string) string {
	if i < len(a) {
		return a[i]
	}
	return def
}

func secondsArg(a []string, i int) (time.Duration, error) {
	sec, err := strconv.Atoi(argDefault(a, i, "5"))
	if err != nil {
		return 0, errors.Annotate(err, "timeout")
	}
	return time.Duration(sec) * time.Second, nil
}

// restAfter skips n whitespace separated words.
func restAfter(s string, n int) string {
	for i := 0; i < n; i++ {
		s = strings.TrimLeft(s, " \t")
		j := strings.IndexAny(s, " \t")
		if j < 0 {
			return ""
		}
		s = s[j:]
	}
	if n > 0 && len(s) > 0 {
		s = s[1:]
	}
	return s
}
