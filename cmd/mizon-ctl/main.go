package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"mizon/internal/ipc"
	"mizon/internal/session"
)

const usage = `usage: mizon-ctl [-S socket] <command> [key=value ...]

commands:
  toggle    start or stop listening
  stop      stop listening, keep the session
  end       end the session
  connect   check the backends again
  config    update settings, e.g. config lang=ar autolisten=false
  state     print the session state
`

func main() {
	socket := cli.StringP("socket", "S", ipc.SocketPath, "Control socket path")
	cli.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	cli.Parse()

	if cli.NArg() == 0 {
		cli.Usage()
		os.Exit(2)
	}

	msg := ipc.ControlMessage{Cmd: cli.Arg(0), Args: cli.Args()[1:]}
	if msg.Cmd == "config" {
		// fail locally on typos instead of round-tripping them
		if _, err := session.ParsePartial(msg.Args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}

	r, err := ipc.SendCommand(*socket, msg)
	if err != nil {
		fmt.Println("mizon not running:", err)
		os.Exit(1)
	}
	if !r.OK {
		fmt.Println("error:", r.Error)
		os.Exit(1)
	}

	if msg.Cmd == "state" {
		var s session.Snapshot
		if err := json.Unmarshal(r.Data, &s); err != nil {
			fmt.Println("bad reply:", err)
			os.Exit(1)
		}
		fmt.Printf("session  %s\nstate    %s\nactive   %t\nconnected %t\nqueued   %d\nlanguage %s\n",
			s.SessionID, s.State, s.Active, s.Connected, s.Queued, s.Config.Language)
		for i, c := range s.Context {
			fmt.Printf("context  %d: %s\n", i+1, c)
		}
		if s.PendingConfig {
			fmt.Println("pending  config applies on next listen")
		}
		return
	}
	if len(r.Data) > 0 {
		var out bytes.Buffer
		if json.Indent(&out, r.Data, "", "  ") == nil {
			fmt.Println(out.String())
		}
	}
}
