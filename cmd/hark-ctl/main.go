package main

import (
	"context"
	"fmt"
	"os"
	"time"

	cli "github.com/spf13/pflag"

	"hark/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket of the running pipeline")
	timeout := cli.DurationP("timeout", "t", 3*time.Second, "Time to wait for an answer")
	cli.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: hark-ctl [flags] status|abort\n")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdStatus
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := ipc.Send(ctx, *socket, cmd)
	if err != nil {
		fmt.Println("hark not running:", err)
		os.Exit(1)
	}
	if !resp.OK {
		fmt.Println("error:", resp.Error)
		os.Exit(1)
	}

	if st := resp.Status; st != nil {
		fmt.Printf("stage:    %s\n", st.Stage)
		fmt.Printf("use case: %s\n", st.UseCase)
		if st.Session != "" {
			fmt.Printf("session:  %s\n", st.Session)
		}
		fmt.Printf("turns:    %d\n", st.Turns)
		fmt.Printf("uptime:   %s\n", st.Uptime)
		return
	}
	fmt.Println("ok")
}
