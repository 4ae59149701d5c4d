package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/hoppxi/wmlink/pkg/ipc/sway"
	"github.com/hoppxi/wmlink/pkg/ipc/wayfire"
	"github.com/spf13/cobra"
)

var msgType string

// rawRequest builds the frame the compositor expects for args:
//
//	sway      wmlink msg -t get_tree | wmlink msg workspace 2
//	hyprland  wmlink msg j/clients   | wmlink msg dispatch workspace 2
//	niri      wmlink msg Outputs     | wmlink msg '{"Action":{...}}'
//	wayfire   wmlink msg window-rules/list-views '{}'
func rawRequest(p ipc.Protocol, args []string) (ipc.Frame, error) {
	payload := strings.Join(args, " ")
	switch p.Name() {
	case "sway":
		typ := sway.Command
		if msgType != "" {
			t, ok := sway.MessageTypes[msgType]
			if !ok {
				n, err := strconv.ParseUint(msgType, 10, 32)
				if err != nil {
					return ipc.Frame{}, fmt.Errorf("unknown message type %q", msgType)
				}
				t = uint32(n)
			}
			typ = t
		}
		return ipc.NewFrame(typ, msgType, []byte(payload)), nil
	case "niri":
		if !json.Valid([]byte(payload)) {
			// bare request names like Outputs
			b, err := json.Marshal(payload)
			if err != nil {
				return ipc.Frame{}, err
			}
			return ipc.NewFrame(0, payload, b), nil
		}
		return ipc.NewFrame(0, "msg", []byte(payload)), nil
	case "wayfire":
		if len(args) == 0 {
			return ipc.Frame{}, fmt.Errorf("wayfire needs a method")
		}
		var data any
		if len(args) > 1 {
			if err := json.Unmarshal([]byte(strings.Join(args[1:], " ")), &data); err != nil {
				return ipc.Frame{}, fmt.Errorf("method data: %w", err)
			}
		}
		return wayfire.Call(args[0], data)
	}
	return ipc.NewFrame(0, "msg", []byte(payload)), nil
}

var msgCmd = &cobra.Command{
	Use:   "msg [flags] <request...>",
	Short: "Send a raw request to the compositor and print the reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := protocol()
		if err != nil {
			return err
		}
		req, err := rawRequest(p, args)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), daemonTimeout)
		defer cancel()
		c, err := ipc.Open(ctx, p, ipc.WithoutEvents(), ipc.WithoutBootstrap())
		if err != nil {
			return err
		}
		defer c.Close()

		resp, err := c.Request(ctx, req)
		if err != nil {
			return err
		}
		var out bytes.Buffer
		if err := json.Indent(&out, resp.Payload, "", "  "); err != nil {
			out.Reset()
			out.Write(resp.Payload)
		}
		out.WriteByte('\n')
		_, err = os.Stdout.Write(out.Bytes())
		return err
	},
}

func init() {
	msgCmd.Flags().StringVarP(&msgType, "type", "t", "", "sway message type, e.g. get_tree")
}
