package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const helpText = "Available commands: help, list, get <id>, add, edit <id>, delete <id>, " +
	"search key=value..., count key=value..., token <username>, verify <token>, exit"

// Shell is the interactive command loop.
type Shell struct {
	Client *Client
	Prompt *Prompter
	Out    io.Writer
}

// NewShell returns a Shell reading commands from in.
func NewShell(c *Client, in io.Reader, out io.Writer) *Shell {
	return &Shell{Client: c, Prompt: NewPrompter(in, out), Out: out}
}

// Run reads commands until exit, EOF or ctx is done.
func (s *Shell) Run(ctx context.Context) {
	for ctx.Err() == nil {
		line, ok := s.Prompt.Line(s.Client.Resource + "> ")
		if !ok {
			return
		}
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		if args[0] == "exit" {
			fmt.Fprintln(s.Out, "Bye")
			return
		}
		s.exec(ctx, args[0], args[1:])
	}
}

func (s *Shell) exec(ctx context.Context, cmd string, args []string) {
	var (
		resp Response
		err  error
	)
	switch cmd {
	case "help":
		fmt.Fprintln(s.Out, helpText)
		return
	case "list":
		resp, err = s.Client.List(ctx)
	case "get", "delete", "edit":
		if len(args) != 1 {
			fmt.Fprintf(s.Out, "Usage: %s <id>\n", cmd)
			return
		}
		switch cmd {
		case "get":
			resp, err = s.Client.Get(ctx, args[0])
		case "delete":
			resp, err = s.Client.Delete(ctx, args[0])
		default:
			var set map[string]any
			if set, err = s.Prompt.Record(); err == nil {
				resp, err = s.Client.Update(ctx, args[0], set)
			}
		}
	case "add":
		var doc map[string]any
		if doc, err = s.Prompt.Record(); err == nil {
			resp, err = s.Client.Create(ctx, doc)
		}
	case "search", "count":
		params, perr := pairs(args)
		if perr != nil {
			fmt.Fprintln(s.Out, perr)
			return
		}
		if cmd == "search" {
			resp, err = s.Client.Search(ctx, params)
		} else {
			resp, err = s.Client.Count(ctx, params)
		}
	case "token", "verify":
		if len(args) != 1 {
			fmt.Fprintf(s.Out, "Usage: %s <value>\n", cmd)
			return
		}
		if cmd == "token" {
			resp, err = s.Client.IssueToken(ctx, args[0])
		} else {
			resp, err = s.Client.VerifyToken(ctx, args[0])
		}
	default:
		fmt.Fprintln(s.Out, "Unknown command. Type 'help' for a list of commands.")
		return
	}

	if err != nil {
		fmt.Fprintf(s.Out, "Error: %v\n", err)
		return
	}
	s.print(resp)
}

func (s *Shell) print(resp Response) {
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		fmt.Fprintf(s.Out, "Error: %v\n", err)
		return
	}
	fmt.Fprintln(s.Out, string(b))
}

func pairs(args []string) (url.Values, error) {
	params := url.Values{}
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid parameter %q, want key=value", a)
		}
		params.Add(k, v)
	}
	return params, nil
}
