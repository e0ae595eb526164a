package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/memstate/pkg/client"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

var log = logrus.New()

// MemstateCLI is an interactive shell over the memstate HTTP API.
type MemstateCLI struct {
	client *client.Client
	out    io.Writer
}

func newMemstateCLI(c *client.Client, out io.Writer) *MemstateCLI {
	return &MemstateCLI{
		client: c,
		out:    out,
	}
}

func parseUint(s string, bitSize int) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, bitSize)
	if err != nil {
		return 0, errors.Errorf("%q is not a %d-bit unsigned number", s, bitSize)
	}
	return v, nil
}

func (cli *MemstateCLI) initialise(ctx context.Context, id, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "failed to read image")
	}
	return len(data), cli.client.Initialize(ctx, id, data)
}

// execute runs one command line. It returns false when the shell should exit.
func (cli *MemstateCLI) execute(ctx context.Context, input string) bool {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return true
	}
	command, args := fields[0], fields[1:]

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch command {
	case "init":
		if len(args) != 2 {
			fmt.Fprintln(cli.out, "Usage: init <id> <file>")
			return true
		}
		n, err := cli.initialise(ctx, args[0], args[1])
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to initialise %s: %v\n", args[0], err)
			return true
		}
		fmt.Fprintf(cli.out, "Initialised %s with %d bytes\n", args[0], n)

	case "zero":
		if len(args) != 2 {
			fmt.Fprintln(cli.out, "Usage: zero <id> <size>")
			return true
		}
		size, err := parseUint(args[1], 32)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid size: %v\n", err)
			return true
		}
		if err := cli.client.Initialize(ctx, args[0], make([]byte, size)); err != nil {
			fmt.Fprintf(cli.out, "Failed to initialise %s: %v\n", args[0], err)
			return true
		}
		fmt.Fprintf(cli.out, "Initialised %s with %d zero bytes\n", args[0], size)

	case "write":
		if len(args) != 3 {
			fmt.Fprintln(cli.out, "Usage: write <id> <address> <value>")
			return true
		}
		address, err := parseUint(args[1], 16)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid address: %v\n", err)
			return true
		}
		value, err := parseUint(args[2], 8)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid value: %v\n", err)
			return true
		}
		if err := cli.client.WriteByteAt(ctx, args[0], uint16(address), uint8(value)); err != nil {
			fmt.Fprintf(cli.out, "Failed to write: %v\n", err)
			return true
		}
		fmt.Fprintf(cli.out, "%s[%#x] = %#x\n", args[0], address, value)

	case "read":
		if len(args) != 2 {
			fmt.Fprintln(cli.out, "Usage: read <id> <address>")
			return true
		}
		address, err := parseUint(args[1], 16)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid address: %v\n", err)
			return true
		}
		value, err := cli.client.ReadByteAt(ctx, args[0], uint16(address))
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to read: %v\n", err)
			return true
		}
		fmt.Fprintf(cli.out, "%s[%#x] = %d (%#x)\n", args[0], address, value, value)

	case "range":
		if len(args) != 3 {
			fmt.Fprintln(cli.out, "Usage: range <id> <address> <length>")
			return true
		}
		address, err := parseUint(args[1], 16)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid address: %v\n", err)
			return true
		}
		length, err := parseUint(args[2], 16)
		if err != nil {
			fmt.Fprintf(cli.out, "Invalid length: %v\n", err)
			return true
		}
		data, err := cli.client.ReadRange(ctx, args[0], uint16(address), uint16(length))
		if err != nil {
			fmt.Fprintf(cli.out, "Failed to read range: %v\n", err)
			return true
		}
		fmt.Fprint(cli.out, hex.Dump(data))

	case "status":
		status, err := cli.client.Status(ctx)
		if err != nil {
			fmt.Fprintf(cli.out, "Server unreachable: %v\n", err)
			return true
		}
		fmt.Fprintf(cli.out, "Server status: %s\n", status)

	case "exit", "quit":
		return false

	case "help":
		fmt.Fprintln(cli.out, "Available commands:")
		fmt.Fprintln(cli.out, "  init <id> <file>               - Load a program image from a file")
		fmt.Fprintln(cli.out, "  zero <id> <size>               - Load a zero-filled image")
		fmt.Fprintln(cli.out, "  write <id> <address> <value>   - Write one byte")
		fmt.Fprintln(cli.out, "  read <id> <address>            - Read one byte")
		fmt.Fprintln(cli.out, "  range <id> <address> <length>  - Hex dump a range of bytes")
		fmt.Fprintln(cli.out, "  status                         - Check server health")
		fmt.Fprintln(cli.out, "  help                           - Show this help message")
		fmt.Fprintln(cli.out, "  exit                           - Exit the application")
		fmt.Fprintln(cli.out, "Numbers accept decimal or 0x-prefixed hex.")

	default:
		fmt.Fprintf(cli.out, "Unknown command: %s. Type 'help' for usage.\n", command)
	}
	return true
}

func (cli *MemstateCLI) run(ctx context.Context, in io.Reader) error {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(cli.out, "memstate> ")
		input, err := reader.ReadString('\n')
		if input = strings.TrimSpace(input); input != "" {
			if !cli.execute(ctx, input) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func main() {
	server := flag.String("server", "http://127.0.0.1:8000", "memstate server URL")
	prefix := flag.String("prefix", "", "API prefix (default /api/v1)")
	socks := flag.String("socks", "", "SOCKS5 proxy address, e.g. 127.0.0.1:9050 for Tor")
	flag.Parse()

	var opts []client.Option
	if *prefix != "" {
		opts = append(opts, client.WithAPIPrefix(*prefix))
	}
	if *socks != "" {
		opts = append(opts, client.WithSOCKS5(*socks))
	}

	c, err := client.New(*server, opts...)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	fmt.Printf("Connected to %s\n", *server)
	cli := newMemstateCLI(c, os.Stdout)
	if err := cli.run(context.Background(), os.Stdin); err != nil {
		log.Fatalf("CLI error: %v", err)
	}
}
