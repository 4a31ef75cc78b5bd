package main

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"time"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/lock"
	"github.com/matheus3301/pairchat/internal/paths"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	configFlag := flag.String("config", paths.ConfigPath(), "config file")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	cfg, err := config.Resolve(*configFlag)
	if err != nil {
		fail(err)
	}
	instance := paths.ResolveName(*instanceFlag, cfg)
	if err := paths.ValidateName(instance); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	layout := paths.Resolve(instance, cfg)
	if args[0] == "instances" {
		cmdInstances()
		return
	}
	if pid, held := lock.Probe(layout.Dir); !held {
		fail(fmt.Errorf("daemon for instance %q is not running", instance))
	} else if pid > 0 && !*jsonFlag {
		fmt.Fprintf(os.Stderr, "instance %q (pid %d)\n", instance, pid)
	}

	c, err := api.Dial(layout.SocketPath())
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for instance %q: %w", instance, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c.Admin, prefix)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		resp, err := c.Admin.GetStatus(ctx)
		output(resp, err, *jsonFlag, printStatus)
	case "presence":
		resp, err := c.Admin.ListPresence(ctx)
		output(resp, err, *jsonFlag, printPresence)
	case "users":
		if len(args) < 3 || args[1] != "create" {
			fmt.Fprintln(os.Stderr, "usage: pairchatctl users create <username> [first] [last]")
			os.Exit(1)
		}
		fields := map[string]any{"username": args[2]}
		if len(args) > 3 {
			fields["first_name"] = args[3]
		}
		if len(args) > 4 {
			fields["last_name"] = args[4]
		}
		in, _ := structpb.NewStruct(fields)
		resp, err := c.Admin.CreateUser(ctx, in)
		output(resp, err, *jsonFlag, printToken)
	case "token":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: pairchatctl token <username>")
			os.Exit(1)
		}
		in, _ := structpb.NewStruct(map[string]any{"username": args[1]})
		resp, err := c.Admin.IssueToken(ctx, in)
		output(resp, err, *jsonFlag, printToken)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: pairchatctl [--instance <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show coordinator status")
	fmt.Fprintln(os.Stderr, "  presence                        List cached users and presence")
	fmt.Fprintln(os.Stderr, "  users create <name> [first] [last]  Create a user and print a token")
	fmt.Fprintln(os.Stderr, "  token <username>                Issue a token for an existing user")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                  Stream events (chat., presence., conn.)")
	fmt.Fprintln(os.Stderr, "  instances                       List known instances")
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func output(resp *structpb.Struct, err error, jsonOut bool, human func(*structpb.Struct)) {
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	human(resp)
}

func outputJSON(m proto.Message) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
		return
	}
	fmt.Println(string(b))
}

func num(s *structpb.Struct, key string) int64 {
	return int64(s.GetFields()[key].GetNumberValue())
}

func str(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func printStatus(s *structpb.Struct) {
	fmt.Printf("Instance:     %s\n", str(s, "instance"))
	fmt.Printf("Uptime:       %s\n", (time.Duration(num(s, "uptime_ms")) * time.Millisecond).Round(time.Second))
	fmt.Printf("Connections:  %d\n", num(s, "connections"))
	fmt.Printf("Online users: %d\n", num(s, "online_users"))
	fmt.Printf("Users:        %d\n", num(s, "users"))
	fmt.Printf("Dialogs:      %d\n", num(s, "dialogs"))
	fmt.Printf("Messages:     %d\n", num(s, "messages"))
	fmt.Printf("Schema:       v%d\n", num(s, "schema_version"))
}

func printPresence(s *structpb.Struct) {
	users := s.GetFields()["users"].GetListValue().GetValues()
	if len(users) == 0 {
		fmt.Println("No users seen since start.")
		return
	}
	for _, v := range users {
		u := v.GetStructValue()
		state := "offline"
		if u.GetFields()["online"].GetBoolValue() {
			state = fmt.Sprintf("online (%d conn)", num(u, "connections"))
		} else if ms := num(u, "last_seen_ms"); ms > 0 {
			state = "last seen " + time.UnixMilli(ms).Format(time.DateTime)
		}
		fmt.Printf("%-24s %-38s %s\n", str(u, "username"), str(u, "id"), state)
	}
}

func printToken(s *structpb.Struct) {
	fmt.Printf("User:  %s (%s)\n", str(s, "username"), cmp.Or(str(s, "id"), str(s, "user_id")))
	fmt.Printf("Token: %s\n", str(s, "token"))
}

func cmdWatch(c *api.AdminClient, prefix string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	in, _ := structpb.NewStruct(map[string]any{"prefix": prefix})
	stream, err := c.WatchEvents(ctx, in)
	if err != nil {
		fail(err)
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		if err != nil {
			fail(err)
		}
		payload, _ := json.Marshal(evt.GetFields()["payload"].AsInterface())
		ts := time.UnixMilli(num(evt, "ts_ms")).Format("15:04:05.000")
		fmt.Printf("%s %-28s %s\n", ts, str(evt, "kind"), payload)
	}
}

func cmdInstances() {
	entries, err := os.ReadDir(paths.InstancesDir())
	if errors.Is(err, os.ErrNotExist) {
		fmt.Println("No instances found.")
		return
	}
	if err != nil {
		fail(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	for _, name := range names {
		l := paths.ForInstance(name)
		state := "stopped"
		if pid, held := lock.Probe(l.Dir); held {
			state = fmt.Sprintf("running (pid %d)", pid)
		}
		fmt.Printf("%-20s %s (%s)\n", name, l.Dir, state)
	}
}
