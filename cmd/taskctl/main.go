package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"taskmanager/internal/client"
	"taskmanager/internal/pkg/logger"
)

const usage = `usage: taskctl [-api URL] [-session FILE] [-v] <command> [flags]

commands:
  register -name N -email E -password P
  login    -email E -password P
  logout
  whoami
  list
  add      -title T [-description D] [-priority low|medium|high] [-status S] [-due DATE]
  get      ID
  update   ID [-title T] [-description D] [-priority P] [-status S] [-due DATE] [-clear-due]
  delete   ID
  users
`

func main() {
	log.SetFlags(0)

	apiURL := flag.String("api", envOr("TASKMANAGER_API", "http://localhost:8080"), "API base URL")
	sessionPath := flag.String("session", "", "session file (default ~/.taskmanager/session.json)")
	verbose := flag.Bool("v", false, "log session events to stderr")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	path := *sessionPath
	if path == "" {
		p, err := client.DefaultSessionPath()
		if err != nil {
			log.Fatalf("resolve session path: %v", err)
		}
		path = p
	}
	session, err := client.NewSession(client.FileStore{Path: path})
	if err != nil {
		log.Fatalf("load session: %v", err)
	}
	opts := []client.Option{}
	if *verbose {
		opts = append(opts, client.WithLogger(logger.New(os.Stderr, "debug", "text")))
	}
	c := client.New(*apiURL, session, opts...)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, c, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, client.ErrNotAuthenticated) {
			log.Fatalf("not logged in; run `taskctl login` first")
		}
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, c *client.Client, cmd string, args []string) error {
	switch cmd {
	case "register":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		name := fs.String("name", "", "display name")
		email := fs.String("email", "", "e-mail address")
		pass := fs.String("password", "", "password (min 6 characters)")
		_ = fs.Parse(args)
		res, err := c.Register(ctx, client.RegisterInput{Name: *name, Email: *email, Password: *pass})
		if err != nil {
			return err
		}
		return printJSON(res.User)

	case "login":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		email := fs.String("email", "", "e-mail address")
		pass := fs.String("password", "", "password")
		_ = fs.Parse(args)
		res, err := c.Login(ctx, *email, *pass)
		if err != nil {
			return err
		}
		return printJSON(res.User)

	case "logout":
		if err := c.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil

	case "whoami":
		id, ok := c.CurrentUserID()
		if !ok {
			return client.ErrNotAuthenticated
		}
		fmt.Println(id)
		return nil

	case "list":
		tasks, err := c.ListTasks(ctx)
		if err != nil {
			return err
		}
		return printJSON(tasks)

	case "add":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		in := client.TaskInput{}
		fs.StringVar(&in.Title, "title", "", "task title")
		fs.StringVar(&in.Description, "description", "", "task description")
		fs.StringVar(&in.Priority, "priority", "", "low, medium or high")
		fs.StringVar(&in.Status, "status", "", "pending, in-progress or completed")
		fs.StringVar(&in.DueDate, "due", "", "due date (YYYY-MM-DD or RFC 3339)")
		_ = fs.Parse(args)
		task, err := c.CreateTask(ctx, in)
		if err != nil {
			return err
		}
		return printJSON(task)

	case "get":
		id, err := taskID(args)
		if err != nil {
			return err
		}
		task, err := c.GetTask(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(task)

	case "update":
		id, err := taskID(args)
		if err != nil {
			return err
		}
		patch, err := parsePatch(args[1:])
		if err != nil {
			return err
		}
		task, err := c.UpdateTask(ctx, id, patch)
		if err != nil {
			return err
		}
		return printJSON(task)

	case "delete":
		id, err := taskID(args)
		if err != nil {
			return err
		}
		if err := c.DeleteTask(ctx, id); err != nil {
			return err
		}
		fmt.Println("Task deleted successfully")
		return nil

	case "users":
		users, err := c.ListUsers(ctx)
		if err != nil {
			return err
		}
		return printJSON(users)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// parsePatch only sends the flags that were given.
func parsePatch(args []string) (client.TaskPatch, error) {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	title := fs.String("title", "", "")
	desc := fs.String("description", "", "")
	priority := fs.String("priority", "", "")
	status := fs.String("status", "", "")
	due := fs.String("due", "", "")
	clearDue := fs.Bool("clear-due", false, "")
	if err := fs.Parse(args); err != nil {
		return client.TaskPatch{}, err
	}

	patch := client.TaskPatch{ClearDueDate: *clearDue}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			patch.Title = title
		case "description":
			patch.Description = desc
		case "priority":
			patch.Priority = priority
		case "status":
			patch.Status = status
		case "due":
			patch.DueDate = due
		}
	})
	return patch, nil
}

func taskID(args []string) (string, error) {
	if len(args) == 0 || args[0] == "" {
		return "", errors.New("task id is required")
	}
	return args[0], nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
