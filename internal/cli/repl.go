package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface is the command surface the REPL dispatches to. *App satisfies
// it; tests provide a lightweight stub.
type execIface interface {
	hasUser() bool
	UserAdd(ctx context.Context, args []string) error
	UseUser(ctx context.Context, args []string) error
	List(ctx context.Context, args []string) error
	ChangeDir(ctx context.Context, args []string) error
	Mkdir(ctx context.Context, args []string) error
	Upload(ctx context.Context, args []string) error
	Download(ctx context.Context, args []string) error
	Remove(ctx context.Context, args []string) error
	Migrate(ctx context.Context, args []string) error
	Connect(ctx context.Context, args []string) error
	Disconnect(ctx context.Context, args []string) error
	Sweep(ctx context.Context, args []string) error
	DiskUsage(ctx context.Context, args []string) error
}

var errNoUser = errors.New("no user selected, run: user <id> or useradd <email>")

// runREPL reads a line from reader, parses the first token as the command
// and dispatches the rest as its arguments. The loop exits on EOF or when
// the user types "exit" or "quit".
//
// Commands:
//
//	help                              show available commands
//	useradd <email> [quota-bytes]     create a user and select it
//	user <id>                         select an existing user
//	ls [folder-id]                    list the current or given folder
//	cd <folder-id> | cd /             change the current folder
//	mkdir <name>                      create a folder in the current folder
//	upload <local-path> [backend]     upload a file into the current folder
//	download <file-id> <local-path>   download and decrypt a file
//	rm <id>                           delete a file or folder
//	migrate <file-id> <backend>       move a file's chunks to a remote backend
//	connect <backend>                 store credentials for a remote backend
//	disconnect <backend>              forget a remote backend
//	df                                show storage used against the quota
//	sweep                             remove abandoned uploads now
//	exit | quit                       leave the program
//
// Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("cv %s > ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var handler func(context.Context, []string) error
		needsUser := true

		switch cmd {
		case "help":
			if a.hasUser() {
				printlnFn("Available commands: ls, cd, mkdir, upload, download, rm, migrate, connect, disconnect, df, user, useradd, sweep, exit")
			} else {
				printlnFn("Available commands: useradd, user, sweep, exit")
			}
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		case "useradd":
			handler, needsUser = a.UserAdd, false
		case "user":
			handler, needsUser = a.UseUser, false
		case "sweep":
			handler, needsUser = a.Sweep, false
		case "l", "ls":
			handler = a.List
		case "cd":
			handler = a.ChangeDir
		case "mkdir":
			handler = a.Mkdir
		case "upload":
			handler = a.Upload
		case "download":
			handler = a.Download
		case "rm":
			handler = a.Remove
		case "migrate":
			handler = a.Migrate
		case "connect":
			handler = a.Connect
		case "disconnect":
			handler = a.Disconnect
		case "df":
			handler = a.DiskUsage
		default:
			printlnFn("Unknown command:", cmd)
			continue
		}

		if needsUser && !a.hasUser() {
			printlnFn("Error:", errNoUser)
			continue
		}
		if err := handler(ctx, args); err != nil {
			printlnFn("Error:", err)
		}
	}
}
