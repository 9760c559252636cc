// Command microfs mounts (or formats) a microfs image and opens an
// interactive shell over it, the way the teacher's main.go builds an
// ishell.Shell and registers one command per vfsapi operation.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/abiosoft/ishell"
	"github.com/janopa/microfs/internal/bridge"
	"github.com/janopa/microfs/internal/microfs"
	"github.com/janopa/microfs/shell"
	"github.com/sirupsen/logrus"
)

func main() {
	noFormat := flag.Bool("noformat", false, "mount an existing image instead of formatting a new one")
	blockCount := flag.Uint("blocks", 4096, "number of data+metadata blocks when formatting")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: microfs [-noformat] [-blocks N] <image-path>")
		os.Exit(1)
	}
	imagePath := flag.Arg(0)

	log := logrus.NewEntry(logrus.StandardLogger())

	var fs *microfs.Filesystem
	var err error
	if *noFormat {
		fs, err = microfs.Mount(imagePath, 4096, log)
	} else {
		fs, err = microfs.Format(imagePath, 4096, uint32(*blockCount), log)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = fs.Unmount() }()

	sh := ishell.New()
	sh.SetPrompt("/ > ")

	state := &shell.State{
		Table: bridge.New(fs),
		FS:    fs,
		Cwd:   "/",
		Log:   log,
	}
	sh.Set("state", state)
	sh.Set("image_path", imagePath)

	sh.AddCmd(&ishell.Cmd{Name: "format", Func: shell.Format})
	sh.AddCmd(&ishell.Cmd{Name: "load", Func: shell.Load})
	sh.AddCmd(&ishell.Cmd{Name: "mkdir", Func: shell.Mkdir})
	sh.AddCmd(&ishell.Cmd{Name: "ls", Func: shell.Ls})
	sh.AddCmd(&ishell.Cmd{Name: "rmdir", Func: shell.Rmdir})
	sh.AddCmd(&ishell.Cmd{Name: "rm", Func: shell.Rm})
	sh.AddCmd(&ishell.Cmd{Name: "mv", Func: shell.Mv})
	sh.AddCmd(&ishell.Cmd{Name: "cd", Func: shell.Cd})
	sh.AddCmd(&ishell.Cmd{Name: "pwd", Func: shell.Pwd})
	sh.AddCmd(&ishell.Cmd{Name: "cat", Func: shell.Cat})
	sh.AddCmd(&ishell.Cmd{Name: "cp", Func: shell.Cp})
	sh.AddCmd(&ishell.Cmd{Name: "incp", Func: shell.Incp})
	sh.AddCmd(&ishell.Cmd{Name: "outcp", Func: shell.Outcp})
	sh.AddCmd(&ishell.Cmd{Name: "check", Func: shell.Check})

	sh.Run()
}
