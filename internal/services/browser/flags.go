package browser

import (
	"fmt"
	"os"
	"runtime"
)

const (
	windowWidth  = 1280
	windowHeight = 720
)

// flag is one browser command line switch; an empty value means a bare switch
type flag struct {
	name  string
	value string
}

// launchFlags returns the switches shared by every backend, without the user data dir
func launchFlags(headless bool) []flag {
	flags := []flag{
		{name: "disable-blink-features", value: "AutomationControlled"},
		{name: "disable-extensions"},
		{name: "disable-gpu"},
		{name: "no-first-run"},
		{name: "no-default-browser-check"},
	}
	if runtime.GOOS != "windows" {
		flags = append(flags, flag{name: "disable-dev-shm-usage"})
		if os.Geteuid() == 0 {
			flags = append(flags, flag{name: "no-sandbox"})
		}
	}
	if headless {
		flags = append(flags,
			flag{name: "headless", value: "new"},
			flag{name: "window-size", value: fmt.Sprintf("%d,%d", windowWidth, windowHeight)},
		)
	}
	return flags
}

// args renders flags as command line arguments
func args(flags []flag) []string {
	out := make([]string, 0, len(flags))
	for _, f := range flags {
		if f.value == "" {
			out = append(out, "--"+f.name)
			continue
		}
		out = append(out, "--"+f.name+"="+f.value)
	}
	return out
}
